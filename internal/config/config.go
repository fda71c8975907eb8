package config

import (
	"fmt"
	"strings"

	"github.com/paytrack-next/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Queue      QueueConfig      `mapstructure:"queue"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Security   SecurityConfig   `mapstructure:"security"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	Conversion ConversionConfig `mapstructure:"conversion"`
	Retry      RetryConfig      `mapstructure:"retry"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// JWTConfig JWT 配置
type JWTConfig struct {
	SecretKey   string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	LoginRateLimit LoginRateLimitConfig `mapstructure:"login_rate_limit"`
	PasswordPolicy PasswordPolicyConfig `mapstructure:"password_policy"`
}

// LoginRateLimitConfig 登录限流配置
type LoginRateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxAttempts   int `mapstructure:"max_attempts"`
}

// PasswordPolicyConfig 密码策略配置
type PasswordPolicyConfig struct {
	MinLength      int  `mapstructure:"min_length"`
	RequireUpper   bool `mapstructure:"require_upper"`
	RequireLower   bool `mapstructure:"require_lower"`
	RequireNumber  bool `mapstructure:"require_number"`
	RequireSpecial bool `mapstructure:"require_special"`
}

// PaymentConfig 支付提供方配置
type PaymentConfig struct {
	Provider string             `mapstructure:"provider"` // square / stripe
	Currency string             `mapstructure:"currency"`
	Square   SquareConfig       `mapstructure:"square"`
	Stripe   StripePayConfig    `mapstructure:"stripe"`
	Failure  PaymentFailureOpts `mapstructure:"failure"`
}

// SquareConfig Square 支付配置
type SquareConfig struct {
	AccessToken string `mapstructure:"access_token"`
	LocationID  string `mapstructure:"location_id"`
	Environment string `mapstructure:"environment"` // sandbox / production
	APIBaseURL  string `mapstructure:"api_base_url"`
	TimeoutMS   int    `mapstructure:"timeout_ms"`
}

// StripePayConfig Stripe 支付配置
type StripePayConfig struct {
	SecretKey  string `mapstructure:"secret_key"`
	APIBaseURL string `mapstructure:"api_base_url"`
	TimeoutMS  int    `mapstructure:"timeout_ms"`
}

// PaymentFailureOpts 支付失败记录配置
type PaymentFailureOpts struct {
	Enabled bool `mapstructure:"enabled"`
}

// ConversionConfig 转化上报配置
type ConversionConfig struct {
	Destinations          []DestinationConfig `mapstructure:"destinations"`
	PixelIDs              string              `mapstructure:"pixel_ids"`     // 兼容旧环境变量：逗号分隔
	AccessTokens          string              `mapstructure:"access_tokens"` // 与 pixel_ids 按位对应
	TestEventCode         string              `mapstructure:"test_event_code"`
	APIBaseURL            string              `mapstructure:"api_base_url"`
	APIVersion            string              `mapstructure:"api_version"`
	EventSourceFallback   string              `mapstructure:"event_source_fallback_url"`
	DispatchTimeoutMS     int                 `mapstructure:"dispatch_timeout_ms"`
	MaxAttempts           int                 `mapstructure:"max_attempts"`
	RefreshStatusOnQuery  bool                `mapstructure:"refresh_status_on_query"`
	VerifyChargeWithQuery bool                `mapstructure:"verify_charge_with_query"`
}

// DestinationConfig 单个上报目标配置
type DestinationConfig struct {
	PixelID       string `mapstructure:"pixel_id"`
	AccessToken   string `mapstructure:"access_token"`
	TestEventCode string `mapstructure:"test_event_code"`
}

// RetryConfig 补偿重试配置
type RetryConfig struct {
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	SweepBatchSize       int `mapstructure:"sweep_batch_size"`
	AbandonAfterHours    int `mapstructure:"abandon_after_hours"` // 0 表示永不放弃
}

// ResolveDestinations 归一化上报目标列表。
// 优先使用显式 destinations 列表；为兼容旧部署，pixel_ids/access_tokens
// 逗号分隔串会被按位拆分合并进来。缺少 pixel_id 或 access_token 的条目被丢弃。
func (c ConversionConfig) ResolveDestinations() []DestinationConfig {
	var out []DestinationConfig
	for _, d := range c.Destinations {
		d.PixelID = strings.TrimSpace(d.PixelID)
		d.AccessToken = strings.TrimSpace(d.AccessToken)
		if d.PixelID == "" || d.AccessToken == "" {
			logger.Warnw("conversion_destination_skipped", "pixel_id", d.PixelID)
			continue
		}
		if d.TestEventCode == "" {
			d.TestEventCode = strings.TrimSpace(c.TestEventCode)
		}
		out = append(out, d)
	}

	pixels := splitCSV(c.PixelIDs)
	tokens := splitCSV(c.AccessTokens)
	for i, pixel := range pixels {
		if i >= len(tokens) {
			logger.Warnw("conversion_destination_skipped", "pixel_id", pixel, "reason", "missing_access_token")
			break
		}
		out = append(out, DestinationConfig{
			PixelID:       pixel,
			AccessToken:   tokens[i],
			TestEventCode: strings.TrimSpace(c.TestEventCode),
		})
	}
	return out
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load 从 config.yml 加载配置
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")     // 从当前目录查找
	viper.AddConfigPath("./")    // 备用路径
	viper.AddConfigPath("../")   // 如果从 cmd/server 运行
	viper.AddConfigPath("./etc") // etc 文件夹

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("log.dir", "")
	viper.SetDefault("log.filename", "paytrack.log")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.max_age_days", 30)
	viper.SetDefault("log.compress", true)
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "./db/paytrack.db")
	viper.SetDefault("database.pool.max_open_conns", 1)
	viper.SetDefault("database.pool.max_idle_conns", 1)
	viper.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	viper.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expire_hours", 24)
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "127.0.0.1")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.prefix", "pt")
	viper.SetDefault("queue.enabled", true)
	viper.SetDefault("queue.host", "127.0.0.1")
	viper.SetDefault("queue.port", 6379)
	viper.SetDefault("queue.password", "")
	viper.SetDefault("queue.db", 1)
	viper.SetDefault("queue.concurrency", 10)
	viper.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"X-Requested-With",
	})
	viper.SetDefault("cors.allow_credentials", true)
	viper.SetDefault("cors.max_age", 600)
	viper.SetDefault("security.login_rate_limit.window_seconds", 300)
	viper.SetDefault("security.login_rate_limit.max_attempts", 5)
	viper.SetDefault("security.password_policy.min_length", 8)
	viper.SetDefault("security.password_policy.require_upper", true)
	viper.SetDefault("security.password_policy.require_lower", true)
	viper.SetDefault("security.password_policy.require_number", true)
	viper.SetDefault("security.password_policy.require_special", false)
	viper.SetDefault("payment.provider", "square")
	viper.SetDefault("payment.currency", "USD")
	viper.SetDefault("payment.square.access_token", "")
	viper.SetDefault("payment.square.location_id", "")
	viper.SetDefault("payment.square.environment", "sandbox")
	viper.SetDefault("payment.square.api_base_url", "")
	viper.SetDefault("payment.square.timeout_ms", 10000)
	viper.SetDefault("payment.stripe.secret_key", "")
	viper.SetDefault("payment.stripe.api_base_url", "")
	viper.SetDefault("payment.stripe.timeout_ms", 10000)
	viper.SetDefault("payment.failure.enabled", true)
	viper.SetDefault("conversion.destinations", []map[string]interface{}{})
	viper.SetDefault("conversion.pixel_ids", "")
	viper.SetDefault("conversion.access_tokens", "")
	viper.SetDefault("conversion.test_event_code", "")
	viper.SetDefault("conversion.api_base_url", "")
	viper.SetDefault("conversion.api_version", "")
	viper.SetDefault("conversion.event_source_fallback_url", "https://perfectbodyme.co/thanks")
	viper.SetDefault("conversion.dispatch_timeout_ms", 10000)
	viper.SetDefault("conversion.max_attempts", 3)
	viper.SetDefault("conversion.refresh_status_on_query", true)
	viper.SetDefault("conversion.verify_charge_with_query", true)
	viper.SetDefault("retry.sweep_interval_seconds", 60)
	viper.SetDefault("retry.sweep_batch_size", 100)
	viper.SetDefault("retry.abandon_after_hours", 168)

	// 环境变量支持
	viper.AutomaticEnv()                                   // 自动读取环境变量
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 将 . 替换为 _ (例如 server.port -> SERVER_PORT)

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}

	return &cfg
}
