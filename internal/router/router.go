package router

import (
	"fmt"
	"strings"

	"github.com/paytrack-next/internal/cache"
	"github.com/paytrack-next/internal/config"
	"github.com/paytrack-next/internal/constants"
	adminhandlers "github.com/paytrack-next/internal/http/handlers/admin"
	publichandlers "github.com/paytrack-next/internal/http/handlers/public"
	"github.com/paytrack-next/internal/logger"
	"github.com/paytrack-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	// 初始化 Handler（按前台/后台分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = constants.RedisPrefixDefault
	}
	redisClient := cache.Client()
	adminLoginRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:admin_login", redisPrefix),
		WindowSeconds: cfg.Security.LoginRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.LoginRateLimit.MaxAttempts,
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	// 公开接口：归因采集 + 结算 + 转化回调
	api := r.Group("/api")
	{
		api.POST("/store-fb-data", publicHandler.StoreFBData)
		api.GET("/get-fb-data", publicHandler.GetFBData)
		api.POST("/fb-conversion", publicHandler.FBConversion)
		api.POST("/process-square-payment", publicHandler.ProcessSquarePayment)
		api.POST("/process-stripe-payment", publicHandler.ProcessStripePayment)
	}

	// 管理员接口
	admin := r.Group("/admin")
	{
		admin.POST("/login", RateLimitMiddleware(redisClient, adminLoginRule, KeyByIP), adminHandler.AdminLogin)
		admin.GET("/check-setup", adminHandler.CheckSetup)
		admin.POST("/register", adminHandler.RegisterAdmin)

		authorized := admin.Use(JWTAuthMiddleware(cfg.JWT.SecretKey, c.AdminRepo))
		{
			authorized.POST("/logout", adminHandler.AdminLogout)
			authorized.PUT("/password", adminHandler.UpdateAdminPassword)
			authorized.POST("/admins", adminHandler.CreateAdmin)

			authorized.GET("/donations", adminHandler.AdminListDonations)
			authorized.GET("/donations/:id", adminHandler.AdminGetDonation)
			authorized.GET("/conversion-logs", adminHandler.AdminListConversionLogs)
			authorized.GET("/payment-failures", adminHandler.AdminListPaymentFailures)
			authorized.GET("/attributions", adminHandler.AdminListAttributions)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
