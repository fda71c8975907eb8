package capi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrConfigInvalid   = errors.New("capi config invalid")
	ErrRequestFailed   = errors.New("capi request failed")
	ErrResponseInvalid = errors.New("capi response invalid")
)

const (
	defaultAPIBaseURL = "https://graph.facebook.com"
	defaultAPIVersion = "v15.0"
	defaultTimeoutMS  = 10000
)

// Config 单个上报目标（像素）配置。
type Config struct {
	PixelID       string `json:"pixel_id"`
	AccessToken   string `json:"access_token"`
	TestEventCode string `json:"test_event_code"`
	APIBaseURL    string `json:"api_base_url"`
	APIVersion    string `json:"api_version"`
	TimeoutMS     int    `json:"timeout_ms"`
}

// UserData 事件用户数据。em/fn/ln/country/zp 为 SHA-256 哈希值，
// fbp/fbc 与网络指纹按平台要求明文传输。
type UserData struct {
	Email           string `json:"em,omitempty"`
	FirstName       string `json:"fn,omitempty"`
	LastName        string `json:"ln,omitempty"`
	Country         string `json:"country,omitempty"`
	PostalCode      string `json:"zp,omitempty"`
	BrowserPixelID  string `json:"fbp,omitempty"`
	BrowserClickID  string `json:"fbc,omitempty"`
	ClientIPAddress string `json:"client_ip_address,omitempty"`
	ClientUserAgent string `json:"client_user_agent,omitempty"`
}

// CustomData 事件业务数据。
type CustomData struct {
	Value      float64 `json:"value"`
	Currency   string  `json:"currency"`
	ClickToken string  `json:"fbclid,omitempty"`
}

// Event 转化事件。
type Event struct {
	EventName      string     `json:"event_name"`
	EventTime      int64      `json:"event_time"`
	EventID        string     `json:"event_id,omitempty"`
	EventSourceURL string     `json:"event_source_url,omitempty"`
	ActionSource   string     `json:"action_source"`
	UserData       UserData   `json:"user_data"`
	CustomData     CustomData `json:"custom_data"`
}

// SendResult 上报结果。
type SendResult struct {
	EventsReceived int64
	TraceID        string
	Raw            map[string]interface{}
}

type eventEnvelope struct {
	Data          []Event `json:"data"`
	TestEventCode string  `json:"test_event_code,omitempty"`
}

// HashValue 按平台要求哈希用户数据：去除首尾空白、转小写后取 SHA-256。
// 空值返回空串，调用方应据此省略字段。
func HashValue(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ValidateConfig 校验配置。
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.PixelID) == "" {
		return fmt.Errorf("%w: pixel_id is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return fmt.Errorf("%w: access_token is required", ErrConfigInvalid)
	}
	if base := strings.TrimSpace(cfg.APIBaseURL); base != "" {
		if _, err := url.ParseRequestURI(base); err != nil {
			return fmt.Errorf("%w: api_base_url is invalid", ErrConfigInvalid)
		}
	}
	return nil
}

// SendEvent 上报单个转化事件。
func SendEvent(ctx context.Context, cfg *Config, event Event) (*SendResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(event.EventName) == "" {
		return nil, fmt.Errorf("%w: event_name is required", ErrConfigInvalid)
	}

	envelope := eventEnvelope{
		Data:          []Event{event},
		TestEventCode: strings.TrimSpace(cfg.TestEventCode),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload failed", ErrRequestFailed)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/events?access_token=%s",
		normalizeBaseURL(cfg.APIBaseURL),
		normalizeVersion(cfg.APIVersion),
		url.PathEscape(strings.TrimSpace(cfg.PixelID)),
		url.QueryEscape(strings.TrimSpace(cfg.AccessToken)),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: resolveTimeout(cfg.TimeoutMS)}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response failed", ErrResponseInvalid)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d body %s", ErrResponseInvalid, resp.StatusCode, truncateBody(body))
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	result := &SendResult{Raw: raw}
	if value, ok := raw["events_received"].(float64); ok {
		result.EventsReceived = int64(value)
	}
	if value, ok := raw["fbtrace_id"].(string); ok {
		result.TraceID = value
	}
	if result.EventsReceived < 1 {
		return nil, fmt.Errorf("%w: no events received", ErrResponseInvalid)
	}
	return result, nil
}

func normalizeBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return defaultAPIBaseURL
	}
	return base
}

func normalizeVersion(version string) string {
	version = strings.Trim(strings.TrimSpace(version), "/")
	if version == "" {
		return defaultAPIVersion
	}
	return version
}

func resolveTimeout(timeoutMS int) time.Duration {
	if timeoutMS <= 0 {
		timeoutMS = defaultTimeoutMS
	}
	return time.Duration(timeoutMS) * time.Millisecond
}

func truncateBody(body []byte) string {
	const max = 512
	text := strings.TrimSpace(string(body))
	if len(text) > max {
		return text[:max]
	}
	return text
}
