package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paytrack-next/internal/constants"
)

var (
	ErrConfigInvalid   = errors.New("stripe config invalid")
	ErrRequestFailed   = errors.New("stripe request failed")
	ErrResponseInvalid = errors.New("stripe response invalid")
)

const (
	defaultAPIBaseURL = "https://api.stripe.com"
	defaultTimeoutMS  = 10000
)

// Config Stripe 渠道配置。
type Config struct {
	SecretKey  string `json:"secret_key"`
	APIBaseURL string `json:"api_base_url"`
	TimeoutMS  int    `json:"timeout_ms"`
}

// CreateIntentInput 创建 PaymentIntent 输入。
type CreateIntentInput struct {
	AmountMinor     int64
	Currency        string
	Description     string
	ReceiptEmail    string
	PaymentMethodID string // 非空时直接确认扣款
}

// IntentResult 创建/查询 PaymentIntent 返回。
type IntentResult struct {
	PaymentIntentID string
	ClientSecret    string
	Status          string // 已归一化（pending/succeeded/failed/unknown）
	RawStatus       string
	AmountMinor     int64
	Currency        string
	Raw             map[string]interface{}
}

// ValidateConfig 校验配置。
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return fmt.Errorf("%w: secret_key is required", ErrConfigInvalid)
	}
	if base := strings.TrimSpace(cfg.APIBaseURL); base != "" {
		if _, err := url.ParseRequestURI(base); err != nil {
			return fmt.Errorf("%w: api_base_url is invalid", ErrConfigInvalid)
		}
	}
	return nil
}

// CreatePaymentIntent 创建（并在携带支付方式时确认）PaymentIntent。
func CreatePaymentIntent(ctx context.Context, cfg *Config, input CreateIntentInput) (*IntentResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if input.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrConfigInvalid)
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = strings.ToLower(constants.ConversionCurrencyDefault)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(input.AmountMinor, 10))
	form.Set("currency", currency)
	if desc := strings.TrimSpace(input.Description); desc != "" {
		form.Set("description", desc)
	}
	if email := strings.TrimSpace(input.ReceiptEmail); email != "" {
		form.Set("receipt_email", email)
	}
	if pm := strings.TrimSpace(input.PaymentMethodID); pm != "" {
		form.Set("payment_method", pm)
		form.Set("confirm", "true")
		form.Set("automatic_payment_methods[enabled]", "true")
		form.Set("automatic_payment_methods[allow_redirects]", "never")
	}

	respBody, statusCode, err := doFormRequest(ctx, cfg, http.MethodPost, "/v1/payment_intents", form)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: create payment intent status %d", ErrResponseInvalid, statusCode)
	}
	return parseIntentObject(respBody)
}

// QueryPaymentIntent 按流水号查询 PaymentIntent。
func QueryPaymentIntent(ctx context.Context, cfg *Config, paymentIntentID string) (*IntentResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return nil, fmt.Errorf("%w: payment_intent_id is required", ErrConfigInvalid)
	}

	path := "/v1/payment_intents/" + url.PathEscape(paymentIntentID)
	respBody, statusCode, err := doJSONRequest(ctx, cfg, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: query payment intent status %d", ErrResponseInvalid, statusCode)
	}
	return parseIntentObject(respBody)
}

// NormalizeStatus 将 PaymentIntent 状态归一化到台账状态。
func NormalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded":
		return constants.ChargeStatusSucceeded
	case "canceled", "requires_payment_method":
		return constants.ChargeStatusFailed
	case "processing", "requires_capture", "requires_action", "requires_confirmation":
		return constants.ChargeStatusPending
	case "":
		return constants.ChargeStatusUnknown
	default:
		return constants.ChargeStatusUnknown
	}
}

func parseIntentObject(body []byte) (*IntentResult, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	result := &IntentResult{Raw: raw}
	result.PaymentIntentID, _ = raw["id"].(string)
	result.ClientSecret, _ = raw["client_secret"].(string)
	result.RawStatus, _ = raw["status"].(string)
	result.Status = NormalizeStatus(result.RawStatus)
	result.Currency, _ = raw["currency"].(string)
	result.Currency = strings.ToUpper(result.Currency)
	if amount, ok := raw["amount_received"].(float64); ok && amount > 0 {
		result.AmountMinor = int64(amount)
	} else if amount, ok := raw["amount"].(float64); ok {
		result.AmountMinor = int64(amount)
	}
	if strings.TrimSpace(result.PaymentIntentID) == "" {
		return nil, fmt.Errorf("%w: missing payment intent id", ErrResponseInvalid)
	}
	return result, nil
}

func doFormRequest(ctx context.Context, cfg *Config, method, path string, form url.Values) ([]byte, int, error) {
	endpoint := resolveBaseURL(cfg) + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(cfg.SecretKey))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doRequest(req, cfg.TimeoutMS)
}

func doJSONRequest(ctx context.Context, cfg *Config, method, path string) ([]byte, int, error) {
	endpoint := resolveBaseURL(cfg) + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(cfg.SecretKey))
	return doRequest(req, cfg.TimeoutMS)
}

func doRequest(req *http.Request, timeoutMS int) ([]byte, int, error) {
	if timeoutMS <= 0 {
		timeoutMS = defaultTimeoutMS
	}
	resp, err := (&http.Client{Timeout: time.Duration(timeoutMS) * time.Millisecond}).Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrResponseInvalid)
	}
	return body, resp.StatusCode, nil
}

func resolveBaseURL(cfg *Config) string {
	if base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"); base != "" {
		return base
	}
	return defaultAPIBaseURL
}
