package square

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paytrack-next/internal/constants"
)

var (
	ErrConfigInvalid   = errors.New("square config invalid")
	ErrRequestFailed   = errors.New("square request failed")
	ErrResponseInvalid = errors.New("square response invalid")
	ErrPaymentDeclined = errors.New("square payment declined")
)

const (
	sandboxAPIBaseURL    = "https://connect.squareupsandbox.com"
	productionAPIBaseURL = "https://connect.squareup.com"
	apiVersionHeader     = "2023-12-13"
	defaultTimeoutMS     = 10000
)

// Config Square 渠道配置。
type Config struct {
	AccessToken string `json:"access_token"`
	LocationID  string `json:"location_id"`
	Environment string `json:"environment"` // sandbox / production
	APIBaseURL  string `json:"api_base_url"`
	TimeoutMS   int    `json:"timeout_ms"`
}

// CreateInput 创建 Square 支付输入。
type CreateInput struct {
	SourceID       string // 前端卡令牌
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
	BuyerEmail     string
	PostalCode     string
	Note           string
}

// PaymentResult 创建/查询 Square 支付返回。
type PaymentResult struct {
	PaymentID   string
	Status      string // 已归一化（pending/succeeded/failed/unknown）
	RawStatus   string
	AmountMinor int64
	Currency    string
	ReceiptURL  string
	Raw         map[string]interface{}
}

// ValidateConfig 校验配置。
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return fmt.Errorf("%w: access_token is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.LocationID) == "" {
		return fmt.Errorf("%w: location_id is required", ErrConfigInvalid)
	}
	if base := strings.TrimSpace(cfg.APIBaseURL); base != "" {
		if _, err := url.ParseRequestURI(base); err != nil {
			return fmt.Errorf("%w: api_base_url is invalid", ErrConfigInvalid)
		}
	}
	return nil
}

// CreatePayment 创建 Square 支付（一次性扣款）。
func CreatePayment(ctx context.Context, cfg *Config, input CreateInput) (*PaymentResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(input.SourceID) == "" {
		return nil, fmt.Errorf("%w: source_id is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return nil, fmt.Errorf("%w: idempotency_key is required", ErrConfigInvalid)
	}
	if input.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrConfigInvalid)
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = constants.ConversionCurrencyDefault
	}

	payload := map[string]interface{}{
		"idempotency_key": strings.TrimSpace(input.IdempotencyKey),
		"source_id":       strings.TrimSpace(input.SourceID),
		"location_id":     strings.TrimSpace(cfg.LocationID),
		"amount_money": map[string]interface{}{
			"amount":   input.AmountMinor,
			"currency": currency,
		},
	}
	if email := strings.TrimSpace(input.BuyerEmail); email != "" {
		payload["buyer_email_address"] = email
	}
	if postal := strings.TrimSpace(input.PostalCode); postal != "" {
		payload["billing_address"] = map[string]interface{}{
			"postal_code": postal,
		}
	}
	if note := strings.TrimSpace(input.Note); note != "" {
		payload["note"] = note
	}

	respBody, statusCode, err := doJSONRequest(ctx, cfg, http.MethodPost, "/v2/payments", payload)
	if err != nil {
		return nil, err
	}
	raw, err := decodeRawMap(respBody)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, readErrorDetail(raw, statusCode))
	}
	return parsePaymentObject(raw)
}

// QueryPayment 按支付流水号查询 Square 支付状态。
func QueryPayment(ctx context.Context, cfg *Config, paymentID string) (*PaymentResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment_id is required", ErrConfigInvalid)
	}

	path := "/v2/payments/" + url.PathEscape(paymentID)
	respBody, statusCode, err := doJSONRequest(ctx, cfg, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	raw, err := decodeRawMap(respBody)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: %s", ErrResponseInvalid, readErrorDetail(raw, statusCode))
	}
	return parsePaymentObject(raw)
}

// NormalizeStatus 将 Square 支付状态归一化到台账状态。
func NormalizeStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return constants.ChargeStatusSucceeded
	case "APPROVED", "PENDING":
		return constants.ChargeStatusPending
	case "FAILED", "CANCELED":
		return constants.ChargeStatusFailed
	default:
		return constants.ChargeStatusUnknown
	}
}

func parsePaymentObject(raw map[string]interface{}) (*PaymentResult, error) {
	paymentRaw, ok := raw["payment"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: missing payment object", ErrResponseInvalid)
	}
	result := &PaymentResult{Raw: raw}
	result.PaymentID, _ = paymentRaw["id"].(string)
	result.RawStatus, _ = paymentRaw["status"].(string)
	result.Status = NormalizeStatus(result.RawStatus)
	result.ReceiptURL, _ = paymentRaw["receipt_url"].(string)
	if amountRaw, ok := paymentRaw["amount_money"].(map[string]interface{}); ok {
		if amount, ok := amountRaw["amount"].(float64); ok {
			result.AmountMinor = int64(amount)
		}
		result.Currency, _ = amountRaw["currency"].(string)
	}
	if strings.TrimSpace(result.PaymentID) == "" {
		return nil, fmt.Errorf("%w: missing payment id", ErrResponseInvalid)
	}
	return result, nil
}

func doJSONRequest(ctx context.Context, cfg *Config, method, path string, payload map[string]interface{}) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: marshal payload failed", ErrRequestFailed)
		}
		body = bytes.NewReader(data)
	}

	endpoint := resolveBaseURL(cfg) + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(cfg.AccessToken))
	req.Header.Set("Square-Version", apiVersionHeader)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := (&http.Client{Timeout: resolveTimeout(cfg.TimeoutMS)}).Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrResponseInvalid)
	}
	return respBody, resp.StatusCode, nil
}

func resolveBaseURL(cfg *Config) string {
	if base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"); base != "" {
		return base
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Environment), "production") {
		return productionAPIBaseURL
	}
	return sandboxAPIBaseURL
}

func resolveTimeout(timeoutMS int) time.Duration {
	if timeoutMS <= 0 {
		timeoutMS = defaultTimeoutMS
	}
	return time.Duration(timeoutMS) * time.Millisecond
}

func decodeRawMap(body []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	return raw, nil
}

func readErrorDetail(raw map[string]interface{}, statusCode int) string {
	if errorsRaw, ok := raw["errors"].([]interface{}); ok && len(errorsRaw) > 0 {
		if first, ok := errorsRaw[0].(map[string]interface{}); ok {
			code, _ := first["code"].(string)
			detail, _ := first["detail"].(string)
			if code != "" || detail != "" {
				return strings.TrimSpace(code + " " + detail)
			}
		}
	}
	return fmt.Sprintf("status %d", statusCode)
}
