package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paytrack-next/internal/constants"
)

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"COMPLETED", constants.ChargeStatusSucceeded},
		{"completed", constants.ChargeStatusSucceeded},
		{"APPROVED", constants.ChargeStatusPending},
		{"PENDING", constants.ChargeStatusPending},
		{"FAILED", constants.ChargeStatusFailed},
		{"CANCELED", constants.ChargeStatusFailed},
		{"SOMETHING_ELSE", constants.ChargeStatusUnknown},
		{"", constants.ChargeStatusUnknown},
	}
	for _, tc := range cases {
		if got := NormalizeStatus(tc.in); got != tc.want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCreatePaymentSendsExpectedRequest(t *testing.T) {
	var gotAuth, gotVersion string
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/payments" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("Square-Version")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload failed: %v", err)
		}
		fmt.Fprint(w, `{"payment":{"id":"sq-pay-1","status":"COMPLETED","receipt_url":"https://squareup.com/receipt/sq-pay-1","amount_money":{"amount":2500,"currency":"USD"}}}`)
	}))
	defer server.Close()

	cfg := &Config{AccessToken: "sq-token", LocationID: "loc-1", APIBaseURL: server.URL}
	result, err := CreatePayment(context.Background(), cfg, CreateInput{
		SourceID:       "cnon:card-nonce",
		IdempotencyKey: "idem-1",
		AmountMinor:    2500,
		Currency:       "usd",
		BuyerEmail:     "donor@example.com",
		PostalCode:     "94103",
		Note:           "donation",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if result.PaymentID != "sq-pay-1" {
		t.Fatalf("unexpected payment id: %s", result.PaymentID)
	}
	if result.Status != constants.ChargeStatusSucceeded {
		t.Fatalf("unexpected status: %s", result.Status)
	}
	if result.AmountMinor != 2500 || result.Currency != "USD" {
		t.Fatalf("unexpected amount: %d %s", result.AmountMinor, result.Currency)
	}

	if gotAuth != "Bearer sq-token" {
		t.Fatalf("unexpected authorization header: %s", gotAuth)
	}
	if gotVersion == "" {
		t.Fatalf("Square-Version header missing")
	}
	if payload["idempotency_key"] != "idem-1" || payload["source_id"] != "cnon:card-nonce" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	amountMoney, ok := payload["amount_money"].(map[string]interface{})
	if !ok || amountMoney["currency"] != "USD" {
		t.Fatalf("currency not uppercased: %+v", payload["amount_money"])
	}
	if payload["buyer_email_address"] != "donor@example.com" {
		t.Fatalf("buyer email missing: %+v", payload)
	}
}

func TestCreatePaymentDeclined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"errors":[{"code":"CARD_DECLINED","detail":"Card declined."}]}`)
	}))
	defer server.Close()

	cfg := &Config{AccessToken: "sq-token", LocationID: "loc-1", APIBaseURL: server.URL}
	_, err := CreatePayment(context.Background(), cfg, CreateInput{
		SourceID:       "cnon:card-nonce",
		IdempotencyKey: "idem-2",
		AmountMinor:    2500,
	})
	if !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
}

func TestCreatePaymentValidatesInput(t *testing.T) {
	cfg := &Config{AccessToken: "sq-token", LocationID: "loc-1"}
	if _, err := CreatePayment(context.Background(), cfg, CreateInput{
		IdempotencyKey: "idem",
		AmountMinor:    100,
	}); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("missing source id should fail, got %v", err)
	}
	if _, err := CreatePayment(context.Background(), cfg, CreateInput{
		SourceID:       "src",
		IdempotencyKey: "idem",
		AmountMinor:    0,
	}); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("zero amount should fail, got %v", err)
	}
	if _, err := CreatePayment(context.Background(), &Config{}, CreateInput{}); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("empty config should fail, got %v", err)
	}
}

func TestQueryPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v2/payments/sq-pay-9" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{"payment":{"id":"sq-pay-9","status":"PENDING","amount_money":{"amount":1000,"currency":"USD"}}}`)
	}))
	defer server.Close()

	cfg := &Config{AccessToken: "sq-token", LocationID: "loc-1", APIBaseURL: server.URL}
	result, err := QueryPayment(context.Background(), cfg, "sq-pay-9")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if result.Status != constants.ChargeStatusPending {
		t.Fatalf("unexpected status: %s", result.Status)
	}
	if result.RawStatus != "PENDING" {
		t.Fatalf("raw status lost: %s", result.RawStatus)
	}
}

func TestResolveBaseURLByEnvironment(t *testing.T) {
	if got := resolveBaseURL(&Config{Environment: "production"}); got != productionAPIBaseURL {
		t.Fatalf("production base url = %s", got)
	}
	if got := resolveBaseURL(&Config{Environment: "sandbox"}); got != sandboxAPIBaseURL {
		t.Fatalf("sandbox base url = %s", got)
	}
	if got := resolveBaseURL(&Config{APIBaseURL: "http://127.0.0.1:9999/"}); got != "http://127.0.0.1:9999" {
		t.Fatalf("override base url = %s", got)
	}
}
