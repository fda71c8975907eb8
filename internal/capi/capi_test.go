package capi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHashValue(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"donor@example.com", "333ddf3fcc1e1bfd2c62fc251f9f824243d24d9c058d8b79d92e5c715721f3cc"},
		{"  Donor@Example.COM ", "333ddf3fcc1e1bfd2c62fc251f9f824243d24d9c058d8b79d92e5c715721f3cc"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := HashValue(tc.in); got != tc.want {
			t.Fatalf("HashValue(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHashValueNormalizesCase(t *testing.T) {
	if HashValue("Alex") != HashValue("alex") {
		t.Fatalf("hash should be case insensitive")
	}
	if HashValue("alex") == HashValue("alexa") {
		t.Fatalf("distinct values should not collide")
	}
}

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(nil); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("nil config should be invalid, got %v", err)
	}
	if err := ValidateConfig(&Config{AccessToken: "tok"}); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("missing pixel id should be invalid, got %v", err)
	}
	if err := ValidateConfig(&Config{PixelID: "px"}); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("missing access token should be invalid, got %v", err)
	}
	if err := ValidateConfig(&Config{PixelID: "px", AccessToken: "tok", APIBaseURL: "://bad"}); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("bad base url should be invalid, got %v", err)
	}
	if err := ValidateConfig(&Config{PixelID: "px", AccessToken: "tok"}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestSendEventSuccess(t *testing.T) {
	var gotPath, gotToken string
	var envelope struct {
		Data          []Event `json:"data"`
		TestEventCode string  `json:"test_event_code"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("access_token")
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			t.Errorf("decode envelope failed: %v", err)
		}
		fmt.Fprint(w, `{"events_received":1,"fbtrace_id":"trace-1"}`)
	}))
	defer server.Close()

	cfg := &Config{
		PixelID:       "1234567890",
		AccessToken:   "secret-token",
		TestEventCode: "TEST123",
		APIBaseURL:    server.URL,
		APIVersion:    "v15.0",
	}
	event := Event{
		EventName:    "Purchase",
		EventTime:    1700000000,
		EventID:      "evt-1",
		ActionSource: "website",
		UserData:     UserData{Email: HashValue("donor@example.com")},
		CustomData:   CustomData{Value: 25.99, Currency: "USD"},
	}
	result, err := SendEvent(context.Background(), cfg, event)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if result.EventsReceived != 1 {
		t.Fatalf("events_received = %d, want 1", result.EventsReceived)
	}
	if result.TraceID != "trace-1" {
		t.Fatalf("trace id = %s, want trace-1", result.TraceID)
	}
	if !strings.Contains(gotPath, "/v15.0/1234567890/events") {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotToken != "secret-token" {
		t.Fatalf("access token not sent: %s", gotToken)
	}
	if len(envelope.Data) != 1 || envelope.Data[0].EventID != "evt-1" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if envelope.TestEventCode != "TEST123" {
		t.Fatalf("test event code not sent: %s", envelope.TestEventCode)
	}
}

func TestSendEventNon2xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Invalid parameter"}}`)
	}))
	defer server.Close()

	cfg := &Config{PixelID: "px", AccessToken: "tok", APIBaseURL: server.URL}
	_, err := SendEvent(context.Background(), cfg, Event{EventName: "Purchase"})
	if !errors.Is(err, ErrResponseInvalid) {
		t.Fatalf("expected ErrResponseInvalid, got %v", err)
	}
}

func TestSendEventZeroReceivedFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"events_received":0}`)
	}))
	defer server.Close()

	cfg := &Config{PixelID: "px", AccessToken: "tok", APIBaseURL: server.URL}
	_, err := SendEvent(context.Background(), cfg, Event{EventName: "Purchase"})
	if !errors.Is(err, ErrResponseInvalid) {
		t.Fatalf("expected ErrResponseInvalid on zero received, got %v", err)
	}
}

func TestSendEventRequiresEventName(t *testing.T) {
	cfg := &Config{PixelID: "px", AccessToken: "tok"}
	_, err := SendEvent(context.Background(), cfg, Event{})
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}
