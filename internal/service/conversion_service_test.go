package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paytrack-next/internal/config"
	"github.com/paytrack-next/internal/constants"
	"github.com/paytrack-next/internal/models"
	"github.com/paytrack-next/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupConversionServiceTest(t *testing.T, apiBaseURL string) (*ConversionService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:conversion_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Donation{},
		&models.ConversionLog{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	cfg := &config.Config{}
	cfg.Conversion.Destinations = []config.DestinationConfig{
		{PixelID: "pixel-1", AccessToken: "token-1"},
	}
	cfg.Conversion.APIBaseURL = apiBaseURL
	cfg.Conversion.EventSourceFallback = "https://perfectbodyme.co/thanks"
	cfg.Conversion.MaxAttempts = 3
	cfg.Retry.SweepBatchSize = 100
	cfg.Retry.AbandonAfterHours = 168

	svc := NewConversionService(
		db,
		repository.NewDonationRepository(db),
		repository.NewConversionLogRepository(db),
		cfg,
	)
	svc.sleep = func(time.Duration) {}
	return svc, db
}

func newCAPIStub(t *testing.T, failures *int32, captured *[]map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failures != nil && atomic.AddInt32(failures, -1) >= 0 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"transient"}}`)
			return
		}
		if captured != nil {
			var envelope map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&envelope); err == nil {
				*captured = append(*captured, envelope)
			}
		}
		fmt.Fprint(w, `{"events_received":1,"fbtrace_id":"trace-abc"}`)
	}))
}

func seedEligibleDonation(t *testing.T, db *gorm.DB) *models.Donation {
	t.Helper()
	chargedAt := time.Now()
	donation := &models.Donation{
		AmountMinor:    2599,
		Currency:       "USD",
		BuyerEmail:     "Payer@Example.com ",
		OriginalEmail:  "landing@example.com",
		FirstName:      "Alex",
		LastName:       "Donor",
		Country:        "US",
		PostalCode:     "94103",
		Provider:       constants.PaymentProviderSquare,
		ChargeID:       "sq-charge-conv",
		ChargeStatus:   constants.ChargeStatusSucceeded,
		ClickToken:     "IwAR2convToken",
		BrowserPixelID: "fb.1.1700000000.1234567890123456",
		BrowserClickID: "fb.1.1700000000.IwAR2convToken",
		LandingURL:     "https://perfectbodyme.co/landing?fbclid=IwAR2convToken",
		ChargedAt:      &chargedAt,
	}
	if err := db.Create(donation).Error; err != nil {
		t.Fatalf("seed donation failed: %v", err)
	}
	return donation
}

func sha256Lower(value string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(value))))
	return hex.EncodeToString(sum[:])
}

func TestBuildEventRejectsIneligibleDonation(t *testing.T) {
	svc, db := setupConversionServiceTest(t, "")

	donation := &models.Donation{
		AmountMinor:  2500,
		ChargeID:     "sq-charge-pending",
		ChargeStatus: constants.ChargeStatusPending,
	}
	if err := db.Create(donation).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := svc.BuildEvent(donation); !errors.Is(err, ErrIneligibleDonation) {
		t.Fatalf("expected ErrIneligibleDonation, got %v", err)
	}

	donation.ChargeStatus = constants.ChargeStatusSucceeded
	donation.ChargeID = ""
	if _, err := svc.BuildEvent(donation); !errors.Is(err, ErrIneligibleDonation) {
		t.Fatalf("expected ErrIneligibleDonation without charge id, got %v", err)
	}
}

func TestBuildEventHashesAndPrefersOriginalEmail(t *testing.T) {
	svc, db := setupConversionServiceTest(t, "")
	donation := seedEligibleDonation(t, db)

	event, err := svc.BuildEvent(donation)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if event.UserData.Email != sha256Lower("landing@example.com") {
		t.Fatalf("original email not preferred or not hashed: %s", event.UserData.Email)
	}
	if event.UserData.FirstName != sha256Lower("Alex") {
		t.Fatalf("first name not hashed: %s", event.UserData.FirstName)
	}
	if event.UserData.BrowserPixelID != "fb.1.1700000000.1234567890123456" {
		t.Fatalf("fbp should stay plain: %s", event.UserData.BrowserPixelID)
	}
	if event.EventSourceURL != "https://perfectbodyme.co/landing" {
		t.Fatalf("source url not stripped: %s", event.EventSourceURL)
	}
	if event.CustomData.Value != 25.99 {
		t.Fatalf("expected value 25.99, got %v", event.CustomData.Value)
	}
	if event.EventName != constants.ConversionEventPurchase {
		t.Fatalf("unexpected event name: %s", event.EventName)
	}
}

func TestBuildEventFallsBackToBuyerEmailAndRowID(t *testing.T) {
	svc, db := setupConversionServiceTest(t, "")
	donation := seedEligibleDonation(t, db)
	donation.OriginalEmail = ""
	donation.EventID = ""
	donation.LandingURL = ""
	donation.CheckoutURL = ""

	event, err := svc.BuildEvent(donation)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if event.UserData.Email != sha256Lower("payer@example.com") {
		t.Fatalf("buyer email fallback not hashed lower/trim: %s", event.UserData.Email)
	}
	if event.EventID != fmt.Sprintf("%d", donation.ID) {
		t.Fatalf("event id should fall back to row id, got %s", event.EventID)
	}
	if event.EventSourceURL != "https://perfectbodyme.co/thanks" {
		t.Fatalf("source url fallback missing: %s", event.EventSourceURL)
	}
}

func TestProcessConversionDeliversAndMarksSent(t *testing.T) {
	var captured []map[string]interface{}
	server := newCAPIStub(t, nil, &captured)
	defer server.Close()

	svc, db := setupConversionServiceTest(t, server.URL)
	donation := seedEligibleDonation(t, db)

	result, err := svc.ProcessConversion(context.Background(), ProcessConversionInput{
		DonationID:      donation.ID,
		RawPayload:      `{"charge_id":"sq-charge-conv"}`,
		ClientIP:        "203.0.113.9",
		ClientUserAgent: "Mozilla/5.0",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Delivered || result.Suppressed {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", result.Attempts)
	}
	if len(captured) != 1 {
		t.Fatalf("expected 1 event posted, got %d", len(captured))
	}

	var reloaded models.Donation
	if err := db.First(&reloaded, donation.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.ConversionSent {
		t.Fatalf("conversion_sent not flipped")
	}
	if reloaded.ClientIP != "203.0.113.9" {
		t.Fatalf("client ip not captured: %s", reloaded.ClientIP)
	}

	var entry models.ConversionLog
	if err := db.Where("donation_id = ?", donation.ID).First(&entry).Error; err != nil {
		t.Fatalf("load log failed: %v", err)
	}
	if entry.Status != constants.ConversionLogStatusSent {
		t.Fatalf("log status = %s, want sent", entry.Status)
	}
	if entry.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", entry.AttemptCount)
	}
}

func TestProcessConversionSuppressedWhenAlreadySent(t *testing.T) {
	server := newCAPIStub(t, nil, nil)
	defer server.Close()

	svc, db := setupConversionServiceTest(t, server.URL)
	donation := seedEligibleDonation(t, db)
	if err := db.Model(&models.Donation{}).Where("id = ?", donation.ID).
		Update("conversion_sent", true).Error; err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	result, err := svc.ProcessConversion(context.Background(), ProcessConversionInput{DonationID: donation.ID})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Suppressed || result.Delivered {
		t.Fatalf("expected suppression, got %+v", result)
	}

	var count int64
	if err := db.Model(&models.ConversionLog{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("suppressed trigger should not write a log row, got %d", count)
	}
}

func TestProcessConversionRetriesWithExponentialBackoff(t *testing.T) {
	failures := int32(2)
	server := newCAPIStub(t, &failures, nil)
	defer server.Close()

	svc, db := setupConversionServiceTest(t, server.URL)
	donation := seedEligibleDonation(t, db)

	var waits []time.Duration
	svc.sleep = func(d time.Duration) { waits = append(waits, d) }

	result, err := svc.ProcessConversion(context.Background(), ProcessConversionInput{DonationID: donation.ID})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.Attempts)
	}
	if len(waits) != 2 || waits[0] != 2*time.Second || waits[1] != 4*time.Second {
		t.Fatalf("unexpected backoff waits: %v", waits)
	}
}

func TestProcessConversionExhaustedKeepsLogPending(t *testing.T) {
	failures := int32(100)
	server := newCAPIStub(t, &failures, nil)
	defer server.Close()

	svc, db := setupConversionServiceTest(t, server.URL)
	donation := seedEligibleDonation(t, db)

	_, err := svc.ProcessConversion(context.Background(), ProcessConversionInput{DonationID: donation.ID})
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}

	var entry models.ConversionLog
	if err := db.Where("donation_id = ?", donation.ID).First(&entry).Error; err != nil {
		t.Fatalf("load log failed: %v", err)
	}
	if entry.Status != constants.ConversionLogStatusPending {
		t.Fatalf("exhausted log should stay pending, got %s", entry.Status)
	}
	if entry.AttemptCount != 3 {
		t.Fatalf("attempt count = %d, want 3", entry.AttemptCount)
	}
	if entry.LastError == "" {
		t.Fatalf("last error not recorded")
	}

	var reloaded models.Donation
	if err := db.First(&reloaded, donation.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.ConversionSent {
		t.Fatalf("conversion_sent flipped despite failure")
	}
}

func TestDispatchRequiresAllDestinations(t *testing.T) {
	okServer := newCAPIStub(t, nil, nil)
	defer okServer.Close()
	badServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"invalid token"}}`)
	}))
	defer badServer.Close()

	svc, _ := setupConversionServiceTest(t, okServer.URL)
	svc.destinations[0].APIBaseURL = okServer.URL
	svc.destinations = append(svc.destinations, svc.destinations[0])
	svc.destinations[1].PixelID = "pixel-2"
	svc.destinations[1].APIBaseURL = badServer.URL

	event, err := svc.BuildEvent(&models.Donation{
		ID:           1,
		AmountMinor:  2500,
		ChargeID:     "sq-charge-multi",
		ChargeStatus: constants.ChargeStatusSucceeded,
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if err := svc.Dispatch(context.Background(), event); !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected overall failure when one destination fails, got %v", err)
	}
}

func TestRetrySweepDeliversPendingEntry(t *testing.T) {
	server := newCAPIStub(t, nil, nil)
	defer server.Close()

	svc, db := setupConversionServiceTest(t, server.URL)
	donation := seedEligibleDonation(t, db)
	entry := models.ConversionLog{
		DonationID: donation.ID,
		Status:     constants.ConversionLogStatusPending,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("seed log failed: %v", err)
	}

	svc.RunRetrySweepOnce(context.Background())

	var reloadedEntry models.ConversionLog
	if err := db.First(&reloadedEntry, entry.ID).Error; err != nil {
		t.Fatalf("reload log failed: %v", err)
	}
	if reloadedEntry.Status != constants.ConversionLogStatusSent {
		t.Fatalf("log status = %s, want sent", reloadedEntry.Status)
	}
	var reloaded models.Donation
	if err := db.First(&reloaded, donation.ID).Error; err != nil {
		t.Fatalf("reload donation failed: %v", err)
	}
	if !reloaded.ConversionSent {
		t.Fatalf("conversion_sent not flipped by sweep")
	}
}

func TestRetrySweepSkipsIneligibleDonation(t *testing.T) {
	server := newCAPIStub(t, nil, nil)
	defer server.Close()

	svc, db := setupConversionServiceTest(t, server.URL)
	donation := &models.Donation{
		AmountMinor:  2500,
		ChargeID:     "sq-charge-still-pending",
		ChargeStatus: constants.ChargeStatusPending,
	}
	if err := db.Create(donation).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	entry := models.ConversionLog{DonationID: donation.ID, Status: constants.ConversionLogStatusPending}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("seed log failed: %v", err)
	}

	svc.RunRetrySweepOnce(context.Background())

	var reloadedEntry models.ConversionLog
	if err := db.First(&reloadedEntry, entry.ID).Error; err != nil {
		t.Fatalf("reload log failed: %v", err)
	}
	if reloadedEntry.Status != constants.ConversionLogStatusPending {
		t.Fatalf("ineligible entry should stay pending, got %s", reloadedEntry.Status)
	}
}

func TestRetrySweepConvergesAlreadySentDonation(t *testing.T) {
	server := newCAPIStub(t, nil, nil)
	defer server.Close()

	svc, db := setupConversionServiceTest(t, server.URL)
	donation := seedEligibleDonation(t, db)
	if err := db.Model(&models.Donation{}).Where("id = ?", donation.ID).
		Update("conversion_sent", true).Error; err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	entry := models.ConversionLog{DonationID: donation.ID, Status: constants.ConversionLogStatusPending}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("seed log failed: %v", err)
	}

	svc.RunRetrySweepOnce(context.Background())

	var reloadedEntry models.ConversionLog
	if err := db.First(&reloadedEntry, entry.ID).Error; err != nil {
		t.Fatalf("reload log failed: %v", err)
	}
	if reloadedEntry.Status != constants.ConversionLogStatusSent {
		t.Fatalf("entry for already-sent donation should converge to sent, got %s", reloadedEntry.Status)
	}
}

func TestRetrySweepMarksMissingDonationExhausted(t *testing.T) {
	server := newCAPIStub(t, nil, nil)
	defer server.Close()

	svc, db := setupConversionServiceTest(t, server.URL)
	entry := models.ConversionLog{DonationID: 99999, Status: constants.ConversionLogStatusPending}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("seed log failed: %v", err)
	}

	svc.RunRetrySweepOnce(context.Background())

	var reloadedEntry models.ConversionLog
	if err := db.First(&reloadedEntry, entry.ID).Error; err != nil {
		t.Fatalf("reload log failed: %v", err)
	}
	if reloadedEntry.Status != constants.ConversionLogStatusFailedExhausted {
		t.Fatalf("entry without donation should be exhausted, got %s", reloadedEntry.Status)
	}
}

func TestRetrySweepAbandonsStaleEntry(t *testing.T) {
	server := newCAPIStub(t, nil, nil)
	defer server.Close()

	svc, db := setupConversionServiceTest(t, server.URL)
	donation := seedEligibleDonation(t, db)
	entry := models.ConversionLog{DonationID: donation.ID, Status: constants.ConversionLogStatusPending}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("seed log failed: %v", err)
	}
	stale := time.Now().Add(-169 * time.Hour)
	if err := db.Model(&models.ConversionLog{}).Where("id = ?", entry.ID).
		Update("created_at", stale).Error; err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	svc.RunRetrySweepOnce(context.Background())

	var reloadedEntry models.ConversionLog
	if err := db.First(&reloadedEntry, entry.ID).Error; err != nil {
		t.Fatalf("reload log failed: %v", err)
	}
	if reloadedEntry.Status != constants.ConversionLogStatusFailedExhausted {
		t.Fatalf("stale entry should be abandoned, got %s", reloadedEntry.Status)
	}
}
