package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/paytrack-next/internal/constants"
	"github.com/paytrack-next/internal/models"
	"github.com/paytrack-next/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupDonationServiceTest(t *testing.T) (*DonationService, *AttributionService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:donation_service_test_%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.AttributionRecord{},
		&models.Donation{},
		&models.PaymentFailure{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	attributionSvc := NewAttributionService(repository.NewAttributionRepository(db))
	donationSvc := NewDonationService(
		repository.NewDonationRepository(db),
		repository.NewPaymentFailureRepository(db),
		attributionSvc,
	)
	return donationSvc, attributionSvc, db
}

func TestDonationOpenCreatesPendingWhenStatusMissing(t *testing.T) {
	svc, _, _ := setupDonationServiceTest(t)

	donation, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		BuyerEmail:  "donor@example.com",
		AmountMinor: 2500,
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if donation.ChargeStatus != constants.ChargeStatusPending {
		t.Fatalf("expected pending status, got %s", donation.ChargeStatus)
	}
	if donation.Currency != "USD" {
		t.Fatalf("expected USD default currency, got %s", donation.Currency)
	}
}

func TestDonationMatchByChargeID(t *testing.T) {
	svc, _, _ := setupDonationServiceTest(t)

	first, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:     "sq-charge-100",
		ChargeStatus: constants.ChargeStatusSucceeded,
		AmountMinor:  2500,
		BuyerEmail:   "donor@example.com",
	})
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}

	second, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:  "sq-charge-100",
		FirstName: "Alex",
	})
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected charge id match, got new donation %d", second.ID)
	}
	if second.FirstName != "Alex" {
		t.Fatalf("missing field not merged: %s", second.FirstName)
	}
}

func TestDonationMatchByClickTokenLatest(t *testing.T) {
	svc, _, _ := setupDonationServiceTest(t)

	if _, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ClickToken:  "IwAR2cascade",
		AmountMinor: 1000,
	}); err != nil {
		t.Fatalf("older open failed: %v", err)
	}
	latest, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:    "sq-charge-201",
		ClickToken:  "IwAR2cascade",
		AmountMinor: 2000,
	})
	if err != nil {
		t.Fatalf("latest open failed: %v", err)
	}

	matched, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ClickToken: "IwAR2cascade",
		BuyerEmail: "late@example.com",
	})
	if err != nil {
		t.Fatalf("match open failed: %v", err)
	}
	if matched.ID != latest.ID {
		t.Fatalf("expected latest donation %d for click token, got %d", latest.ID, matched.ID)
	}
}

func TestDonationMatchByEmailAmountWithinWindow(t *testing.T) {
	svc, _, db := setupDonationServiceTest(t)

	first, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		BuyerEmail:  "window@example.com",
		AmountMinor: 5000,
	})
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}

	matched, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:    "st-intent-300",
		BuyerEmail:  "Window@Example.com",
		AmountMinor: 5000,
	})
	if err != nil {
		t.Fatalf("match open failed: %v", err)
	}
	if matched.ID != first.ID {
		t.Fatalf("expected email+amount match, got new donation %d", matched.ID)
	}
	if matched.ChargeID != "st-intent-300" {
		t.Fatalf("charge id not merged: %s", matched.ChargeID)
	}

	// 窗口外的同邮箱同金额不匹配
	stale := time.Now().Add(-25 * time.Hour)
	if err := db.Model(&models.Donation{}).Where("id = ?", first.ID).
		Update("created_at", stale).Error; err != nil {
		t.Fatalf("backdate failed: %v", err)
	}
	fresh, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		BuyerEmail:  "window2@example.com",
		AmountMinor: 7000,
	})
	if err != nil {
		t.Fatalf("fresh open failed: %v", err)
	}
	if err := db.Model(&models.Donation{}).Where("id = ?", fresh.ID).
		Update("created_at", stale).Error; err != nil {
		t.Fatalf("backdate failed: %v", err)
	}
	again, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		BuyerEmail:  "window2@example.com",
		AmountMinor: 7000,
	})
	if err != nil {
		t.Fatalf("open outside window failed: %v", err)
	}
	if again.ID == fresh.ID {
		t.Fatalf("matched a donation outside the 24h window")
	}
}

func TestDonationMatchPrefersOriginalEmail(t *testing.T) {
	svc, _, _ := setupDonationServiceTest(t)

	first, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		OriginalEmail: "landing@example.com",
		AmountMinor:   3000,
	})
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}

	matched, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		OriginalEmail: "landing@example.com",
		BuyerEmail:    "different@example.com",
		AmountMinor:   3000,
	})
	if err != nil {
		t.Fatalf("match open failed: %v", err)
	}
	if matched.ID != first.ID {
		t.Fatalf("expected original email match, got new donation %d", matched.ID)
	}
}

func TestDonationAmountOverwrittenOnlyWhenZero(t *testing.T) {
	svc, _, _ := setupDonationServiceTest(t)

	placeholder, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:    "sq-charge-400",
		AmountMinor: 0,
		BuyerEmail:  "amount@example.com",
	})
	if err != nil {
		t.Fatalf("placeholder open failed: %v", err)
	}
	if placeholder.AmountMinor != 0 {
		t.Fatalf("expected placeholder amount 0, got %d", placeholder.AmountMinor)
	}

	updated, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:    "sq-charge-400",
		AmountMinor: 2500,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.AmountMinor != 2500 {
		t.Fatalf("placeholder amount not overwritten: %d", updated.AmountMinor)
	}

	unchanged, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:    "sq-charge-400",
		AmountMinor: 9900,
	})
	if err != nil {
		t.Fatalf("second update failed: %v", err)
	}
	if unchanged.AmountMinor != 2500 {
		t.Fatalf("non-zero amount overwritten: %d", unchanged.AmountMinor)
	}
}

func TestDonationChargeStatusMonotonic(t *testing.T) {
	svc, _, _ := setupDonationServiceTest(t)

	donation, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:     "sq-charge-500",
		ChargeStatus: constants.ChargeStatusSucceeded,
		AmountMinor:  1500,
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if donation.ChargedAt == nil {
		t.Fatalf("charged_at not stamped on success")
	}

	merged, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:     "sq-charge-500",
		ChargeStatus: constants.ChargeStatusPending,
	})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged.ChargeStatus != constants.ChargeStatusSucceeded {
		t.Fatalf("succeeded status downgraded to %s", merged.ChargeStatus)
	}

	marked, err := svc.MarkChargeResult(donation.ID, "sq-charge-500", constants.ChargeStatusFailed)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if marked.ChargeStatus != constants.ChargeStatusSucceeded {
		t.Fatalf("MarkChargeResult downgraded status to %s", marked.ChargeStatus)
	}
}

func TestDonationEnrichedFromAttribution(t *testing.T) {
	svc, attributionSvc, _ := setupDonationServiceTest(t)

	if _, err := attributionSvc.Record(RecordAttributionInput{
		ClickToken: "IwAR2enrich",
		SourceURL:  "https://perfectbodyme.co/landing",
	}); err != nil {
		t.Fatalf("attribution record failed: %v", err)
	}

	donation, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:    "sq-charge-600",
		ClickToken:  "IwAR2enrich",
		AmountMinor: 2500,
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if donation.BrowserPixelID == "" || donation.BrowserClickID == "" {
		t.Fatalf("fbp/fbc not enriched: fbp=%q fbc=%q", donation.BrowserPixelID, donation.BrowserClickID)
	}
	if donation.LandingURL != "https://perfectbodyme.co/landing" {
		t.Fatalf("landing url not enriched: %s", donation.LandingURL)
	}
}

func TestDonationAttributionMissDoesNotBlock(t *testing.T) {
	svc, _, _ := setupDonationServiceTest(t)

	donation, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:    "sq-charge-700",
		ClickToken:  "IwAR2neverStored",
		AmountMinor: 2500,
	})
	if err != nil {
		t.Fatalf("open should not fail on attribution miss: %v", err)
	}
	if donation.BrowserPixelID != "" {
		t.Fatalf("unexpected fbp on miss: %s", donation.BrowserPixelID)
	}
}

func TestDonationMarkConversionSentWinsOnce(t *testing.T) {
	svc, _, _ := setupDonationServiceTest(t)

	donation, err := svc.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:     "sq-charge-800",
		ChargeStatus: constants.ChargeStatusSucceeded,
		AmountMinor:  2500,
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	won, err := svc.MarkConversionSent(donation.ID)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !won {
		t.Fatalf("first mark should win")
	}
	won, err = svc.MarkConversionSent(donation.ID)
	if err != nil {
		t.Fatalf("second mark failed: %v", err)
	}
	if won {
		t.Fatalf("second mark should lose")
	}
}

func TestDonationRecordPaymentFailure(t *testing.T) {
	svc, _, db := setupDonationServiceTest(t)

	svc.RecordPaymentFailure(constants.PaymentProviderSquare, "fail@example.com", 2500, "card declined")

	var failures []models.PaymentFailure
	if err := db.Find(&failures).Error; err != nil {
		t.Fatalf("load failures failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure row, got %d", len(failures))
	}
	if failures[0].Reason != "card declined" {
		t.Fatalf("unexpected reason: %s", failures[0].Reason)
	}
}

func TestDonationConcurrentDoubleSubmitYieldsSingleRow(t *testing.T) {
	svc, _, db := setupDonationServiceTest(t)

	input := OpenOrUpdateDonationInput{
		ChargeID:     "sq-double-submit",
		ChargeStatus: constants.ChargeStatusSucceeded,
		Provider:     constants.PaymentProviderSquare,
		AmountMinor:  2500,
		BuyerEmail:   "donor@example.com",
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = svc.OpenOrUpdate(input)
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		t.Fatalf("at least one submit should land: %v", results)
	}

	var count int64
	if err := db.Model(&models.Donation{}).Where("charge_id = ?", "sq-double-submit").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("double submit should leave a single ledger row, got %d", count)
	}
}
