package main

import (
	"fmt"
	"time"

	"github.com/paytrack-next/internal/config"
	"github.com/paytrack-next/internal/constants"
	"github.com/paytrack-next/internal/logger"
	"github.com/paytrack-next/internal/models"
)

// 本地开发用示例数据：归因记录、捐赠台账与上报日志。
func main() {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	now := time.Now()

	// 归因记录
	attributions := []models.AttributionRecord{
		{
			ClickToken:     "IwAR2demoClickTokenAlpha",
			BrowserPixelID: fmt.Sprintf("fb.1.%d.1234567890123456", now.Add(-2*time.Hour).Unix()),
			BrowserClickID: fmt.Sprintf("fb.1.%d.IwAR2demoClickTokenAlpha", now.Add(-2*time.Hour).Unix()),
			SourceURL:      "https://perfectbodyme.co/landing",
		},
		{
			ClickToken:     "IwAR3demoClickTokenBeta",
			BrowserPixelID: fmt.Sprintf("fb.1.%d.6543210987654321", now.Add(-30*time.Minute).Unix()),
			BrowserClickID: fmt.Sprintf("fb.1.%d.IwAR3demoClickTokenBeta", now.Add(-30*time.Minute).Unix()),
			SourceURL:      "https://perfectbodyme.co/spring-campaign",
		},
	}
	for _, record := range attributions {
		var existing models.AttributionRecord
		if err := models.DB.Where("click_token = ?", record.ClickToken).First(&existing).Error; err != nil {
			if err := models.DB.Create(&record).Error; err != nil {
				stdLog.Printf("Failed to create attribution %s: %v", record.ClickToken, err)
			} else {
				stdLog.Printf("Created attribution: %s", record.ClickToken)
			}
		} else {
			stdLog.Printf("Attribution already exists: %s", record.ClickToken)
		}
	}

	// 捐赠台账
	chargedAt := now.Add(-time.Hour)
	donations := []models.Donation{
		{
			AmountMinor:    2500,
			Currency:       "USD",
			BuyerEmail:     "donor.alpha@example.com",
			FirstName:      "Alex",
			LastName:       "Donor",
			Country:        "US",
			PostalCode:     "94103",
			Provider:       constants.PaymentProviderSquare,
			ChargeID:       "seed-square-charge-001",
			ChargeStatus:   constants.ChargeStatusSucceeded,
			ClickToken:     "IwAR2demoClickTokenAlpha",
			EventID:        "seed-event-001",
			LandingURL:     "https://perfectbodyme.co/landing",
			ConversionSent: true,
			ChargedAt:      &chargedAt,
		},
		{
			AmountMinor:  5000,
			Currency:     "USD",
			BuyerEmail:   "donor.beta@example.com",
			Provider:     constants.PaymentProviderStripe,
			ChargeID:     "seed-stripe-intent-002",
			ChargeStatus: constants.ChargeStatusPending,
			ClickToken:   "IwAR3demoClickTokenBeta",
		},
	}
	for _, donation := range donations {
		var existing models.Donation
		if err := models.DB.Where("charge_id = ?", donation.ChargeID).First(&existing).Error; err != nil {
			if err := models.DB.Create(&donation).Error; err != nil {
				stdLog.Printf("Failed to create donation %s: %v", donation.ChargeID, err)
			} else {
				stdLog.Printf("Created donation: %s", donation.ChargeID)
			}
		} else {
			stdLog.Printf("Donation already exists: %s", donation.ChargeID)
		}
	}

	// 上报日志：一条已送达，一条待补发
	var sentDonation models.Donation
	if err := models.DB.Where("charge_id = ?", "seed-square-charge-001").First(&sentDonation).Error; err == nil {
		seedConversionLog(stdLog.Printf, sentDonation.ID, constants.ConversionLogStatusSent, 1, "")
	}
	var pendingDonation models.Donation
	if err := models.DB.Where("charge_id = ?", "seed-stripe-intent-002").First(&pendingDonation).Error; err == nil {
		seedConversionLog(stdLog.Printf, pendingDonation.ID, constants.ConversionLogStatusPending, 3, "dispatch timeout")
	}

	fmt.Println("\n✅ Seed data created successfully!")
	fmt.Println("Summary:")
	fmt.Println("- 2 Attribution records")
	fmt.Println("- 2 Donations (1 sent, 1 pending)")
	fmt.Println("- 2 Conversion logs")
}

func seedConversionLog(logf func(format string, v ...interface{}), donationID uint, status string, attempts int, lastError string) {
	var existing models.ConversionLog
	if err := models.DB.Where("donation_id = ?", donationID).First(&existing).Error; err == nil {
		logf("Conversion log already exists for donation %d", donationID)
		return
	}
	now := time.Now()
	entry := models.ConversionLog{
		DonationID:    donationID,
		Status:        status,
		AttemptCount:  attempts,
		LastAttemptAt: &now,
		LastError:     lastError,
	}
	if err := models.DB.Create(&entry).Error; err != nil {
		logf("Failed to create conversion log for donation %d: %v", donationID, err)
		return
	}
	logf("Created conversion log for donation %d (%s)", donationID, status)
}
