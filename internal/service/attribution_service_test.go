package service

import (
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/paytrack-next/internal/models"
	"github.com/paytrack-next/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupAttributionServiceTest(t *testing.T) (*AttributionService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:attribution_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&models.AttributionRecord{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return NewAttributionService(repository.NewAttributionRepository(db)), db
}

func TestAttributionRecordSynthesizesBrowserIdentifiers(t *testing.T) {
	svc, _ := setupAttributionServiceTest(t)

	record, err := svc.Record(RecordAttributionInput{
		ClickToken: "IwAR2tokenAlpha",
		SourceURL:  "https://perfectbodyme.co/landing?utm_source=fb&fbclid=IwAR2tokenAlpha",
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	pixelPattern := regexp.MustCompile(`^fb\.1\.\d+\.\d{16}$`)
	if !pixelPattern.MatchString(record.BrowserPixelID) {
		t.Fatalf("unexpected fbp format: %s", record.BrowserPixelID)
	}
	clickPattern := regexp.MustCompile(`^fb\.1\.\d+\.IwAR2tokenAlpha$`)
	if !clickPattern.MatchString(record.BrowserClickID) {
		t.Fatalf("unexpected fbc format: %s", record.BrowserClickID)
	}
	if record.SourceURL != "https://perfectbodyme.co/landing" {
		t.Fatalf("query string not stripped: %s", record.SourceURL)
	}
}

func TestAttributionRecordKeepsClientProvidedIdentifiers(t *testing.T) {
	svc, _ := setupAttributionServiceTest(t)

	record, err := svc.Record(RecordAttributionInput{
		ClickToken:     "IwAR2tokenKeep",
		BrowserPixelID: "fb.1.1700000000.1111222233334444",
		BrowserClickID: "fb.1.1700000000.IwAR2tokenKeep",
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if record.BrowserPixelID != "fb.1.1700000000.1111222233334444" {
		t.Fatalf("client fbp overwritten: %s", record.BrowserPixelID)
	}
	if record.BrowserClickID != "fb.1.1700000000.IwAR2tokenKeep" {
		t.Fatalf("client fbc overwritten: %s", record.BrowserClickID)
	}
}

func TestAttributionRecordWithoutTokenIsEphemeral(t *testing.T) {
	svc, db := setupAttributionServiceTest(t)

	record, err := svc.Record(RecordAttributionInput{
		SourceURL: "https://perfectbodyme.co/landing",
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if record.BrowserPixelID == "" {
		t.Fatalf("expected synthesized fbp for tokenless capture")
	}
	if record.BrowserClickID != "" {
		t.Fatalf("fbc should not be synthesized without click token: %s", record.BrowserClickID)
	}

	var count int64
	if err := db.Model(&models.AttributionRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("tokenless capture persisted: count=%d", count)
	}
}

func TestAttributionRecordMergesOnlyMissingFields(t *testing.T) {
	svc, db := setupAttributionServiceTest(t)

	first, err := svc.Record(RecordAttributionInput{
		ClickToken:     "IwAR2tokenMerge",
		BrowserPixelID: "fb.1.1700000000.0000111122223333",
	})
	if err != nil {
		t.Fatalf("first record failed: %v", err)
	}

	merged, err := svc.Record(RecordAttributionInput{
		ClickToken:     "IwAR2tokenMerge",
		BrowserPixelID: "fb.1.1700009999.9999888877776666",
		SourceURL:      "https://perfectbodyme.co/spring?ref=ad",
	})
	if err != nil {
		t.Fatalf("merge record failed: %v", err)
	}
	if merged.ID != first.ID {
		t.Fatalf("expected merge into existing row, got new id %d", merged.ID)
	}
	if merged.BrowserPixelID != "fb.1.1700000000.0000111122223333" {
		t.Fatalf("existing fbp overwritten: %s", merged.BrowserPixelID)
	}
	if merged.SourceURL != "https://perfectbodyme.co/spring" {
		t.Fatalf("missing source_url not filled: %s", merged.SourceURL)
	}

	var count int64
	if err := db.Model(&models.AttributionRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected single row per click token, got %d", count)
	}
}

func TestAttributionLookupMissReturnsNil(t *testing.T) {
	svc, _ := setupAttributionServiceTest(t)

	record, err := svc.Lookup("IwAR2tokenMissing")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil on miss, got %+v", record)
	}
}

func TestStripQueryString(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://perfectbodyme.co/landing?fbclid=abc&utm=1", "https://perfectbodyme.co/landing"},
		{"https://perfectbodyme.co/landing#section", "https://perfectbodyme.co/landing"},
		{"https://perfectbodyme.co/landing", "https://perfectbodyme.co/landing"},
		{"  https://perfectbodyme.co/a?b=c  ", "https://perfectbodyme.co/a"},
		{"not-a-url?x=1", "not-a-url"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := StripQueryString(tc.in); got != tc.want {
			t.Fatalf("StripQueryString(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStripQueryStringKeepsPath(t *testing.T) {
	got := StripQueryString("https://perfectbodyme.co/checkout/complete?session=9f8e")
	if !strings.HasSuffix(got, "/checkout/complete") {
		t.Fatalf("path lost: %s", got)
	}
}
