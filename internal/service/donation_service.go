package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/paytrack-next/internal/constants"
	"github.com/paytrack-next/internal/logger"
	"github.com/paytrack-next/internal/models"
	"github.com/paytrack-next/internal/repository"
)

// 邮箱+金额匹配的回溯窗口
const donationEmailMatchWindow = 24 * time.Hour

// DonationService 捐赠台账服务
type DonationService struct {
	donationRepo repository.DonationRepository
	failureRepo  repository.PaymentFailureRepository
	attribution  *AttributionService
}

// NewDonationService 创建捐赠台账服务
func NewDonationService(
	donationRepo repository.DonationRepository,
	failureRepo repository.PaymentFailureRepository,
	attribution *AttributionService,
) *DonationService {
	return &DonationService{
		donationRepo: donationRepo,
		failureRepo:  failureRepo,
		attribution:  attribution,
	}
}

// OpenOrUpdateDonationInput 开立/更新捐赠输入
type OpenOrUpdateDonationInput struct {
	ChargeID       string
	ChargeStatus   string // 已归一化（pending/succeeded/failed/unknown），空串表示未知来源
	Provider       string
	AmountMinor    int64
	Currency       string
	BuyerEmail     string
	OriginalEmail  string
	FirstName      string
	LastName       string
	CardName       string
	Country        string
	PostalCode     string
	ClickToken     string
	BrowserPixelID string
	BrowserClickID string
	EventID        string
	LandingURL     string
	CheckoutURL    string
}

// OpenOrUpdate 级联匹配并开立/更新捐赠记录。
// 匹配顺序：扣款流水号 → 点击令牌最新记录 → 邮箱+金额（24 小时窗口内）。
// 未命中则新建；命中时按字段做空值合并，金额只在原值为 0 时覆盖。
// 归因补全失败不阻断流程。
func (s *DonationService) OpenOrUpdate(input OpenOrUpdateDonationInput) (*models.Donation, error) {
	normalizeDonationInput(&input)

	existing, err := s.matchExisting(input)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		donation := buildDonation(input)
		s.enrichFromAttribution(donation)
		if err := s.donationRepo.Create(donation); err != nil {
			// 同一流水号的并发双提交：唯一索引拦下后到的插入，
			// 落败方回读已落库的记录转入合并分支。
			if input.ChargeID != "" {
				winner, matchErr := s.matchExisting(input)
				if matchErr == nil && winner != nil {
					logger.Infow("donation_double_submit_recovered",
						"donation_id", winner.ID,
						"charge_id", winner.ChargeID,
					)
					return s.mergeAndSave(winner, input)
				}
			}
			return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
		}
		logger.Infow("donation_opened",
			"donation_id", donation.ID,
			"charge_id", donation.ChargeID,
			"amount_minor", donation.AmountMinor,
			"click_token", donation.ClickToken,
		)
		return donation, nil
	}

	return s.mergeAndSave(existing, input)
}

func (s *DonationService) mergeAndSave(existing *models.Donation, input OpenOrUpdateDonationInput) (*models.Donation, error) {
	mergeDonation(existing, input)
	s.enrichFromAttribution(existing)
	if err := s.donationRepo.Update(existing); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	logger.Infow("donation_merged",
		"donation_id", existing.ID,
		"charge_id", existing.ChargeID,
		"charge_status", existing.ChargeStatus,
	)
	return existing, nil
}

// MarkChargeResult 记录扣款结果。状态单调：succeeded 不会被降级。
func (s *DonationService) MarkChargeResult(donationID uint, chargeID, status string) (*models.Donation, error) {
	donation, err := s.donationRepo.GetByID(donationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	if donation == nil {
		return nil, ErrNotFound
	}

	chargeID = strings.TrimSpace(chargeID)
	if donation.ChargeID == "" && chargeID != "" {
		donation.ChargeID = chargeID
	}
	status = normalizeChargeStatus(status)
	if donation.ChargeStatus != constants.ChargeStatusSucceeded && status != "" {
		donation.ChargeStatus = status
	}
	if donation.ChargeStatus == constants.ChargeStatusSucceeded && donation.ChargedAt == nil {
		now := time.Now()
		donation.ChargedAt = &now
	}
	if err := s.donationRepo.Update(donation); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	return donation, nil
}

// MarkConversionSent 翻转上报标记，返回本次调用是否抢到置位
func (s *DonationService) MarkConversionSent(donationID uint) (bool, error) {
	won, err := s.donationRepo.MarkConversionSent(donationID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	return won, nil
}

// RecordPaymentFailure 记录支付失败，写入失败不阻断调用方
func (s *DonationService) RecordPaymentFailure(provider, email string, amountMinor int64, reason string) {
	if s.failureRepo == nil {
		return
	}
	failure := &models.PaymentFailure{
		Provider:    provider,
		Email:       strings.TrimSpace(email),
		AmountMinor: amountMinor,
		Reason:      reason,
	}
	if err := s.failureRepo.Create(failure); err != nil {
		logger.Warnw("payment_failure_record_failed", "error", err, "email", failure.Email)
	}
}

func (s *DonationService) matchExisting(input OpenOrUpdateDonationInput) (*models.Donation, error) {
	if input.ChargeID != "" {
		donation, err := s.donationRepo.GetLatestByChargeID(input.ChargeID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
		}
		if donation != nil {
			return donation, nil
		}
	}
	if input.ClickToken != "" {
		donation, err := s.donationRepo.GetLatestByClickToken(input.ClickToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
		}
		if donation != nil {
			return donation, nil
		}
	}
	email := input.OriginalEmail
	if email == "" {
		email = input.BuyerEmail
	}
	if email != "" && input.AmountMinor > 0 {
		since := time.Now().Add(-donationEmailMatchWindow)
		donation, err := s.donationRepo.GetRecentByEmailAmount(email, input.AmountMinor, since)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
		}
		if donation != nil {
			return donation, nil
		}
	}
	return nil, nil
}

// enrichFromAttribution 从归因存储补全缺失的 fbp/fbc/落地页。
// 查询失败只记录告警：归因缺失不是投递失败的理由。
func (s *DonationService) enrichFromAttribution(donation *models.Donation) {
	if s.attribution == nil || donation.ClickToken == "" {
		return
	}
	if donation.BrowserPixelID != "" && donation.BrowserClickID != "" && donation.LandingURL != "" {
		return
	}
	record, err := s.attribution.Lookup(donation.ClickToken)
	if err != nil {
		logger.Warnw("attribution_enrich_failed", "error", err, "click_token", donation.ClickToken)
		return
	}
	if record == nil {
		logger.Infow("attribution_lookup_miss", "click_token", donation.ClickToken)
		return
	}
	if donation.BrowserPixelID == "" {
		donation.BrowserPixelID = record.BrowserPixelID
	}
	if donation.BrowserClickID == "" {
		donation.BrowserClickID = record.BrowserClickID
	}
	if donation.LandingURL == "" {
		donation.LandingURL = record.SourceURL
	}
}

func normalizeDonationInput(input *OpenOrUpdateDonationInput) {
	input.ChargeID = strings.TrimSpace(input.ChargeID)
	input.ChargeStatus = normalizeChargeStatus(input.ChargeStatus)
	input.Provider = strings.ToLower(strings.TrimSpace(input.Provider))
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	input.BuyerEmail = strings.TrimSpace(input.BuyerEmail)
	input.OriginalEmail = strings.TrimSpace(input.OriginalEmail)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.CardName = strings.TrimSpace(input.CardName)
	input.Country = strings.TrimSpace(input.Country)
	input.PostalCode = strings.TrimSpace(input.PostalCode)
	input.ClickToken = strings.TrimSpace(input.ClickToken)
	input.BrowserPixelID = strings.TrimSpace(input.BrowserPixelID)
	input.BrowserClickID = strings.TrimSpace(input.BrowserClickID)
	input.EventID = strings.TrimSpace(input.EventID)
	input.LandingURL = strings.TrimSpace(input.LandingURL)
	input.CheckoutURL = strings.TrimSpace(input.CheckoutURL)
}

func normalizeChargeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case constants.ChargeStatusPending:
		return constants.ChargeStatusPending
	case constants.ChargeStatusSucceeded:
		return constants.ChargeStatusSucceeded
	case constants.ChargeStatusFailed:
		return constants.ChargeStatusFailed
	case constants.ChargeStatusUnknown:
		return constants.ChargeStatusUnknown
	case "":
		return ""
	default:
		return constants.ChargeStatusUnknown
	}
}

func buildDonation(input OpenOrUpdateDonationInput) *models.Donation {
	status := input.ChargeStatus
	if status == "" {
		status = constants.ChargeStatusPending
	}
	currency := input.Currency
	if currency == "" {
		currency = constants.ConversionCurrencyDefault
	}
	return &models.Donation{
		AmountMinor:    input.AmountMinor,
		Currency:       currency,
		BuyerEmail:     input.BuyerEmail,
		OriginalEmail:  input.OriginalEmail,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		CardName:       input.CardName,
		Country:        input.Country,
		PostalCode:     input.PostalCode,
		Provider:       input.Provider,
		ChargeID:       input.ChargeID,
		ChargeStatus:   status,
		ClickToken:     input.ClickToken,
		BrowserPixelID: input.BrowserPixelID,
		BrowserClickID: input.BrowserClickID,
		EventID:        input.EventID,
		LandingURL:     input.LandingURL,
		CheckoutURL:    input.CheckoutURL,
	}
}

// mergeDonation 空值合并：仅填充已有记录中缺失的字段。
// 金额例外：原值为 0（占位）且输入有值时覆盖。
func mergeDonation(existing *models.Donation, input OpenOrUpdateDonationInput) {
	if existing.AmountMinor == 0 && input.AmountMinor > 0 {
		existing.AmountMinor = input.AmountMinor
	}
	if existing.Currency == "" && input.Currency != "" {
		existing.Currency = input.Currency
	}
	fillIfEmpty(&existing.BuyerEmail, input.BuyerEmail)
	fillIfEmpty(&existing.OriginalEmail, input.OriginalEmail)
	fillIfEmpty(&existing.FirstName, input.FirstName)
	fillIfEmpty(&existing.LastName, input.LastName)
	fillIfEmpty(&existing.CardName, input.CardName)
	fillIfEmpty(&existing.Country, input.Country)
	fillIfEmpty(&existing.PostalCode, input.PostalCode)
	fillIfEmpty(&existing.Provider, input.Provider)
	fillIfEmpty(&existing.ChargeID, input.ChargeID)
	fillIfEmpty(&existing.ClickToken, input.ClickToken)
	fillIfEmpty(&existing.BrowserPixelID, input.BrowserPixelID)
	fillIfEmpty(&existing.BrowserClickID, input.BrowserClickID)
	fillIfEmpty(&existing.EventID, input.EventID)
	fillIfEmpty(&existing.LandingURL, input.LandingURL)
	fillIfEmpty(&existing.CheckoutURL, input.CheckoutURL)
	if existing.ChargeStatus != constants.ChargeStatusSucceeded && input.ChargeStatus != "" {
		existing.ChargeStatus = input.ChargeStatus
	}
	if existing.ChargeStatus == constants.ChargeStatusSucceeded && existing.ChargedAt == nil {
		now := time.Now()
		existing.ChargedAt = &now
	}
}

func fillIfEmpty(target *string, value string) {
	if *target == "" && value != "" {
		*target = value
	}
}
