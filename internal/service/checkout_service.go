package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/paytrack-next/internal/config"
	"github.com/paytrack-next/internal/constants"
	"github.com/paytrack-next/internal/logger"
	"github.com/paytrack-next/internal/models"
	"github.com/paytrack-next/internal/payment/square"
	"github.com/paytrack-next/internal/payment/stripe"
	"github.com/paytrack-next/internal/queue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutService 结算服务：扣款 + 开立台账 + 触发上报
type CheckoutService struct {
	cfg             *config.Config
	donationService *DonationService
	queueClient     *queue.Client
}

// NewCheckoutService 创建结算服务
func NewCheckoutService(cfg *config.Config, donationService *DonationService, queueClient *queue.Client) *CheckoutService {
	return &CheckoutService{
		cfg:             cfg,
		donationService: donationService,
		queueClient:     queueClient,
	}
}

// CheckoutInput 结算输入。Amount 为美元字符串（如 "25.00"）。
type CheckoutInput struct {
	SourceID       string // Square 卡令牌 / Stripe payment_method
	Amount         string
	Email          string
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

// CheckoutResult 结算结果
type CheckoutResult struct {
	DonationID   uint   `json:"donation_id"`
	ChargeID     string `json:"charge_id"`
	ChargeStatus string `json:"charge_status"`
	AmountMinor  int64  `json:"amount_minor"`
	ReceiptURL   string `json:"receipt_url,omitempty"`
}

// ProcessSquarePayment 处理 Square 一次性扣款并开立捐赠台账。
func (s *CheckoutService) ProcessSquarePayment(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	amountMinor, err := ParseDollarAmount(input.Amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.SourceID) == "" {
		return nil, fmt.Errorf("%w: card token is required", ErrInvalidInput)
	}

	sqCfg := &square.Config{
		AccessToken: s.cfg.Payment.Square.AccessToken,
		LocationID:  s.cfg.Payment.Square.LocationID,
		Environment: s.cfg.Payment.Square.Environment,
		APIBaseURL:  s.cfg.Payment.Square.APIBaseURL,
		TimeoutMS:   s.cfg.Payment.Square.TimeoutMS,
	}
	payment, err := square.CreatePayment(ctx, sqCfg, square.CreateInput{
		SourceID:       input.SourceID,
		IdempotencyKey: uuid.NewString(),
		AmountMinor:    amountMinor,
		Currency:       s.cfg.Payment.Currency,
		BuyerEmail:     input.Email,
		PostalCode:     input.PostalCode,
		Note:           "donation",
	})
	if err != nil {
		s.donationService.RecordPaymentFailure(constants.PaymentProviderSquare, input.Email, amountMinor, err.Error())
		logger.Warnw("square_payment_failed", "error", err, "email", input.Email, "amount_minor", amountMinor)
		return nil, fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
	}

	return s.openLedger(input, constants.PaymentProviderSquare, payment.PaymentID, payment.Status, amountMinor, payment.ReceiptURL)
}

// ProcessStripePayment 处理 Stripe PaymentIntent 扣款并开立捐赠台账。
func (s *CheckoutService) ProcessStripePayment(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	amountMinor, err := ParseDollarAmount(input.Amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.SourceID) == "" {
		return nil, fmt.Errorf("%w: payment method is required", ErrInvalidInput)
	}

	stCfg := &stripe.Config{
		SecretKey:  s.cfg.Payment.Stripe.SecretKey,
		APIBaseURL: s.cfg.Payment.Stripe.APIBaseURL,
		TimeoutMS:  s.cfg.Payment.Stripe.TimeoutMS,
	}
	intent, err := stripe.CreatePaymentIntent(ctx, stCfg, stripe.CreateIntentInput{
		AmountMinor:     amountMinor,
		Currency:        s.cfg.Payment.Currency,
		Description:     "donation",
		ReceiptEmail:    input.Email,
		PaymentMethodID: input.SourceID,
	})
	if err != nil {
		s.donationService.RecordPaymentFailure(constants.PaymentProviderStripe, input.Email, amountMinor, err.Error())
		logger.Warnw("stripe_payment_failed", "error", err, "email", input.Email, "amount_minor", amountMinor)
		return nil, fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
	}

	return s.openLedger(input, constants.PaymentProviderStripe, intent.PaymentIntentID, intent.Status, amountMinor, "")
}

// VerifyCharge 向提供方查询扣款状态，返回归一化状态。
func (s *CheckoutService) VerifyCharge(ctx context.Context, provider, chargeID string) (string, error) {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return "", fmt.Errorf("%w: charge id is required", ErrInvalidInput)
	}
	if provider == "" {
		provider = s.cfg.Payment.Provider
	}
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case constants.PaymentProviderSquare:
		sqCfg := &square.Config{
			AccessToken: s.cfg.Payment.Square.AccessToken,
			LocationID:  s.cfg.Payment.Square.LocationID,
			Environment: s.cfg.Payment.Square.Environment,
			APIBaseURL:  s.cfg.Payment.Square.APIBaseURL,
			TimeoutMS:   s.cfg.Payment.Square.TimeoutMS,
		}
		result, err := square.QueryPayment(ctx, sqCfg, chargeID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return result.Status, nil
	case constants.PaymentProviderStripe:
		stCfg := &stripe.Config{
			SecretKey:  s.cfg.Payment.Stripe.SecretKey,
			APIBaseURL: s.cfg.Payment.Stripe.APIBaseURL,
			TimeoutMS:  s.cfg.Payment.Stripe.TimeoutMS,
		}
		result, err := stripe.QueryPaymentIntent(ctx, stCfg, chargeID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return result.Status, nil
	default:
		return "", fmt.Errorf("%w: unsupported provider %s", ErrInvalidInput, provider)
	}
}

// openLedger 扣款成功后开立/更新台账，并在携带归因信息时异步触发上报。
// 未携带归因信息的结算不立即上报，等待完成页的转化回调补全归因。
func (s *CheckoutService) openLedger(input CheckoutInput, provider, chargeID, chargeStatus string, amountMinor int64, receiptURL string) (*CheckoutResult, error) {
	donation, err := s.donationService.OpenOrUpdate(OpenOrUpdateDonationInput{
		ChargeID:       chargeID,
		ChargeStatus:   chargeStatus,
		Provider:       provider,
		AmountMinor:    amountMinor,
		Currency:       s.cfg.Payment.Currency,
		BuyerEmail:     input.Email,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		CardName:       input.CardName,
		Country:        input.Country,
		PostalCode:     input.PostalCode,
		ClickToken:     input.ClickToken,
		BrowserPixelID: input.BrowserPixelID,
		BrowserClickID: input.BrowserClickID,
		EventID:        input.EventID,
		LandingURL:     input.LandingURL,
		CheckoutURL:    input.CheckoutURL,
	})
	if err != nil {
		return nil, err
	}

	if chargeStatus == constants.ChargeStatusSucceeded && s.hasInlineAttribution(input) {
		s.enqueueConversionDispatch(donation)
	}

	return &CheckoutResult{
		DonationID:   donation.ID,
		ChargeID:     chargeID,
		ChargeStatus: chargeStatus,
		AmountMinor:  amountMinor,
		ReceiptURL:   receiptURL,
	}, nil
}

func (s *CheckoutService) hasInlineAttribution(input CheckoutInput) bool {
	return strings.TrimSpace(input.ClickToken) != "" || strings.TrimSpace(input.EventID) != ""
}

func (s *CheckoutService) enqueueConversionDispatch(donation *models.Donation) {
	if s.queueClient == nil {
		return
	}
	err := s.queueClient.EnqueueConversionDispatch(queue.ConversionDispatchPayload{
		DonationID: donation.ID,
	})
	if err != nil {
		logger.Warnw("conversion_dispatch_enqueue_failed", "error", err, "donation_id", donation.ID)
		return
	}
	logger.Infow("conversion_dispatch_enqueued", "donation_id", donation.ID)
}

// ParseDollarAmount 将美元金额字符串换算为美分
func ParseDollarAmount(amount string) (int64, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("%w: amount is invalid", ErrInvalidInput)
	}
	if parsed.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}
	minor := parsed.Shift(2).Round(0)
	return minor.IntPart(), nil
}
