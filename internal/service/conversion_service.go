package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paytrack-next/internal/capi"
	"github.com/paytrack-next/internal/config"
	"github.com/paytrack-next/internal/constants"
	"github.com/paytrack-next/internal/logger"
	"github.com/paytrack-next/internal/models"
	"github.com/paytrack-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ConversionService 转化上报服务
type ConversionService struct {
	db           *gorm.DB
	donationRepo repository.DonationRepository
	logRepo      repository.ConversionLogRepository
	destinations []capi.Config
	fallbackURL  string
	maxAttempts  int
	abandonAfter time.Duration
	sweepBatch   int

	// sleep 可注入，测试中替换以避免真实退避等待
	sleep func(time.Duration)

	guardMu  sync.Mutex
	inFlight map[uint]struct{}
}

// NewConversionService 创建转化上报服务
func NewConversionService(
	db *gorm.DB,
	donationRepo repository.DonationRepository,
	logRepo repository.ConversionLogRepository,
	cfg *config.Config,
) *ConversionService {
	svc := &ConversionService{
		db:           db,
		donationRepo: donationRepo,
		logRepo:      logRepo,
		fallbackURL:  strings.TrimSpace(cfg.Conversion.EventSourceFallback),
		maxAttempts:  cfg.Conversion.MaxAttempts,
		sweepBatch:   cfg.Retry.SweepBatchSize,
		sleep:        time.Sleep,
		inFlight:     make(map[uint]struct{}),
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = constants.ConversionMaxAttemptDefault
	}
	if cfg.Retry.AbandonAfterHours > 0 {
		svc.abandonAfter = time.Duration(cfg.Retry.AbandonAfterHours) * time.Hour
	}
	for _, dest := range cfg.Conversion.ResolveDestinations() {
		svc.destinations = append(svc.destinations, capi.Config{
			PixelID:       dest.PixelID,
			AccessToken:   dest.AccessToken,
			TestEventCode: dest.TestEventCode,
			APIBaseURL:    cfg.Conversion.APIBaseURL,
			APIVersion:    cfg.Conversion.APIVersion,
			TimeoutMS:     cfg.Conversion.DispatchTimeoutMS,
		})
	}
	return svc
}

// ProcessConversionInput 触发转化上报输入
type ProcessConversionInput struct {
	DonationID      uint
	RawPayload      string
	ClientIP        string
	ClientUserAgent string
}

// ProcessConversionResult 触发转化上报结果
type ProcessConversionResult struct {
	DonationID uint `json:"donation_id"`
	Delivered  bool `json:"delivered"`
	Suppressed bool `json:"suppressed"`
	Attempts   int  `json:"attempts"`
}

// BuildEvent 根据捐赠记录构建转化事件。
// 扣款未成功或缺少流水号时返回 ErrIneligibleDonation。
func (s *ConversionService) BuildEvent(donation *models.Donation) (*capi.Event, error) {
	if donation == nil {
		return nil, ErrNotFound
	}
	if donation.ChargeStatus != constants.ChargeStatusSucceeded || strings.TrimSpace(donation.ChargeID) == "" {
		return nil, fmt.Errorf("%w: donation_id=%d charge_status=%s", ErrIneligibleDonation, donation.ID, donation.ChargeStatus)
	}

	email := donation.OriginalEmail
	if strings.TrimSpace(email) == "" {
		email = donation.BuyerEmail
	}
	sourceURL := donation.LandingURL
	if strings.TrimSpace(sourceURL) == "" {
		sourceURL = donation.CheckoutURL
	}
	if strings.TrimSpace(sourceURL) == "" {
		sourceURL = s.fallbackURL
	}
	eventID := strings.TrimSpace(donation.EventID)
	if eventID == "" {
		eventID = strconv.FormatUint(uint64(donation.ID), 10)
	}
	currency := strings.TrimSpace(donation.Currency)
	if currency == "" {
		currency = constants.ConversionCurrencyDefault
	}
	value := decimal.NewFromInt(donation.AmountMinor).
		Div(decimal.NewFromInt(100)).
		InexactFloat64()

	event := &capi.Event{
		EventName:      constants.ConversionEventPurchase,
		EventTime:      time.Now().Unix(),
		EventID:        eventID,
		EventSourceURL: StripQueryString(sourceURL),
		ActionSource:   constants.ConversionActionSourceWeb,
		UserData: capi.UserData{
			Email:           capi.HashValue(email),
			FirstName:       capi.HashValue(donation.FirstName),
			LastName:        capi.HashValue(donation.LastName),
			Country:         capi.HashValue(donation.Country),
			PostalCode:      capi.HashValue(donation.PostalCode),
			BrowserPixelID:  strings.TrimSpace(donation.BrowserPixelID),
			BrowserClickID:  strings.TrimSpace(donation.BrowserClickID),
			ClientIPAddress: strings.TrimSpace(donation.ClientIP),
			ClientUserAgent: strings.TrimSpace(donation.ClientUserAgent),
		},
		CustomData: capi.CustomData{
			Value:      value,
			Currency:   currency,
			ClickToken: strings.TrimSpace(donation.ClickToken),
		},
	}
	return event, nil
}

// Dispatch 将事件投递到所有目标，任一失败即整体失败。
// 重试时会向全部目标重发，事件级 event_id 负责平台侧去重。
func (s *ConversionService) Dispatch(ctx context.Context, event *capi.Event) error {
	if len(s.destinations) == 0 {
		return fmt.Errorf("%w: no destinations configured", ErrDispatchFailed)
	}
	for i := range s.destinations {
		dest := &s.destinations[i]
		result, err := capi.SendEvent(ctx, dest, *event)
		if err != nil {
			return fmt.Errorf("%w: pixel=%s: %v", ErrDispatchFailed, dest.PixelID, err)
		}
		logger.Infow("conversion_destination_ok",
			"pixel_id", dest.PixelID,
			"event_id", event.EventID,
			"events_received", result.EventsReceived,
			"trace_id", result.TraceID,
		)
	}
	return nil
}

// AttemptWithRetry 一次完整的投递尝试：最多 maxAttempts 次，
// 失败后按 2^n 秒退避（最后一次失败不再等待）。
func (s *ConversionService) AttemptWithRetry(ctx context.Context, event *capi.Event) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = s.Dispatch(ctx, event)
		if lastErr == nil {
			return attempt, nil
		}
		logger.Warnw("conversion_attempt_failed",
			"event_id", event.EventID,
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
			"error", lastErr,
		)
		if attempt < s.maxAttempts {
			s.sleep(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return s.maxAttempts, lastErr
}

// ProcessConversion 处理一次转化上报触发。
// 同一捐赠的并发触发由进程内 guard 抑制；已上报的捐赠直接返回抑制结果。
// 投递失败时日志行保持 pending，由补偿扫描继续重试。
func (s *ConversionService) ProcessConversion(ctx context.Context, input ProcessConversionInput) (*ProcessConversionResult, error) {
	result := &ProcessConversionResult{DonationID: input.DonationID}

	if !s.tryAcquire(input.DonationID) {
		result.Suppressed = true
		logger.Infow("conversion_suppressed_in_flight", "donation_id", input.DonationID)
		return result, nil
	}
	defer s.release(input.DonationID)

	donation, err := s.donationRepo.GetByID(input.DonationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	if donation == nil {
		return nil, ErrNotFound
	}

	// 转化触发时采集的网络指纹覆盖历史值
	changed := false
	if ip := strings.TrimSpace(input.ClientIP); ip != "" && ip != donation.ClientIP {
		donation.ClientIP = ip
		changed = true
	}
	if ua := strings.TrimSpace(input.ClientUserAgent); ua != "" && ua != donation.ClientUserAgent {
		donation.ClientUserAgent = ua
		changed = true
	}
	if changed {
		if err := s.donationRepo.Update(donation); err != nil {
			logger.Warnw("donation_fingerprint_update_failed", "error", err, "donation_id", donation.ID)
		}
	}

	if donation.ConversionSent {
		result.Suppressed = true
		logger.Infow("conversion_suppressed_already_sent", "donation_id", donation.ID)
		return result, nil
	}

	event, err := s.BuildEvent(donation)
	if err != nil {
		return nil, err
	}

	entry := &models.ConversionLog{
		DonationID: donation.ID,
		RawPayload: input.RawPayload,
		Status:     constants.ConversionLogStatusPending,
	}
	if err := s.logRepo.Create(entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}

	attempts, dispatchErr := s.AttemptWithRetry(ctx, event)
	result.Attempts = attempts
	now := time.Now()
	entry.AttemptCount += attempts
	entry.LastAttemptAt = &now

	if dispatchErr != nil {
		entry.LastError = dispatchErr.Error()
		if err := s.logRepo.Update(entry); err != nil {
			logger.Errorw("conversion_log_update_failed", "error", err, "log_id", entry.ID)
		}
		logger.Warnw("conversion_dispatch_exhausted",
			"donation_id", donation.ID,
			"attempts", attempts,
			"error", dispatchErr,
		)
		return result, dispatchErr
	}

	// 置位与日志收敛放在同一事务里，避免送达后只落下一半状态
	entry.Status = constants.ConversionLogStatusSent
	entry.LastError = ""
	var won bool
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		won, err = s.donationRepo.WithTx(tx).MarkConversionSent(donation.ID)
		if err != nil {
			return err
		}
		return s.logRepo.WithTx(tx).Update(entry)
	})
	if txErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, txErr)
	}
	result.Delivered = true
	if !won {
		// 并发路径抢先置位：事件已送达，按抑制上报给调用方
		result.Suppressed = true
		logger.Warnw("conversion_sent_flag_race", "donation_id", donation.ID)
		return result, nil
	}

	logger.Infow("conversion_delivered",
		"donation_id", donation.ID,
		"event_id", event.EventID,
		"attempts", attempts,
		"destinations", len(s.destinations),
	)
	return result, nil
}

// RunRetrySweepOnce 扫描一轮待补发日志。串行执行，天然单飞。
func (s *ConversionService) RunRetrySweepOnce(ctx context.Context) {
	entries, err := s.logRepo.ListPending(s.sweepBatch)
	if err != nil {
		logger.Errorw("retry_sweep_list_failed", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	logger.Infow("retry_sweep_started", "pending", len(entries))

	for i := range entries {
		if ctx.Err() != nil {
			return
		}
		s.retryEntry(ctx, &entries[i])
	}
}

func (s *ConversionService) retryEntry(ctx context.Context, entry *models.ConversionLog) {
	if s.abandonAfter > 0 && time.Since(entry.CreatedAt) > s.abandonAfter {
		entry.Status = constants.ConversionLogStatusFailedExhausted
		if err := s.logRepo.Update(entry); err != nil {
			logger.Errorw("conversion_log_update_failed", "error", err, "log_id", entry.ID)
		}
		logger.Warnw("conversion_abandoned", "log_id", entry.ID, "donation_id", entry.DonationID)
		return
	}

	donation, err := s.donationRepo.GetByID(entry.DonationID)
	if err != nil {
		logger.Errorw("retry_sweep_load_failed", "error", err, "donation_id", entry.DonationID)
		return
	}
	if donation == nil {
		entry.Status = constants.ConversionLogStatusFailedExhausted
		entry.LastError = "donation missing"
		if err := s.logRepo.Update(entry); err != nil {
			logger.Errorw("conversion_log_update_failed", "error", err, "log_id", entry.ID)
		}
		return
	}
	if donation.ConversionSent {
		// 其他路径已送达，日志行只需收敛状态
		entry.Status = constants.ConversionLogStatusSent
		if err := s.logRepo.Update(entry); err != nil {
			logger.Errorw("conversion_log_update_failed", "error", err, "log_id", entry.ID)
		}
		return
	}

	if !s.tryAcquire(donation.ID) {
		return
	}
	defer s.release(donation.ID)

	event, err := s.BuildEvent(donation)
	if err != nil {
		// 扣款仍未成功：留在 pending，等待状态推进或放弃阈值
		logger.Debugw("retry_sweep_skipped_ineligible", "donation_id", donation.ID, "error", err)
		return
	}

	attempts, dispatchErr := s.AttemptWithRetry(ctx, event)
	now := time.Now()
	entry.AttemptCount += attempts
	entry.LastAttemptAt = &now
	if dispatchErr != nil {
		entry.LastError = dispatchErr.Error()
		if err := s.logRepo.Update(entry); err != nil {
			logger.Errorw("conversion_log_update_failed", "error", err, "log_id", entry.ID)
		}
		return
	}

	entry.Status = constants.ConversionLogStatusSent
	entry.LastError = ""
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.donationRepo.WithTx(tx).MarkConversionSent(donation.ID); err != nil {
			return err
		}
		return s.logRepo.WithTx(tx).Update(entry)
	})
	if txErr != nil {
		logger.Errorw("conversion_sent_flag_update_failed", "error", txErr, "donation_id", donation.ID)
		return
	}
	logger.Infow("conversion_retried_delivered",
		"donation_id", donation.ID,
		"log_id", entry.ID,
		"attempts", attempts,
	)
}

func (s *ConversionService) tryAcquire(donationID uint) bool {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	if _, ok := s.inFlight[donationID]; ok {
		return false
	}
	s.inFlight[donationID] = struct{}{}
	return true
}

func (s *ConversionService) release(donationID uint) {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	delete(s.inFlight, donationID)
}
