package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/paytrack-next/internal/logger"
	"github.com/paytrack-next/internal/provider"
	"github.com/paytrack-next/internal/queue"
	"github.com/paytrack-next/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskConversionDispatch, c.handleConversionDispatch)
}

func (c *Consumer) handleConversionDispatch(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_conversion_dispatch_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.ConversionDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_conversion_dispatch_unmarshal_failed", "error", err)
		return err
	}
	if payload.DonationID == 0 {
		logger.Debugw("worker_conversion_dispatch_skip_invalid_payload", "donation_id", payload.DonationID)
		return nil
	}
	if c.ConversionService == nil {
		logger.Warnw("worker_conversion_dispatch_skip_service_nil", "donation_id", payload.DonationID)
		return nil
	}
	result, err := c.ConversionService.ProcessConversion(ctx, service.ProcessConversionInput{
		DonationID:      payload.DonationID,
		RawPayload:      payload.RawPayload,
		ClientIP:        payload.ClientIP,
		ClientUserAgent: payload.ClientUserAgent,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			logger.Debugw("worker_conversion_dispatch_skip_donation_not_found", "donation_id", payload.DonationID)
			return nil
		case errors.Is(err, service.ErrIneligibleDonation):
			// 扣款未成功的捐赠由补偿扫描继续跟进，任务无需重试
			logger.Debugw("worker_conversion_dispatch_skip_ineligible", "donation_id", payload.DonationID, "error", err)
			return nil
		case errors.Is(err, service.ErrDispatchFailed):
			// 日志行已留在 pending，补偿扫描会接管，任务侧不再重复
			logger.Warnw("worker_conversion_dispatch_exhausted", "donation_id", payload.DonationID, "error", err)
			return nil
		default:
			logger.Warnw("worker_conversion_dispatch_failed", "donation_id", payload.DonationID, "error", err)
			return err
		}
	}
	if result.Suppressed {
		logger.Debugw("worker_conversion_dispatch_suppressed", "donation_id", payload.DonationID, "delivered", result.Delivered)
	}
	return nil
}
