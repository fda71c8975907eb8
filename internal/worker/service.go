package worker

import (
	"context"
	"errors"
	"time"

	"github.com/paytrack-next/internal/config"
	"github.com/paytrack-next/internal/queue"

	"github.com/hibiken/asynq"
)

const defaultRetrySweepInterval = time.Minute

// Service 异步队列服务
type Service struct {
	name          string
	server        *asynq.Server
	mux           *asynq.ServeMux
	consumer      *Consumer
	sweepInterval time.Duration
}

// NewService 创建异步队列服务
func NewService(cfg *config.Config, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Queue.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(&cfg.Queue)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	sweepInterval := defaultRetrySweepInterval
	if cfg.Retry.SweepIntervalSeconds > 0 {
		sweepInterval = time.Duration(cfg.Retry.SweepIntervalSeconds) * time.Second
	}
	return &Service{
		name:          "worker",
		server:        server,
		mux:           mux,
		consumer:      consumer,
		sweepInterval: sweepInterval,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if s.consumer != nil && s.consumer.ConversionService != nil {
		go s.runRetrySweepLoop(ctx)
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// runRetrySweepLoop 周期扫描待补发的转化日志。
// 扫描串行执行，上一轮未结束不会并发开启下一轮。
func (s *Service) runRetrySweepLoop(ctx context.Context) {
	if s == nil || s.consumer == nil || s.consumer.ConversionService == nil {
		return
	}
	runOnce := func() {
		s.consumer.ConversionService.RunRetrySweepOnce(ctx)
	}
	runOnce()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
