package provider

import (
	"github.com/paytrack-next/internal/cache"
	"github.com/paytrack-next/internal/config"
	"github.com/paytrack-next/internal/logger"
	"github.com/paytrack-next/internal/models"
	"github.com/paytrack-next/internal/queue"
	"github.com/paytrack-next/internal/repository"
	"github.com/paytrack-next/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	AdminRepo          repository.AdminRepository
	AttributionRepo    repository.AttributionRepository
	DonationRepo       repository.DonationRepository
	ConversionLogRepo  repository.ConversionLogRepository
	PaymentFailureRepo repository.PaymentFailureRepository

	// Services
	AuthService        *service.AuthService
	AttributionService *service.AttributionService
	DonationService    *service.DonationService
	ConversionService  *service.ConversionService
	CheckoutService    *service.CheckoutService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.AdminRepo = repository.NewAdminRepository(db)
	c.AttributionRepo = repository.NewAttributionRepository(db)
	c.DonationRepo = repository.NewDonationRepository(db)
	c.ConversionLogRepo = repository.NewConversionLogRepository(db)
	c.PaymentFailureRepo = repository.NewPaymentFailureRepository(db)
}

func (c *Container) initServices() {
	c.AuthService = service.NewAuthService(c.Config, c.AdminRepo)
	c.AttributionService = service.NewAttributionService(c.AttributionRepo)
	c.DonationService = service.NewDonationService(c.DonationRepo, c.PaymentFailureRepo, c.AttributionService)
	c.ConversionService = service.NewConversionService(models.DB, c.DonationRepo, c.ConversionLogRepo, c.Config)
	c.CheckoutService = service.NewCheckoutService(c.Config, c.DonationService, c.QueueClient)
}
