package repository

import (
	"github.com/paytrack-next/internal/models"

	"gorm.io/gorm"
)

// PaymentFailureRepository 支付失败记录数据访问接口
type PaymentFailureRepository interface {
	Create(failure *models.PaymentFailure) error
	ListAdmin(filter PaymentFailureListFilter) ([]models.PaymentFailure, int64, error)
	WithTx(tx *gorm.DB) *GormPaymentFailureRepository
}

// GormPaymentFailureRepository GORM 实现
type GormPaymentFailureRepository struct {
	db *gorm.DB
}

// NewPaymentFailureRepository 创建支付失败记录仓库
func NewPaymentFailureRepository(db *gorm.DB) *GormPaymentFailureRepository {
	return &GormPaymentFailureRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentFailureRepository) WithTx(tx *gorm.DB) *GormPaymentFailureRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentFailureRepository{db: tx}
}

// Create 创建支付失败记录
func (r *GormPaymentFailureRepository) Create(failure *models.PaymentFailure) error {
	return r.db.Create(failure).Error
}

// ListAdmin 管理端支付失败列表
func (r *GormPaymentFailureRepository) ListAdmin(filter PaymentFailureListFilter) ([]models.PaymentFailure, int64, error) {
	query := r.db.Model(&models.PaymentFailure{})

	if filter.Email != "" {
		query = query.Where("email = ?", filter.Email)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var failures []models.PaymentFailure
	if err := query.Order("id desc").Find(&failures).Error; err != nil {
		return nil, 0, err
	}
	return failures, total, nil
}
