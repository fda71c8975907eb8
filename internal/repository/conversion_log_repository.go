package repository

import (
	"errors"

	"github.com/paytrack-next/internal/constants"
	"github.com/paytrack-next/internal/models"

	"gorm.io/gorm"
)

// ConversionLogRepository 转化日志数据访问接口
type ConversionLogRepository interface {
	Create(entry *models.ConversionLog) error
	Update(entry *models.ConversionLog) error
	GetByID(id uint) (*models.ConversionLog, error)
	ListPending(limit int) ([]models.ConversionLog, error)
	ListAdmin(filter ConversionLogListFilter) ([]models.ConversionLog, int64, error)
	WithTx(tx *gorm.DB) *GormConversionLogRepository
}

// GormConversionLogRepository GORM 实现
type GormConversionLogRepository struct {
	db *gorm.DB
}

// NewConversionLogRepository 创建转化日志仓库
func NewConversionLogRepository(db *gorm.DB) *GormConversionLogRepository {
	return &GormConversionLogRepository{db: db}
}

// WithTx 绑定事务
func (r *GormConversionLogRepository) WithTx(tx *gorm.DB) *GormConversionLogRepository {
	if tx == nil {
		return r
	}
	return &GormConversionLogRepository{db: tx}
}

// Create 创建转化日志
func (r *GormConversionLogRepository) Create(entry *models.ConversionLog) error {
	return r.db.Create(entry).Error
}

// Update 更新转化日志
func (r *GormConversionLogRepository) Update(entry *models.ConversionLog) error {
	return r.db.Save(entry).Error
}

// GetByID 根据 ID 获取转化日志
func (r *GormConversionLogRepository) GetByID(id uint) (*models.ConversionLog, error) {
	var entry models.ConversionLog
	if err := r.db.First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListPending 获取待补发的转化日志，按创建顺序返回
func (r *GormConversionLogRepository) ListPending(limit int) ([]models.ConversionLog, error) {
	entries := make([]models.ConversionLog, 0)
	query := r.db.Where("status = ?", constants.ConversionLogStatusPending).Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListAdmin 管理端转化日志列表
func (r *GormConversionLogRepository) ListAdmin(filter ConversionLogListFilter) ([]models.ConversionLog, int64, error) {
	query := r.db.Model(&models.ConversionLog{})

	if filter.DonationID != 0 {
		query = query.Where("donation_id = ?", filter.DonationID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
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

	var entries []models.ConversionLog
	if err := query.Order("id desc").Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
