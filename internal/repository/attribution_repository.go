package repository

import (
	"strings"

	"github.com/paytrack-next/internal/models"

	"gorm.io/gorm"
)

// AttributionRepository 归因记录数据访问接口
type AttributionRepository interface {
	Create(record *models.AttributionRecord) error
	Update(record *models.AttributionRecord) error
	GetByClickToken(clickToken string) (*models.AttributionRecord, error)
	ListAdmin(filter AttributionListFilter) ([]models.AttributionRecord, int64, error)
	WithTx(tx *gorm.DB) *GormAttributionRepository
}

// GormAttributionRepository GORM 实现
type GormAttributionRepository struct {
	db *gorm.DB
}

// NewAttributionRepository 创建归因记录仓库
func NewAttributionRepository(db *gorm.DB) *GormAttributionRepository {
	return &GormAttributionRepository{db: db}
}

// WithTx 绑定事务
func (r *GormAttributionRepository) WithTx(tx *gorm.DB) *GormAttributionRepository {
	if tx == nil {
		return r
	}
	return &GormAttributionRepository{db: tx}
}

// Create 创建归因记录
func (r *GormAttributionRepository) Create(record *models.AttributionRecord) error {
	return r.db.Create(record).Error
}

// Update 更新归因记录
func (r *GormAttributionRepository) Update(record *models.AttributionRecord) error {
	return r.db.Save(record).Error
}

// GetByClickToken 根据点击令牌获取归因记录
func (r *GormAttributionRepository) GetByClickToken(clickToken string) (*models.AttributionRecord, error) {
	clickToken = strings.TrimSpace(clickToken)
	if clickToken == "" {
		return nil, nil
	}
	var record models.AttributionRecord
	result := r.db.Where("click_token = ?", clickToken).Limit(1).Find(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// ListAdmin 管理端归因记录列表
func (r *GormAttributionRepository) ListAdmin(filter AttributionListFilter) ([]models.AttributionRecord, int64, error) {
	query := r.db.Model(&models.AttributionRecord{})

	if filter.ClickToken != "" {
		query = query.Where("click_token = ?", filter.ClickToken)
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

	var records []models.AttributionRecord
	if err := query.Order("id desc").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
