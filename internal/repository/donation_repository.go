package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/paytrack-next/internal/models"

	"gorm.io/gorm"
)

// DonationRepository 捐赠台账数据访问接口
type DonationRepository interface {
	Create(donation *models.Donation) error
	Update(donation *models.Donation) error
	GetByID(id uint) (*models.Donation, error)
	GetLatestByChargeID(chargeID string) (*models.Donation, error)
	GetLatestByClickToken(clickToken string) (*models.Donation, error)
	GetRecentByEmailAmount(email string, amountMinor int64, since time.Time) (*models.Donation, error)
	MarkConversionSent(id uint) (bool, error)
	ListAdmin(filter DonationListFilter) ([]models.Donation, int64, error)
	WithTx(tx *gorm.DB) *GormDonationRepository
}

// GormDonationRepository GORM 实现
type GormDonationRepository struct {
	db *gorm.DB
}

// NewDonationRepository 创建捐赠仓库
func NewDonationRepository(db *gorm.DB) *GormDonationRepository {
	return &GormDonationRepository{db: db}
}

// WithTx 绑定事务
func (r *GormDonationRepository) WithTx(tx *gorm.DB) *GormDonationRepository {
	if tx == nil {
		return r
	}
	return &GormDonationRepository{db: tx}
}

// Create 创建捐赠记录
func (r *GormDonationRepository) Create(donation *models.Donation) error {
	return r.db.Create(donation).Error
}

// Update 更新捐赠记录
func (r *GormDonationRepository) Update(donation *models.Donation) error {
	return r.db.Save(donation).Error
}

// GetByID 根据 ID 获取捐赠记录
func (r *GormDonationRepository) GetByID(id uint) (*models.Donation, error) {
	var donation models.Donation
	if err := r.db.First(&donation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &donation, nil
}

// GetLatestByChargeID 根据扣款流水号获取最新捐赠记录
func (r *GormDonationRepository) GetLatestByChargeID(chargeID string) (*models.Donation, error) {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return nil, nil
	}
	var donation models.Donation
	result := r.db.Where("charge_id = ?", chargeID).Order("id desc").Limit(1).Find(&donation)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &donation, nil
}

// GetLatestByClickToken 根据点击令牌获取最新捐赠记录
func (r *GormDonationRepository) GetLatestByClickToken(clickToken string) (*models.Donation, error) {
	clickToken = strings.TrimSpace(clickToken)
	if clickToken == "" {
		return nil, nil
	}
	var donation models.Donation
	result := r.db.Where("click_token = ?", clickToken).Order("id desc").Limit(1).Find(&donation)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &donation, nil
}

// GetRecentByEmailAmount 按邮箱+金额在时间窗口内匹配最新捐赠记录。
// 邮箱同时匹配付款邮箱与最初采集邮箱。
func (r *GormDonationRepository) GetRecentByEmailAmount(email string, amountMinor int64, since time.Time) (*models.Donation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || amountMinor <= 0 {
		return nil, nil
	}
	var donation models.Donation
	result := r.db.
		Where("(lower(original_email) = ? OR lower(buyer_email) = ?) AND amount_minor = ? AND created_at >= ?",
			email, email, amountMinor, since).
		Order("id desc").Limit(1).Find(&donation)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &donation, nil
}

// MarkConversionSent 以检查-置位方式翻转上报标记，返回本次调用是否抢到置位。
// 标记单调：一旦为 true 不会被重置。
func (r *GormDonationRepository) MarkConversionSent(id uint) (bool, error) {
	if id == 0 {
		return false, nil
	}
	result := r.db.Model(&models.Donation{}).
		Where("id = ? AND conversion_sent = ?", id, false).
		Update("conversion_sent", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListAdmin 管理端捐赠列表
func (r *GormDonationRepository) ListAdmin(filter DonationListFilter) ([]models.Donation, int64, error) {
	query := r.db.Model(&models.Donation{})

	if filter.Email != "" {
		email := strings.ToLower(strings.TrimSpace(filter.Email))
		query = query.Where("lower(buyer_email) = ? OR lower(original_email) = ?", email, email)
	}
	if filter.ChargeID != "" {
		query = query.Where("charge_id = ?", filter.ChargeID)
	}
	if filter.ChargeStatus != "" {
		query = query.Where("charge_status = ?", filter.ChargeStatus)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.ClickToken != "" {
		query = query.Where("click_token = ?", filter.ClickToken)
	}
	if filter.ConversionSent != nil {
		query = query.Where("conversion_sent = ?", *filter.ConversionSent)
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

	var donations []models.Donation
	if err := query.Order("id desc").Find(&donations).Error; err != nil {
		return nil, 0, err
	}
	return donations, total, nil
}
