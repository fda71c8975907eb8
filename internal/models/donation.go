package models

import (
	"time"
)

// Donation 捐赠台账
// 金额统一以最小货币单位（美分）存储，避免浮点误差。
type Donation struct {
	ID              uint       `gorm:"primarykey" json:"id"`                               // 主键
	AmountMinor     int64      `gorm:"not null;default:0" json:"amount_minor"`             // 金额（最小货币单位）
	Currency        string     `gorm:"not null;default:USD" json:"currency"`               // 币种
	BuyerEmail      string     `gorm:"index" json:"buyer_email"`                           // 付款人邮箱
	OriginalEmail   string     `gorm:"index" json:"original_email"`                        // 落地页最初采集的邮箱（上报优先）
	FirstName       string     `json:"first_name"`                                         // 名
	LastName        string     `json:"last_name"`                                          // 姓
	CardName        string     `json:"card_name"`                                          // 持卡人姓名
	Country         string     `json:"country"`                                            // 国家
	PostalCode      string     `json:"postal_code"`                                        // 邮编
	Provider        string     `gorm:"index" json:"provider"`                              // 支付提供方（square/stripe）
	ChargeID        string     `gorm:"uniqueIndex:uniq_donations_charge_id,where:charge_id <> ''" json:"charge_id"` // 提供方扣款流水号（非空值唯一，拦截并发双提交）
	ChargeStatus    string     `gorm:"index;not null;default:pending" json:"charge_status"` // 扣款状态（pending/succeeded/failed/unknown）
	ClickToken      string     `gorm:"index" json:"click_token"`                           // 广告点击令牌（fbclid）
	BrowserPixelID  string     `json:"browser_pixel_id"`                                   // 浏览器像素标识（fbp）
	BrowserClickID  string     `json:"browser_click_id"`                                   // 浏览器点击标识（fbc）
	EventID         string     `json:"event_id"`                                           // 上报事件去重 ID
	LandingURL      string     `gorm:"type:text" json:"landing_url"`                       // 落地页地址
	CheckoutURL     string     `gorm:"type:text" json:"checkout_url"`                      // 结算完成页地址
	ConversionSent  bool       `gorm:"not null;default:false;index" json:"conversion_sent"` // 转化是否已上报（单调，只能 false→true）
	ClientIP        string     `json:"client_ip"`                                          // 触发转化时的客户端 IP
	ClientUserAgent string     `gorm:"type:text" json:"client_user_agent"`                 // 触发转化时的 User-Agent
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`                            // 创建时间
	UpdatedAt       time.Time  `json:"updated_at"`                                         // 更新时间
	ChargedAt       *time.Time `gorm:"index" json:"charged_at"`                            // 扣款成功时间
}

// TableName 指定表名
func (Donation) TableName() string {
	return "donations"
}
