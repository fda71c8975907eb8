package models

import (
	"time"
)

// PaymentFailure 支付失败记录，供运营排查
type PaymentFailure struct {
	ID          uint      `gorm:"primarykey" json:"id"`          // 主键
	Provider    string    `gorm:"index" json:"provider"`         // 支付提供方
	Email       string    `gorm:"index" json:"email"`            // 付款人邮箱
	AmountMinor int64     `json:"amount_minor"`                  // 金额（最小货币单位）
	Reason      string    `gorm:"type:text" json:"reason"`       // 失败原因
	CreatedAt   time.Time `gorm:"index" json:"created_at"`       // 创建时间
}

// TableName 指定表名
func (PaymentFailure) TableName() string {
	return "payment_failures"
}
