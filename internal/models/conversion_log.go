package models

import (
	"time"
)

// ConversionLog 转化上报日志，一行代表一次投递任务的持久化状态
type ConversionLog struct {
	ID            uint       `gorm:"primarykey" json:"id"`                          // 主键
	DonationID    uint       `gorm:"index;not null" json:"donation_id"`             // 关联捐赠 ID
	RawPayload    string     `gorm:"type:text" json:"raw_payload"`                  // 触发时的原始请求数据
	AttemptCount  int        `gorm:"not null;default:0" json:"attempt_count"`       // 累计尝试次数
	LastAttemptAt *time.Time `gorm:"index" json:"last_attempt_at"`                  // 最近一次尝试时间
	Status        string     `gorm:"index;not null;default:pending" json:"status"`  // 状态（pending/sent/failed_exhausted）
	LastError     string     `gorm:"type:text" json:"last_error"`                   // 最近一次失败原因
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`                       // 创建时间
	UpdatedAt     time.Time  `json:"updated_at"`                                    // 更新时间
}

// TableName 指定表名
func (ConversionLog) TableName() string {
	return "conversion_logs"
}
