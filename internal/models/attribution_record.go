package models

import (
	"time"
)

// AttributionRecord 落地页归因记录，按点击令牌唯一
type AttributionRecord struct {
	ID             uint      `gorm:"primarykey" json:"id"`                                     // 主键
	ClickToken     string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"click_token"` // 广告点击令牌（fbclid）
	BrowserPixelID string    `json:"browser_pixel_id"`                                         // 浏览器像素标识（fbp）
	BrowserClickID string    `json:"browser_click_id"`                                         // 浏览器点击标识（fbc）
	SourceURL      string    `gorm:"type:text" json:"source_url"`                              // 落地页地址（已去除查询串）
	CreatedAt      time.Time `gorm:"index" json:"created_at"`                                  // 创建时间
	UpdatedAt      time.Time `json:"updated_at"`                                               // 更新时间
}

// TableName 指定表名
func (AttributionRecord) TableName() string {
	return "attribution_records"
}
