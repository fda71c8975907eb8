package repository

import "time"

// DonationListFilter 管理端捐赠列表过滤条件
type DonationListFilter struct {
	Email          string
	ChargeID       string
	ChargeStatus   string
	Provider       string
	ClickToken     string
	ConversionSent *bool
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	Page           int
	PageSize       int
}

// ConversionLogListFilter 管理端转化日志列表过滤条件
type ConversionLogListFilter struct {
	DonationID  uint
	Status      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Page        int
	PageSize    int
}

// AttributionListFilter 管理端归因记录列表过滤条件
type AttributionListFilter struct {
	ClickToken  string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Page        int
	PageSize    int
}

// PaymentFailureListFilter 管理端支付失败列表过滤条件
type PaymentFailureListFilter struct {
	Email       string
	Provider    string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Page        int
	PageSize    int
}
