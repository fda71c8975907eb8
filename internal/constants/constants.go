package constants

// 捐赠支付状态常量
const (
	ChargeStatusPending   = "pending"
	ChargeStatusSucceeded = "succeeded"
	ChargeStatusFailed    = "failed"
	ChargeStatusUnknown   = "unknown"
)

// 支付提供方常量
const (
	PaymentProviderSquare = "square"
	PaymentProviderStripe = "stripe"
)

// 转化投递日志状态常量
const (
	ConversionLogStatusPending         = "pending"
	ConversionLogStatusSent            = "sent"
	ConversionLogStatusFailedExhausted = "failed_exhausted"
)

// 转化事件常量
const (
	ConversionEventPurchase     = "Purchase"
	ConversionActionSourceWeb   = "website"
	ConversionCurrencyDefault   = "USD"
	ConversionMaxAttemptDefault = 3
)

// 队列常量
const (
	QueueDefault           = "default"
	TaskConversionDispatch = "conversion:dispatch"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "pt"
)
