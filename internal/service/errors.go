package service

import "errors"

// 服务层统一哨兵错误，处理器通过 errors.Is 映射到响应码。
var (
	ErrNotFound           = errors.New("资源不存在")
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrInvalidPassword    = errors.New("密码错误")
	ErrInvalidInput       = errors.New("参数无效")
	ErrWeakPassword       = errors.New("密码强度不足")
	ErrUsernameTaken      = errors.New("用户名已存在")

	// ErrIneligibleDonation 捐赠未达到可上报状态（扣款未成功或缺少流水号）。
	ErrIneligibleDonation = errors.New("捐赠不符合上报条件")
	// ErrDispatchFailed 所有目标投递未全部成功，属可重试瞬时失败。
	ErrDispatchFailed = errors.New("转化投递失败")
	// ErrStorageFailed 底层存储读写失败。
	ErrStorageFailed = errors.New("存储操作失败")
	// ErrChargeNotSuccessful 支付提供方返回的扣款状态非成功。
	ErrChargeNotSuccessful = errors.New("支付未成功")
	// ErrPaymentDeclined 支付提供方拒绝扣款。
	ErrPaymentDeclined = errors.New("支付被拒绝")
	// ErrProviderUnavailable 支付提供方查询失败。
	ErrProviderUnavailable = errors.New("支付提供方暂不可用")
)
