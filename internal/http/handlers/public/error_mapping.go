package public

import (
	"errors"

	"github.com/paytrack-next/internal/http/response"
	"github.com/paytrack-next/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.msg, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

var checkoutErrorRules = []mappedHandlerError{
	{target: service.ErrInvalidInput, code: response.CodeBadRequest, msg: "请求参数无效"},
	{target: service.ErrPaymentDeclined, code: response.CodeBadRequest, msg: "支付被拒绝"},
	{target: service.ErrProviderUnavailable, code: response.CodeInternal, msg: "支付提供方暂不可用"},
}

var conversionErrorRules = []mappedHandlerError{
	{target: service.ErrInvalidInput, code: response.CodeBadRequest, msg: "请求参数无效"},
	{target: service.ErrNotFound, code: response.CodeNotFound, msg: "捐赠记录不存在"},
	{target: service.ErrIneligibleDonation, code: response.CodeBadRequest, msg: "捐赠不符合上报条件"},
	{target: service.ErrChargeNotSuccessful, code: response.CodeBadRequest, msg: "支付未成功，暂不上报"},
	{target: service.ErrProviderUnavailable, code: response.CodeInternal, msg: "支付提供方暂不可用"},
	{target: service.ErrDispatchFailed, code: response.CodeInternal, msg: "转化投递失败，稍后将自动重试"},
	{target: service.ErrStorageFailed, code: response.CodeInternal, msg: "存储操作失败"},
}

func respondCheckoutError(c *gin.Context, err error) {
	respondWithMappedError(c, err, checkoutErrorRules, response.CodeInternal, "支付处理失败")
}

func respondConversionError(c *gin.Context, err error) {
	respondWithMappedError(c, err, conversionErrorRules, response.CodeInternal, "转化上报失败")
}
