package public

import (
	"encoding/json"

	"github.com/paytrack-next/internal/constants"
	"github.com/paytrack-next/internal/http/response"
	"github.com/paytrack-next/internal/service"

	"github.com/gin-gonic/gin"
)

// FBConversionRequest 转化上报请求（完成页触发）
type FBConversionRequest struct {
	ChargeID       string `json:"charge_id"`
	Provider       string `json:"provider"`
	Amount         string `json:"amount"`
	Email          string `json:"email"`
	OriginalEmail  string `json:"original_email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Country        string `json:"country"`
	PostalCode     string `json:"postal_code"`
	ClickToken     string `json:"fbclid"`
	BrowserPixelID string `json:"fbp"`
	BrowserClickID string `json:"fbc"`
	EventID        string `json:"event_id"`
	LandingURL     string `json:"landing_url"`
	CheckoutURL    string `json:"checkout_url"`
}

// FBConversion 处理完成页的转化回调：级联匹配台账、核对扣款状态、触发上报。
// 客户端 IP/UA 以本次请求为准。
func (h *Handler) FBConversion(c *gin.Context) {
	var req FBConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}

	var amountMinor int64
	if req.Amount != "" {
		parsed, err := service.ParseDollarAmount(req.Amount)
		if err != nil {
			respondConversionError(c, err)
			return
		}
		amountMinor = parsed
	}

	donation, err := h.DonationService.OpenOrUpdate(service.OpenOrUpdateDonationInput{
		ChargeID:       req.ChargeID,
		Provider:       req.Provider,
		AmountMinor:    amountMinor,
		BuyerEmail:     req.Email,
		OriginalEmail:  req.OriginalEmail,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Country:        req.Country,
		PostalCode:     req.PostalCode,
		ClickToken:     req.ClickToken,
		BrowserPixelID: req.BrowserPixelID,
		BrowserClickID: req.BrowserClickID,
		EventID:        req.EventID,
		LandingURL:     req.LandingURL,
		CheckoutURL:    req.CheckoutURL,
	})
	if err != nil {
		respondConversionError(c, err)
		return
	}

	// 扣款状态非终态时向提供方核对一次
	if h.Config.Conversion.VerifyChargeWithQuery &&
		donation.ChargeStatus != constants.ChargeStatusSucceeded &&
		donation.ChargeID != "" {
		status, verifyErr := h.CheckoutService.VerifyCharge(c.Request.Context(), donation.Provider, donation.ChargeID)
		if verifyErr != nil {
			respondConversionError(c, verifyErr)
			return
		}
		donation, err = h.DonationService.MarkChargeResult(donation.ID, donation.ChargeID, status)
		if err != nil {
			respondConversionError(c, err)
			return
		}
		if donation.ChargeStatus != constants.ChargeStatusSucceeded {
			respondConversionError(c, service.ErrChargeNotSuccessful)
			return
		}
	}

	rawPayload, _ := json.Marshal(req)
	result, err := h.ConversionService.ProcessConversion(c.Request.Context(), service.ProcessConversionInput{
		DonationID:      donation.ID,
		RawPayload:      string(rawPayload),
		ClientIP:        c.ClientIP(),
		ClientUserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		respondConversionError(c, err)
		return
	}

	response.Success(c, result)
}
