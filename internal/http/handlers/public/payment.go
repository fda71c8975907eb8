package public

import (
	"github.com/paytrack-next/internal/http/response"
	"github.com/paytrack-next/internal/service"

	"github.com/gin-gonic/gin"
)

// CheckoutRequest 结算请求
type CheckoutRequest struct {
	SourceID       string `json:"source_id" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	Email          string `json:"email" binding:"required"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	CardName       string `json:"card_name"`
	Country        string `json:"country"`
	PostalCode     string `json:"postal_code"`
	ClickToken     string `json:"fbclid"`
	BrowserPixelID string `json:"fbp"`
	BrowserClickID string `json:"fbc"`
	EventID        string `json:"event_id"`
	LandingURL     string `json:"landing_url"`
	CheckoutURL    string `json:"checkout_url"`
}

func (r CheckoutRequest) toServiceInput() service.CheckoutInput {
	return service.CheckoutInput{
		SourceID:       r.SourceID,
		Amount:         r.Amount,
		Email:          r.Email,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		CardName:       r.CardName,
		Country:        r.Country,
		PostalCode:     r.PostalCode,
		ClickToken:     r.ClickToken,
		BrowserPixelID: r.BrowserPixelID,
		BrowserClickID: r.BrowserClickID,
		EventID:        r.EventID,
		LandingURL:     r.LandingURL,
		CheckoutURL:    r.CheckoutURL,
	}
}

// ProcessSquarePayment 处理 Square 捐赠扣款
func (h *Handler) ProcessSquarePayment(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}

	result, err := h.CheckoutService.ProcessSquarePayment(c.Request.Context(), req.toServiceInput())
	if err != nil {
		respondCheckoutError(c, err)
		return
	}

	response.Success(c, result)
}

// ProcessStripePayment 处理 Stripe 捐赠扣款
func (h *Handler) ProcessStripePayment(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}

	result, err := h.CheckoutService.ProcessStripePayment(c.Request.Context(), req.toServiceInput())
	if err != nil {
		respondCheckoutError(c, err)
		return
	}

	response.Success(c, result)
}
