package admin

import (
	"strconv"
	"strings"
	"time"

	"github.com/paytrack-next/internal/constants"
	"github.com/paytrack-next/internal/http/response"
	"github.com/paytrack-next/internal/models"
	"github.com/paytrack-next/internal/repository"

	"github.com/gin-gonic/gin"
)

// AdminListDonations 捐赠台账列表。
// refresh=1 时对列表中未达终态的记录向支付提供方核对一次状态。
func (h *Handler) AdminListDonations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	filter := repository.DonationListFilter{
		Email:        strings.TrimSpace(c.Query("email")),
		ChargeID:     strings.TrimSpace(c.Query("charge_id")),
		ChargeStatus: strings.TrimSpace(c.Query("charge_status")),
		Provider:     strings.TrimSpace(c.Query("provider")),
		ClickToken:   strings.TrimSpace(c.Query("click_token")),
		CreatedFrom:  parseTimeQuery(c.Query("created_from")),
		CreatedTo:    parseTimeQuery(c.Query("created_to")),
		Page:         page,
		PageSize:     pageSize,
	}
	if sent := strings.TrimSpace(c.Query("conversion_sent")); sent != "" {
		value := sent == "1" || strings.EqualFold(sent, "true")
		filter.ConversionSent = &value
	}

	donations, total, err := h.DonationRepo.ListAdmin(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "捐赠列表查询失败", err)
		return
	}

	if c.Query("refresh") == "1" {
		h.refreshChargeStatuses(c, donations)
	}

	pagination := response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	response.SuccessWithPage(c, donations, pagination)
}

// AdminGetDonation 捐赠详情
func (h *Handler) AdminGetDonation(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, "捐赠 ID 无效", nil)
		return
	}

	donation, err := h.DonationRepo.GetByID(uint(id))
	if err != nil {
		respondError(c, response.CodeInternal, "捐赠查询失败", err)
		return
	}
	if donation == nil {
		respondError(c, response.CodeNotFound, "捐赠记录不存在", nil)
		return
	}

	response.Success(c, donation)
}

// refreshChargeStatuses 就地刷新未达终态记录的扣款状态。
// 单条核对失败只记录日志，不影响整页返回。
func (h *Handler) refreshChargeStatuses(c *gin.Context, donations []models.Donation) {
	for i := range donations {
		donation := &donations[i]
		if donation.ChargeID == "" {
			continue
		}
		if donation.ChargeStatus == constants.ChargeStatusSucceeded ||
			donation.ChargeStatus == constants.ChargeStatusFailed {
			continue
		}
		status, err := h.CheckoutService.VerifyCharge(c.Request.Context(), donation.Provider, donation.ChargeID)
		if err != nil {
			requestLog(c).Warnw("donation_status_refresh_failed",
				"donation_id", donation.ID,
				"charge_id", donation.ChargeID,
				"error", err,
			)
			continue
		}
		updated, err := h.DonationService.MarkChargeResult(donation.ID, donation.ChargeID, status)
		if err != nil {
			requestLog(c).Warnw("donation_status_refresh_save_failed",
				"donation_id", donation.ID,
				"error", err,
			)
			continue
		}
		donations[i] = *updated
	}
}

func parseTimeQuery(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &parsed
}
