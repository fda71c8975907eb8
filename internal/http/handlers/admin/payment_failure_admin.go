package admin

import (
	"strconv"
	"strings"

	"github.com/paytrack-next/internal/http/response"
	"github.com/paytrack-next/internal/repository"

	"github.com/gin-gonic/gin"
)

// AdminListPaymentFailures 支付失败记录列表
func (h *Handler) AdminListPaymentFailures(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	filter := repository.PaymentFailureListFilter{
		Email:       strings.TrimSpace(c.Query("email")),
		Provider:    strings.TrimSpace(c.Query("provider")),
		CreatedFrom: parseTimeQuery(c.Query("created_from")),
		CreatedTo:   parseTimeQuery(c.Query("created_to")),
		Page:        page,
		PageSize:    pageSize,
	}

	failures, total, err := h.PaymentFailureRepo.ListAdmin(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "支付失败记录查询失败", err)
		return
	}

	pagination := response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	response.SuccessWithPage(c, failures, pagination)
}
