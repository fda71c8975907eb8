package admin

import (
	"strconv"
	"strings"

	"github.com/paytrack-next/internal/http/response"
	"github.com/paytrack-next/internal/repository"

	"github.com/gin-gonic/gin"
)

// AdminListConversionLogs 转化上报日志列表
func (h *Handler) AdminListConversionLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	filter := repository.ConversionLogListFilter{
		Status:      strings.TrimSpace(c.Query("status")),
		CreatedFrom: parseTimeQuery(c.Query("created_from")),
		CreatedTo:   parseTimeQuery(c.Query("created_to")),
		Page:        page,
		PageSize:    pageSize,
	}
	if donationID, err := strconv.ParseUint(c.Query("donation_id"), 10, 64); err == nil {
		filter.DonationID = uint(donationID)
	}

	logs, total, err := h.ConversionLogRepo.ListAdmin(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "转化日志查询失败", err)
		return
	}

	pagination := response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	response.SuccessWithPage(c, logs, pagination)
}
