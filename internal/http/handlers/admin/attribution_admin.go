package admin

import (
	"strconv"
	"strings"

	"github.com/paytrack-next/internal/http/response"
	"github.com/paytrack-next/internal/repository"

	"github.com/gin-gonic/gin"
)

// AdminListAttributions 归因记录列表
func (h *Handler) AdminListAttributions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	filter := repository.AttributionListFilter{
		ClickToken:  strings.TrimSpace(c.Query("click_token")),
		CreatedFrom: parseTimeQuery(c.Query("created_from")),
		CreatedTo:   parseTimeQuery(c.Query("created_to")),
		Page:        page,
		PageSize:    pageSize,
	}

	records, total, err := h.AttributionRepo.ListAdmin(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "归因记录查询失败", err)
		return
	}

	pagination := response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	response.SuccessWithPage(c, records, pagination)
}
