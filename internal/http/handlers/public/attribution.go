package public

import (
	"strings"

	"github.com/paytrack-next/internal/http/response"
	"github.com/paytrack-next/internal/service"

	"github.com/gin-gonic/gin"
)

// StoreFBDataRequest 归因采集请求
type StoreFBDataRequest struct {
	ClickToken     string `json:"fbclid"`
	BrowserPixelID string `json:"fbp"`
	BrowserClickID string `json:"fbc"`
	SourceURL      string `json:"source_url"`
}

// StoreFBDataResponse 归因采集响应
type StoreFBDataResponse struct {
	ClickToken     string `json:"fbclid,omitempty"`
	BrowserPixelID string `json:"fbp"`
	BrowserClickID string `json:"fbc,omitempty"`
	SourceURL      string `json:"source_url,omitempty"`
}

// StoreFBData 落地页归因采集。
// 缺失的 fbp/fbc 会按点击令牌合成；无令牌的采集只回显不落库。
func (h *Handler) StoreFBData(c *gin.Context) {
	var req StoreFBDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}

	record, err := h.AttributionService.Record(service.RecordAttributionInput{
		ClickToken:     req.ClickToken,
		BrowserPixelID: req.BrowserPixelID,
		BrowserClickID: req.BrowserClickID,
		SourceURL:      req.SourceURL,
	})
	if err != nil {
		respondError(c, response.CodeInternal, "归因记录保存失败", err)
		return
	}

	response.Success(c, StoreFBDataResponse{
		ClickToken:     record.ClickToken,
		BrowserPixelID: record.BrowserPixelID,
		BrowserClickID: record.BrowserClickID,
		SourceURL:      record.SourceURL,
	})
}

// GetFBData 按点击令牌查询归因记录
func (h *Handler) GetFBData(c *gin.Context) {
	clickToken := strings.TrimSpace(c.Query("fbclid"))
	if clickToken == "" {
		respondError(c, response.CodeBadRequest, "缺少 fbclid 参数", nil)
		return
	}

	record, err := h.AttributionService.Lookup(clickToken)
	if err != nil {
		respondError(c, response.CodeInternal, "归因记录查询失败", err)
		return
	}
	if record == nil {
		response.NotFound(c, "未找到归因记录")
		return
	}

	response.Success(c, StoreFBDataResponse{
		ClickToken:     record.ClickToken,
		BrowserPixelID: record.BrowserPixelID,
		BrowserClickID: record.BrowserClickID,
		SourceURL:      record.SourceURL,
	})
}
