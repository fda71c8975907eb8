package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/paytrack-next/internal/logger"
	"github.com/paytrack-next/internal/models"
	"github.com/paytrack-next/internal/repository"
)

// AttributionService 落地页归因采集服务
type AttributionService struct {
	repo repository.AttributionRepository
}

// NewAttributionService 创建归因服务
func NewAttributionService(repo repository.AttributionRepository) *AttributionService {
	return &AttributionService{repo: repo}
}

// RecordAttributionInput 归因采集输入
type RecordAttributionInput struct {
	ClickToken     string
	BrowserPixelID string
	BrowserClickID string
	SourceURL      string
}

// Record 记录落地页归因。
// 缺失的 fbp/fbc 会按平台格式在服务端补齐；没有点击令牌的请求
// 只返回补齐后的值，不落库。已有记录按字段做空值合并，不覆盖已有值。
func (s *AttributionService) Record(input RecordAttributionInput) (*models.AttributionRecord, error) {
	now := time.Now()
	record := &models.AttributionRecord{
		ClickToken:     strings.TrimSpace(input.ClickToken),
		BrowserPixelID: strings.TrimSpace(input.BrowserPixelID),
		BrowserClickID: strings.TrimSpace(input.BrowserClickID),
		SourceURL:      StripQueryString(input.SourceURL),
	}
	if record.BrowserPixelID == "" {
		record.BrowserPixelID = generateBrowserPixelID(now)
	}
	if record.BrowserClickID == "" && record.ClickToken != "" {
		record.BrowserClickID = buildBrowserClickID(now, record.ClickToken)
	}

	// 无点击令牌时不持久化：没有可用于后续关联的键
	if record.ClickToken == "" {
		return record, nil
	}

	existing, err := s.repo.GetByClickToken(record.ClickToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	if existing == nil {
		if err := s.repo.Create(record); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
		}
		logger.Infow("attribution_recorded",
			"click_token", record.ClickToken,
			"source_url", record.SourceURL,
		)
		return record, nil
	}

	changed := false
	if existing.BrowserPixelID == "" && record.BrowserPixelID != "" {
		existing.BrowserPixelID = record.BrowserPixelID
		changed = true
	}
	if existing.BrowserClickID == "" && record.BrowserClickID != "" {
		existing.BrowserClickID = record.BrowserClickID
		changed = true
	}
	if existing.SourceURL == "" && record.SourceURL != "" {
		existing.SourceURL = record.SourceURL
		changed = true
	}
	if changed {
		if err := s.repo.Update(existing); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
		}
		logger.Infow("attribution_merged", "click_token", existing.ClickToken)
	}
	return existing, nil
}

// Lookup 根据点击令牌查询归因记录。未命中返回 (nil, nil)，
// 调用方自行决定是否降级处理。
func (s *AttributionService) Lookup(clickToken string) (*models.AttributionRecord, error) {
	record, err := s.repo.GetByClickToken(strings.TrimSpace(clickToken))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	return record, nil
}

// StripQueryString 去除 URL 的查询串与片段，仅保留 origin+path。
// 无法解析时原样返回去空白后的值。
func StripQueryString(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		if idx := strings.IndexByte(rawURL, '?'); idx >= 0 {
			return rawURL[:idx]
		}
		return rawURL
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

// generateBrowserPixelID 生成 fb.1.<秒级时间戳>.<16位随机数> 格式的 fbp
func generateBrowserPixelID(now time.Time) string {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand 基本不会失败，失败时退化为时间戳派生值
		n = big.NewInt(now.UnixNano() % 1_0000_0000_0000_0000)
	}
	return fmt.Sprintf("fb.1.%d.%016d", now.Unix(), n)
}

// buildBrowserClickID 生成 fb.1.<秒级时间戳>.<点击令牌> 格式的 fbc
func buildBrowserClickID(now time.Time, clickToken string) string {
	return fmt.Sprintf("fb.1.%d.%s", now.Unix(), clickToken)
}
