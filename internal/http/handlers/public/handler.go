package public

import "github.com/paytrack-next/internal/provider"

// Handler 前台/公开接口处理器入口
// 说明：该处理器仅用于前台捐赠页面调用的匿名 API。
type Handler struct {
	*provider.Container
}

// New 创建前台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
