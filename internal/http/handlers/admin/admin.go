package admin

import (
	"errors"

	"github.com/paytrack-next/internal/http/response"
	"github.com/paytrack-next/internal/service"

	"github.com/gin-gonic/gin"
)

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token     string                 `json:"token"`
	User      map[string]interface{} `json:"user"`
	ExpiresAt string                 `json:"expires_at"`
}

// AdminLogin 管理员登录
func (h *Handler) AdminLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}

	admin, token, expiresAt, err := h.AuthService.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondError(c, response.CodeUnauthorized, "用户名或密码错误", nil)
			return
		}
		respondError(c, response.CodeInternal, "登录失败", err)
		return
	}
	response.Success(c, LoginResponse{
		Token: token,
		User: map[string]interface{}{
			"id":       admin.ID,
			"username": admin.Username,
		},
		ExpiresAt: expiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// AdminLogout 注销登录，吊销该管理员所有已签发的 token
func (h *Handler) AdminLogout(c *gin.Context) {
	id, ok := getAdminID(c)
	if !ok {
		return
	}

	if err := h.AuthService.Logout(id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			respondError(c, response.CodeNotFound, "管理员不存在", nil)
			return
		}
		respondError(c, response.CodeInternal, "注销失败", err)
		return
	}

	requestLog(c).Infow("admin_logout", "admin_id", id)
	response.Success(c, nil)
}

// CheckSetup 检查是否已初始化管理员
func (h *Handler) CheckSetup(c *gin.Context) {
	count, err := h.AdminRepo.Count()
	if err != nil {
		respondError(c, response.CodeInternal, "查询失败", err)
		return
	}
	response.Success(c, gin.H{"initialized": count > 0})
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterAdmin 初始化首个管理员。已初始化后该接口关闭，
// 后续账号由登录态下的 CreateAdmin 创建。
func (h *Handler) RegisterAdmin(c *gin.Context) {
	count, err := h.AdminRepo.Count()
	if err != nil {
		respondError(c, response.CodeInternal, "查询失败", err)
		return
	}
	if count > 0 {
		respondError(c, response.CodeForbidden, "系统已初始化，请使用现有管理员账号创建", nil)
		return
	}
	h.createAdmin(c)
}

// CreateAdmin 创建管理员（需登录）
func (h *Handler) CreateAdmin(c *gin.Context) {
	if _, ok := getAdminID(c); !ok {
		return
	}
	h.createAdmin(c)
}

func (h *Handler) createAdmin(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}

	admin, err := h.AuthService.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			respondError(c, response.CodeBadRequest, "用户名已存在", nil)
			return
		}
		if errors.Is(err, service.ErrWeakPassword) {
			respondError(c, response.CodeBadRequest, "密码强度不足", nil)
			return
		}
		if errors.Is(err, service.ErrInvalidInput) {
			respondError(c, response.CodeBadRequest, "请求参数无效", nil)
			return
		}
		respondError(c, response.CodeInternal, "创建失败", err)
		return
	}

	requestLog(c).Infow("admin_created", "admin_id", admin.ID, "username", admin.Username)
	response.Success(c, gin.H{
		"id":       admin.ID,
		"username": admin.Username,
	})
}

// UpdatePasswordRequest 修改密码请求
type UpdatePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// UpdateAdminPassword 修改管理员密码
func (h *Handler) UpdateAdminPassword(c *gin.Context) {
	id, ok := getAdminID(c)
	if !ok {
		return
	}

	var req UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}

	if err := h.AuthService.ChangePassword(id, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrInvalidPassword) {
			respondError(c, response.CodeBadRequest, "原密码错误", nil)
			return
		}
		if errors.Is(err, service.ErrWeakPassword) {
			respondError(c, response.CodeBadRequest, "密码强度不足", nil)
			return
		}
		if errors.Is(err, service.ErrNotFound) {
			respondError(c, response.CodeNotFound, "管理员不存在", nil)
			return
		}
		respondError(c, response.CodeInternal, "保存失败", err)
		return
	}

	response.Success(c, nil)
}
