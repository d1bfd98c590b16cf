package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weiwangfds/medcap/internal/middleware"
	"github.com/weiwangfds/medcap/internal/response"
	"github.com/weiwangfds/medcap/internal/service/user"
)

// AuthHandler 注册、登录和个人资料
type AuthHandler struct {
	userService user.UserService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(userService user.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6,max=72"`
}

// Register 注册
// @Summary 注册新用户
// @Description 注册后需等待管理员审批才能登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body user.RegisterRequest true "注册信息"
// @Success 201 {object} response.Response{data=database.User}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response "邮箱已注册"
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req user.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.userService.Register(&req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, "Registration successful. Your account is pending admin approval.", u)
}

// Login 登录
// @Summary 邮箱密码登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body LoginRequest true "登录信息"
// @Success 200 {object} response.Response{data=user.LoginResult}
// @Failure 401 {object} response.Response "账号或密码错误"
// @Failure 403 {object} response.Response "待审批或已锁定"
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.userService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if result.SessionID != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie("session_id", result.SessionID, 0, "/", "", c.Request.TLS != nil, true)
	}
	response.Success(c, result)
}

// Logout 退出登录
// @Summary 退出登录
// @Tags 认证
// @Produce json
// @Success 200 {object} response.Response
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.userService.Logout(c.Request.Context(), middleware.CurrentSessionID(c)); err != nil {
		response.FromError(c, err)
		return
	}
	c.SetCookie("session_id", "", -1, "/", "", c.Request.TLS != nil, true)
	response.SuccessWithMessage(c, "Logged out.", nil)
}

// Me 当前用户资料
func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.userService.GetByID(actor(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, u)
}

// UpdateProfile 更新个人资料
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req user.ProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.userService.UpdateProfile(actor(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Profile updated successfully.", u)
}

// ChangePassword 修改密码
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.userService.ChangePassword(actor(c), req.OldPassword, req.NewPassword); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Password changed successfully.", nil)
}
