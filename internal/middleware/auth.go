package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/pkg/auth"
	"github.com/weiwangfds/medcap/internal/response"
)

// 上下文键
const (
	ContextUserID    = "user_id"
	ContextEmail     = "email"
	ContextIsAdmin   = "is_admin"
	ContextSessionID = "session_id"
)

// SessionHeader 会话ID请求头，同名cookie也可携带
const SessionHeader = "X-Session-ID"

// sessionCookie 会话cookie名称
const sessionCookie = "session_id"

// SessionReader 会话查询接口，由auth.SessionService实现
type SessionReader interface {
	Get(ctx context.Context, sessionID string) (*auth.SessionData, error)
	Extend(ctx context.Context, sessionID string) error
}

// AuthMiddleware 认证中间件
// 优先校验Bearer令牌，其次校验Redis会话；会话存储未启用时Sessions为nil
type AuthMiddleware struct {
	JWT      *auth.JWTService
	Sessions SessionReader
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(jwt *auth.JWTService, sessions SessionReader) *AuthMiddleware {
	return &AuthMiddleware{JWT: jwt, Sessions: sessions}
}

// Required 要求已登录
func (m *AuthMiddleware) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.authenticate(c) {
			response.Unauthorized(c, "Authentication required.")
			c.Abort()
			return
		}
		c.Next()
	}
}

// Optional 有凭证时解析用户，没有时继续处理
func (m *AuthMiddleware) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.authenticate(c)
		c.Next()
	}
}

// AdminOnly 要求管理员，需放在Required之后
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			response.Forbidden(c, "Administrator access required.")
			c.Abort()
			return
		}
		c.Next()
	}
}

// authenticate 解析凭证并写入上下文
func (m *AuthMiddleware) authenticate(c *gin.Context) bool {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") && m.JWT != nil {
		claims, err := m.JWT.Validate(strings.TrimPrefix(header, "Bearer "))
		if err == nil {
			setIdentity(c, claims.UserID, claims.Email, claims.IsAdmin)
			return true
		}
	}

	if m.Sessions == nil {
		return false
	}
	sessionID := c.GetHeader(SessionHeader)
	if sessionID == "" {
		sessionID, _ = c.Cookie(sessionCookie)
	}
	if sessionID == "" {
		return false
	}

	data, err := m.Sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		logger.WithField("trace_id", c.GetString("trace_id")).Warnf("读取会话失败: %v", err)
		return false
	}
	if data == nil {
		return false
	}
	if err := m.Sessions.Extend(c.Request.Context(), sessionID); err != nil {
		logger.Warnf("延长会话失败: %v", err)
	}
	setIdentity(c, data.UserID, data.Email, data.IsAdmin)
	c.Set(ContextSessionID, sessionID)
	return true
}

func setIdentity(c *gin.Context, userID uint, email string, isAdmin bool) {
	c.Set(ContextUserID, userID)
	c.Set(ContextEmail, email)
	c.Set(ContextIsAdmin, isAdmin)
}

// CurrentUserID 当前登录用户ID
func CurrentUserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// IsAdmin 当前用户是否为管理员
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextIsAdmin)
}

// CurrentSessionID 当前请求使用的会话ID，令牌登录时为空
func CurrentSessionID(c *gin.Context) string {
	return c.GetString(ContextSessionID)
}
