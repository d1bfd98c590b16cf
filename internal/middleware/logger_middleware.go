package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/weiwangfds/medcap/internal/logger"
)

// TraceIDHeader 请求追踪ID的请求/响应头
const TraceIDHeader = "X-Request-ID"

// LoggerMiddleware 日志中间件
// 访问日志写入全局logger，与业务日志使用相同的格式和输出
type LoggerMiddleware struct{}

// NewLoggerMiddleware 创建日志中间件实例
func NewLoggerMiddleware() *LoggerMiddleware {
	return &LoggerMiddleware{}
}

// TraceID 为每个请求分配追踪ID
// 客户端已带X-Request-ID时沿用，否则生成UUID；响应头中回写同一个值
func (m *LoggerMiddleware) TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" || len(traceID) > 64 {
			traceID = uuid.New().String()
		}
		c.Set("trace_id", traceID)
		c.Header(TraceIDHeader, traceID)
		c.Next()
	}
}

// Logger 访问日志中间件
// 5xx记为error，4xx记为warn，其余为info；已登录请求附带user_id
func (m *LoggerMiddleware) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		status := c.Writer.Status()
		fields := map[string]interface{}{
			"status":    status,
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
			"method":    c.Request.Method,
			"path":      path,
			"trace_id":  c.GetString("trace_id"),
		}
		if raw != "" {
			fields["raw_query"] = raw
		}
		if userID, ok := CurrentUserID(c); ok {
			fields["user_id"] = userID
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.String()
		}

		entry := logger.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("HTTP Request")
		case status >= 400:
			entry.Warn("HTTP Request")
		default:
			entry.Info("HTTP Request")
		}
	}
}

// RequestLogger 开发环境下的详细请求日志
func (m *LoggerMiddleware) RequestLogger() gin.HandlerFunc {
	return RequestLogger()
}
