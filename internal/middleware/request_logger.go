package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/weiwangfds/medcap/internal/logger"
)

// redacted 敏感字段在日志中的替代值
const redacted = "***"

// sensitiveKeys 请求体与请求头中需要脱敏的字段（小写）
var sensitiveKeys = map[string]bool{
	"password":      true,
	"old_password":  true,
	"new_password":  true,
	"authorization": true,
	"x-session-id":  true,
	"cookie":        true,
	"token":         true,
}

// RequestLogEntry 请求日志条目结构
type RequestLogEntry struct {
	TraceID string `json:"trace_id"`

	// 请求信息
	Method    string                 `json:"method"`
	Path      string                 `json:"path"`
	Query     map[string]interface{} `json:"query"`
	Headers   map[string]string      `json:"headers"`
	Body      interface{}            `json:"body"`
	ClientIP  string                 `json:"client_ip"`
	UserAgent string                 `json:"user_agent"`
	UserID    uint                   `json:"user_id,omitempty"`

	// 响应信息
	StatusCode   int         `json:"status_code"`
	ResponseBody interface{} `json:"response_body"`
	ResponseSize int         `json:"response_size"`

	StartTime  string `json:"start_time"`
	DurationMs int64  `json:"duration_ms"`

	Error string `json:"error,omitempty"`
}

// responseWriter 自定义响应写入器，用于捕获响应数据
// 只缓存JSON响应，文件下载和Excel导出不进入缓冲区
type responseWriter struct {
	gin.ResponseWriter
	body    *bytes.Buffer
	size    int
	maxBody int
}

// Write 实现io.Writer接口，捕获响应数据
func (w *responseWriter) Write(b []byte) (int, error) {
	w.size += len(b)
	if w.capturing() && w.body.Len() < w.maxBody {
		w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) capturing() bool {
	return strings.HasPrefix(w.Header().Get("Content-Type"), "application/json")
}

// RequestLoggerConfig 请求日志中间件配置
type RequestLoggerConfig struct {
	Enabled         bool     // 是否启用
	SkipPaths       []string // 跳过记录的路径
	MaxBodySize     int      // 记录的请求/响应体最大字节数
	IncludeHeaders  bool     // 是否包含请求头
	IncludeBody     bool     // 是否包含请求体
	IncludeResponse bool     // 是否包含响应体
	AsyncLogging    bool     // 是否异步记录
}

// DefaultRequestLoggerConfig 默认配置，仅在gin debug模式下启用
func DefaultRequestLoggerConfig() *RequestLoggerConfig {
	return &RequestLoggerConfig{
		Enabled:         gin.Mode() == gin.DebugMode,
		SkipPaths:       []string{"/health", "/favicon.ico"},
		MaxBodySize:     64 * 1024,
		IncludeHeaders:  true,
		IncludeBody:     true,
		IncludeResponse: true,
		AsyncLogging:    true,
	}
}

// RequestLogger 创建请求日志记录中间件
// 记录脱敏后的请求头、请求体和JSON响应体；multipart上传只记录内容类型
func RequestLogger(config ...*RequestLoggerConfig) gin.HandlerFunc {
	cfg := DefaultRequestLoggerConfig()
	if len(config) > 0 && config[0] != nil {
		cfg = config[0]
	}

	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] || strings.HasPrefix(c.Request.URL.Path, "/swagger/") {
			c.Next()
			return
		}

		startTime := time.Now()
		traceID := c.GetString("trace_id")
		if traceID == "" {
			traceID = uuid.New().String()
			c.Set("trace_id", traceID)
		}

		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
			maxBody:        cfg.MaxBodySize,
		}
		c.Writer = writer

		var requestBody interface{}
		if cfg.IncludeBody && c.Request.Body != nil {
			requestBody = readRequestBody(c, cfg.MaxBodySize)
		}

		// 处理请求
		c.Next()

		entry := &RequestLogEntry{
			TraceID:      traceID,
			Method:       c.Request.Method,
			Path:         c.Request.URL.Path,
			Query:        parseQueryParams(c.Request.URL.RawQuery),
			ClientIP:     c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			StatusCode:   writer.Status(),
			ResponseSize: writer.size,
			StartTime:    startTime.Format(time.RFC3339),
			DurationMs:   time.Since(startTime).Milliseconds(),
			Body:         requestBody,
		}
		if userID, ok := CurrentUserID(c); ok {
			entry.UserID = userID
		}
		if cfg.IncludeHeaders {
			entry.Headers = extractHeaders(c.Request.Header)
		}
		if cfg.IncludeResponse && writer.body.Len() > 0 {
			entry.ResponseBody = parseBody(writer.body.Bytes())
		}
		if len(c.Errors) > 0 {
			entry.Error = c.Errors.String()
		}

		if cfg.AsyncLogging {
			go logRequestEntry(entry)
		} else {
			logRequestEntry(entry)
		}
	}
}

// readRequestBody 读取并重置请求体
func readRequestBody(c *gin.Context, maxSize int) interface{} {
	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/") {
		return fmt.Sprintf("<%s, %d bytes>", contentType, c.Request.ContentLength)
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return map[string]string{"error": "failed to read request body"}
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	if len(body) == 0 {
		return nil
	}
	if len(body) > maxSize {
		return fmt.Sprintf("<%d bytes>", len(body))
	}
	return parseBody(body)
}

// parseQueryParams 解析查询参数
func parseQueryParams(rawQuery string) map[string]interface{} {
	params := make(map[string]interface{})
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return params
	}
	for key, v := range values {
		if len(v) > 0 {
			params[key] = v[0]
		}
	}
	return params
}

// extractHeaders 提取请求头，敏感头只记录占位符
func extractHeaders(headers map[string][]string) map[string]string {
	headerMap := make(map[string]string)
	for key, values := range headers {
		if len(values) == 0 {
			continue
		}
		if sensitiveKeys[strings.ToLower(key)] {
			headerMap[key] = redacted
			continue
		}
		headerMap[key] = values[0]
	}
	return headerMap
}

// parseBody 解析JSON并脱敏，非JSON原样返回字符串
func parseBody(body []byte) interface{} {
	var jsonBody interface{}
	if err := json.Unmarshal(body, &jsonBody); err != nil {
		return string(body)
	}
	return redact(jsonBody)
}

// redact 递归替换敏感字段
func redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if sensitiveKeys[strings.ToLower(k)] {
				t[k] = redacted
				continue
			}
			t[k] = redact(val)
		}
	case []interface{}:
		for i := range t {
			t[i] = redact(t[i])
		}
	}
	return v
}

// logRequestEntry 记录请求日志条目
func logRequestEntry(entry *RequestLogEntry) {
	message := fmt.Sprintf("[REQUEST_LOG] %s %s - %d (%dms)",
		entry.Method, entry.Path, entry.StatusCode, entry.DurationMs)

	logJSON, err := json.Marshal(entry)
	if err != nil {
		logger.Errorf("Failed to marshal request log: %v", err)
		return
	}

	switch {
	case entry.StatusCode >= 500:
		logger.Errorf("%s | %s", message, string(logJSON))
	case entry.StatusCode >= 400:
		logger.Warnf("%s | %s", message, string(logJSON))
	default:
		logger.Infof("%s | %s", message, string(logJSON))
	}
}
