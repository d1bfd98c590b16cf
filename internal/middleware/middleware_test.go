package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/pkg/auth"
)

type fakeSessions struct {
	data     map[string]*auth.SessionData
	extended []string
	err      error
}

func (f *fakeSessions) Get(ctx context.Context, id string) (*auth.SessionData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[id], nil
}

func (f *fakeSessions) Extend(ctx context.Context, id string) error {
	f.extended = append(f.extended, id)
	return nil
}

func newEngine(m *AuthMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	whoami := func(c *gin.Context) {
		id, ok := CurrentUserID(c)
		c.JSON(http.StatusOK, gin.H{"id": id, "ok": ok, "admin": IsAdmin(c), "session": CurrentSessionID(c)})
	}
	r.GET("/required", m.Required(), whoami)
	r.GET("/optional", m.Optional(), whoami)
	r.GET("/admin", m.Required(), AdminOnly(), whoami)
	return r
}

func get(r http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	jwt := auth.NewJWTService("secret", time.Hour)
	sessions := &fakeSessions{data: map[string]*auth.SessionData{
		"sid-1": {UserID: 3, Email: "nurse@example.com"},
	}}
	r := newEngine(NewAuthMiddleware(jwt, sessions))

	userToken, err := jwt.Generate(5, "doc@example.com", false)
	require.NoError(t, err)
	adminToken, err := jwt.Generate(1, "admin@example.com", true)
	require.NoError(t, err)

	t.Run("无凭证返回401", func(t *testing.T) {
		w := get(r, "/required", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Bearer令牌", func(t *testing.T) {
		w := get(r, "/required", map[string]string{"Authorization": "Bearer " + userToken})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"id":5`)
		assert.Contains(t, w.Body.String(), `"session":""`)
	})

	t.Run("无效令牌返回401", func(t *testing.T) {
		w := get(r, "/required", map[string]string{"Authorization": "Bearer garbage"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("会话头并延长有效期", func(t *testing.T) {
		w := get(r, "/required", map[string]string{SessionHeader: "sid-1"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"id":3`)
		assert.Contains(t, w.Body.String(), `"session":"sid-1"`)
		assert.Equal(t, []string{"sid-1"}, sessions.extended)
	})

	t.Run("会话cookie", func(t *testing.T) {
		w := get(r, "/required", map[string]string{"Cookie": "session_id=sid-1"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("未知会话返回401", func(t *testing.T) {
		w := get(r, "/required", map[string]string{SessionHeader: "missing"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("可选认证", func(t *testing.T) {
		w := get(r, "/optional", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"ok":false`)
	})

	t.Run("管理员接口", func(t *testing.T) {
		w := get(r, "/admin", map[string]string{"Authorization": "Bearer " + userToken})
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = get(r, "/admin", map[string]string{"Authorization": "Bearer " + adminToken})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"admin":true`)
	})
}

func TestAuthMiddlewareWithoutSessions(t *testing.T) {
	r := newEngine(NewAuthMiddleware(auth.NewJWTService("secret", time.Hour), nil))
	w := get(r, "/required", map[string]string{SessionHeader: "sid-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	broken := &fakeSessions{err: errors.New("redis down")}
	r = newEngine(NewAuthMiddleware(nil, broken))
	w = get(r, "/required", map[string]string{SessionHeader: "sid-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewLoggerMiddleware().TraceID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("trace_id")) })

	w := get(r, "/", map[string]string{TraceIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get(TraceIDHeader))

	w = get(r, "/", nil)
	assert.Len(t, w.Body.String(), 36)
	assert.Equal(t, w.Body.String(), w.Header().Get(TraceIDHeader))
}

func TestRequestLoggerRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(&RequestLoggerConfig{
		Enabled:         true,
		MaxBodySize:     1024,
		IncludeHeaders:  true,
		IncludeBody:     true,
		IncludeResponse: true,
	}))
	r.POST("/login", func(c *gin.Context) {
		var body map[string]string
		require.NoError(t, c.ShouldBindJSON(&body))
		c.JSON(http.StatusOK, gin.H{"email": body["email"], "token": "jwt-value"})
	})

	req := httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"email":"a@example.com","password":"hunter22"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	out := buf.String()
	assert.Contains(t, out, "[REQUEST_LOG] POST /login - 200")
	assert.Contains(t, out, "a@example.com")
	assert.NotContains(t, out, "hunter22")
	assert.NotContains(t, out, "secret-token")
	assert.NotContains(t, out, "jwt-value")
}

func TestRedact(t *testing.T) {
	v := redact(map[string]interface{}{
		"Password": "x",
		"nested":   []interface{}{map[string]interface{}{"new_password": "y", "name": "z"}},
	}).(map[string]interface{})
	assert.Equal(t, redacted, v["Password"])
	inner := v["nested"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, redacted, inner["new_password"])
	assert.Equal(t, "z", inner["name"])
}
