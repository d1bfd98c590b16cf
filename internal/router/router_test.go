package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	"github.com/weiwangfds/medcap/internal/middleware"
	"github.com/weiwangfds/medcap/internal/pkg/auth"
	"github.com/weiwangfds/medcap/internal/service/mail"
	"github.com/weiwangfds/medcap/internal/service/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (r *recordingSender) Send(msg mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	db     *gorm.DB
}

func setupServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	require.NoError(t, database.SeedReservedTags(db, database.ReservedTags("AdmissionSummary", "DischargeSummary")))

	store, err := storage.NewLocalStore(t.TempDir(), "/media")
	require.NoError(t, err)

	cfg := &config.Config{
		Server:     config.ServerConfig{Mode: gin.TestMode, SiteURL: "http://localhost"},
		Storage:    config.StorageConfig{Backend: "local", PublicBaseURL: "/media", MaxUploadMB: 5},
		Derivation: config.DerivationConfig{AdmissionTag: "AdmissionSummary", DischargeTag: "DischargeSummary", Timezone: "UTC"},
		Auth:       config.AuthConfig{MaxFailedAttempts: 6, WarnAfterAttempts: 4, ResetPassword: "123456"},
		Issue:      config.IssueConfig{MaxPending: 3, AttachmentMaxMB: 5, MaxDescriptionWords: 500},
	}

	hash, err := auth.HashPassword("admin-pass")
	require.NoError(t, err)
	require.NoError(t, db.Create(&database.User{
		Email: "admin@example.com", FullName: "Admin", PasswordHash: hash,
		IsAdmin: true, IsApproved: true, IsActive: true,
	}).Error)

	r := NewRouter(middleware.NewLoggerMiddleware(), Dependencies{
		DB:     db,
		Store:  store,
		JWT:    auth.NewJWTService("secret", time.Hour),
		Mailer: mail.NewMailServiceWithSender(&recordingSender{}, "admin@example.com"),
	}, cfg)
	return &testServer{t: t, engine: r.GetEngine(), db: r.GetDB()}
}

func (s *testServer) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) json(method, path, token string, payload interface{}) (*httptest.ResponseRecorder, envelope) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(s.t, err)
		body = bytes.NewReader(raw)
	}
	w := s.do(method, path, token, body, "application/json")
	var env envelope
	if w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *testServer) login(email, password string) string {
	w, env := s.json(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var result struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &result))
	require.NotEmpty(s.t, result.Token)
	return result.Token
}

func (s *testServer) upload(token, profile string, fields map[string]string, field, filename string, data []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(s.t, err)
	_, err = fw.Write(data)
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())
	return s.do(http.MethodPost, "/api/v1/uploads/"+profile, token, &buf, mw.FormDataContentType())
}

func TestHealth(t *testing.T) {
	s := setupServer(t)
	w := s.do(http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestApprovalWorkflow(t *testing.T) {
	s := setupServer(t)

	w, env := s.json(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": "Nurse@Example.com", "full_name": "Nurse One", "password": "password1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var registered database.User
	require.NoError(t, json.Unmarshal(env.Data, &registered))
	assert.False(t, registered.IsApproved)

	// 未审批不能登录
	w, _ = s.json(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "nurse@example.com", "password": "password1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	adminToken := s.login("admin@example.com", "admin-pass")
	w, _ = s.json(http.MethodPost, fmt.Sprintf("/api/v1/admin/users/%d/approve", registered.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	userToken := s.login("nurse@example.com", "password1")
	w, env = s.json(http.MethodGet, "/api/v1/me", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me database.User
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "nurse@example.com", me.Email)

	// 普通用户不能访问管理员接口
	w, _ = s.json(http.MethodGet, "/api/v1/admin/users", userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.json(http.MethodGet, "/api/v1/admin/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadDeleteRestore(t *testing.T) {
	s := setupServer(t)
	token := s.login("admin@example.com", "admin-pass")

	w, env := s.json(http.MethodPost, "/api/v1/tags", token, gin.H{"name": "Wound Care", "abbreviation": "WC"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tg database.Tag
	require.NoError(t, json.Unmarshal(env.Data, &tg))

	w, _ = s.json(http.MethodPost, "/api/v1/patients", token, gin.H{"uhid": "251678", "patient_name": "Asha"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")
	fields := map[string]string{"uhid": "251678", "tag_id": fmt.Sprint(tg.ID)}

	w = s.upload(token, "unknown", fields, "file", "report.pdf", pdf)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.upload(token, "file", fields, "file", "report.pdf", pdf)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var stored struct {
		Kind  string         `json:"kind"`
		Asset database.Asset `json:"asset"`
	}
	var env2 envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env2))
	require.NoError(t, json.Unmarshal(env2.Data, &stored))
	assert.Equal(t, "uploaded_file", stored.Kind)
	assert.Equal(t, "File uploaded successfully.", env2.Message)
	id := stored.Asset.ID

	w, _ = s.json(http.MethodGet, "/api/v1/patients/251678/assets?kind=uploaded_file", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"original_name":"report.pdf"`)

	w = s.do(http.MethodGet, fmt.Sprintf("/api/v1/assets/uploaded_file/%d/download", id), token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pdf, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	w, _ = s.json(http.MethodDelete, fmt.Sprintf("/api/v1/assets/uploaded_file/%d", id), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = s.json(http.MethodGet, "/api/v1/patients/251678/assets?kind=uploaded_file", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "report.pdf")

	w, _ = s.json(http.MethodGet, "/api/v1/assets/deleted?uhid=251678", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "report.pdf")

	w, _ = s.json(http.MethodPost, fmt.Sprintf("/api/v1/assets/uploaded_file/%d/restore", id), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var restored database.UploadedFile
	require.NoError(t, s.db.First(&restored, id).Error)
	assert.False(t, restored.IsDeleted)

	w, _ = s.json(http.MethodGet, "/api/v1/assets/bogus/1/download", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLookupsArePublic(t *testing.T) {
	s := setupServer(t)
	require.NoError(t, database.SeedLookups(s.db, database.LookupWard, []string{"Ward A"}))

	w, _ := s.json(http.MethodGet, "/api/v1/lookups/ward", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Ward A")

	w, _ = s.json(http.MethodPost, "/api/v1/lookups/ward", "", gin.H{"name": "Ward B"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminListsArePaged(t *testing.T) {
	s := setupServer(t)
	for i := 1; i <= 3; i++ {
		w, _ := s.json(http.MethodPost, "/api/v1/auth/register", "", gin.H{
			"email": fmt.Sprintf("staff%d@example.com", i), "full_name": fmt.Sprintf("Staff %d", i), "password": "password1",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	token := s.login("admin@example.com", "admin-pass")

	type page struct {
		List       []database.User `json:"list"`
		Total      int64           `json:"total"`
		Page       int             `json:"page"`
		PageSize   int             `json:"page_size"`
		TotalPages int             `json:"total_pages"`
	}

	t.Run("按页返回用户", func(t *testing.T) {
		w, env := s.json(http.MethodGet, "/api/v1/admin/users?page=2&page_size=3", token, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var p page
		require.NoError(t, json.Unmarshal(env.Data, &p))
		assert.Equal(t, int64(4), p.Total)
		assert.Equal(t, 2, p.Page)
		assert.Equal(t, 3, p.PageSize)
		assert.Equal(t, 2, p.TotalPages)
		assert.Len(t, p.List, 1)
	})

	t.Run("非法分页参数使用默认值", func(t *testing.T) {
		w, env := s.json(http.MethodGet, "/api/v1/admin/users?approved=false&page=0&page_size=-5", token, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var p page
		require.NoError(t, json.Unmarshal(env.Data, &p))
		assert.Equal(t, 1, p.Page)
		assert.Equal(t, 20, p.PageSize)
		assert.Equal(t, int64(3), p.Total)
		assert.Len(t, p.List, 3)
	})

	t.Run("问题列表分页", func(t *testing.T) {
		w, _ := s.json(http.MethodGet, "/api/v1/admin/issues?page_size=500", token, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"page_size":100`)
		assert.Contains(t, w.Body.String(), `"total_pages":0`)
	})
}
