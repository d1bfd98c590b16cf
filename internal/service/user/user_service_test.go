package user

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/pkg/auth"
	"github.com/weiwangfds/medcap/internal/service/mail"
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

type memorySessions struct {
	data map[string]auth.SessionData
}

func (m *memorySessions) Create(ctx context.Context, d auth.SessionData) (string, error) {
	id := "sid-" + d.Email
	m.data[id] = d
	return id, nil
}

func (m *memorySessions) Delete(ctx context.Context, id string) error {
	delete(m.data, id)
	return nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func setupService(t *testing.T) (UserService, *gorm.DB, *recordingSender, mail.MailService, *memorySessions) {
	db := setupTestDB(t)
	rec := &recordingSender{}
	mailer := mail.NewMailServiceWithSender(rec, "admin@example.com")
	sessions := &memorySessions{data: map[string]auth.SessionData{}}
	cfg := config.AuthConfig{MaxFailedAttempts: 6, WarnAfterAttempts: 4, ResetPassword: "123456"}
	svc := NewUserService(db, cfg, "http://localhost", auth.NewJWTService("secret", time.Hour), sessions, mailer)
	return svc, db, rec, mailer, sessions
}

func register(t *testing.T, svc UserService, email string) *database.User {
	u, err := svc.Register(&RegisterRequest{Email: email, FullName: "Test User", Password: "password1"})
	require.NoError(t, err)
	return u
}

func TestRegister(t *testing.T) {
	svc, db, rec, mailer, _ := setupService(t)

	u := register(t, svc, "  Nurse@Example.COM ")
	assert.Equal(t, "nurse@example.com", u.Email)
	assert.False(t, u.IsApproved)
	assert.True(t, u.IsActive)

	t.Run("邮箱不区分大小写唯一", func(t *testing.T) {
		_, err := svc.Register(&RegisterRequest{Email: "NURSE@example.com", FullName: "X", Password: "password1"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrConflict))
	})

	t.Run("停用的科室不可选择", func(t *testing.T) {
		dept := database.Lookup{Kind: database.LookupDepartment, Name: "Old", IsActive: false}
		require.NoError(t, db.Create(&dept).Error)
		_, err := svc.Register(&RegisterRequest{Email: "b@example.com", FullName: "B", Password: "password1", DepartmentID: &dept.ID})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidParams))
	})

	mailer.Wait()
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "nurse@example.com", rec.sent[0].To)
}

func TestLoginApprovalAndLockout(t *testing.T) {
	svc, db, rec, mailer, sessions := setupService(t)
	ctx := context.Background()
	u := register(t, svc, "doc@example.com")

	_, err := svc.Login(ctx, "doc@example.com", "password1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrApprovalPending))

	t.Run("待审批账号密码错误只提示凭证无效", func(t *testing.T) {
		_, err := svc.Login(ctx, "doc@example.com", "wrong")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidCredentials))
		var stored database.User
		require.NoError(t, db.First(&stored, u.ID).Error)
		assert.Zero(t, stored.FailedAttempts)
	})

	_, err = svc.Approve(1, u.ID)
	require.NoError(t, err)

	t.Run("未知邮箱", func(t *testing.T) {
		_, err := svc.Login(ctx, "nobody@example.com", "x")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidCredentials))
	})

	t.Run("成功登录返回令牌和会话", func(t *testing.T) {
		res, err := svc.Login(ctx, "DOC@example.com", "password1")
		require.NoError(t, err)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, "sid-doc@example.com", res.SessionID)
		require.NoError(t, svc.Logout(ctx, res.SessionID))
		assert.Empty(t, sessions.data)
	})

	t.Run("失败次数累计并锁定", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			_, err := svc.Login(ctx, "doc@example.com", "wrong")
			appErr, ok := apperrors.GetAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrInvalidCredentials, appErr.Code)
			assert.NotContains(t, appErr.Message, "more failed attempt")
		}
		_, err := svc.Login(ctx, "doc@example.com", "wrong")
		appErr, _ := apperrors.GetAppError(err)
		assert.Contains(t, appErr.Message, "2 more failed attempt(s)")

		_, err = svc.Login(ctx, "doc@example.com", "wrong")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidCredentials))
		_, err = svc.Login(ctx, "doc@example.com", "wrong")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrAccountLocked))

		// 锁定后正确密码也无法登录，错误密码不透露锁定状态
		_, err = svc.Login(ctx, "doc@example.com", "password1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrAccountLocked))
		_, err = svc.Login(ctx, "doc@example.com", "wrong")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidCredentials))

		var stored database.User
		require.NoError(t, db.First(&stored, u.ID).Error)
		assert.Equal(t, 6, stored.FailedAttempts)
		assert.False(t, stored.IsActive)
	})

	t.Run("解除锁定", func(t *testing.T) {
		_, err := svc.Unblock(1, u.ID)
		require.NoError(t, err)
		_, err = svc.Login(ctx, "doc@example.com", "password1")
		assert.NoError(t, err)
	})

	mailer.Wait()
	var lockMails int
	for _, m := range rec.sent {
		if m.To == "admin@example.com" {
			lockMails++
		}
	}
	assert.Equal(t, 1, lockMails)
}

func TestAdminNeverLocked(t *testing.T) {
	svc, db, _, _, _ := setupService(t)
	ctx := context.Background()
	u := register(t, svc, "root@example.com")
	require.NoError(t, db.Model(u).Updates(map[string]interface{}{"is_admin": true}).Error)

	for i := 0; i < 8; i++ {
		_, err := svc.Login(ctx, "root@example.com", "wrong")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidCredentials))
	}
	res, err := svc.Login(ctx, "root@example.com", "password1")
	require.NoError(t, err)
	assert.True(t, res.User.IsAdmin)
}

func TestDisapproveAndResetPassword(t *testing.T) {
	svc, _, _, _, _ := setupService(t)
	ctx := context.Background()
	u := register(t, svc, "ward@example.com")

	approved, err := svc.Approve(9, u.ID)
	require.NoError(t, err)
	require.NotNil(t, approved.ApprovedByID)
	assert.Equal(t, uint(9), *approved.ApprovedByID)

	list, total, err := svc.List(&approved.IsApproved, 1, 20)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, int64(1), total)

	_, err = svc.ResetPassword(9, u.ID)
	require.NoError(t, err)
	_, err = svc.Login(ctx, "ward@example.com", "123456")
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword(u.ID, "123456", "newpass1"))
	assert.True(t, apperrors.HasCode(svc.ChangePassword(u.ID, "bad", "newpass2"), apperrors.ErrInvalidParams))

	dis, err := svc.Disapprove(9, u.ID)
	require.NoError(t, err)
	assert.Nil(t, dis.ApprovedAt)
	_, err = svc.Login(ctx, "ward@example.com", "newpass1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrApprovalPending))

	_, err = svc.Approve(9, 12345)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestUpdateProfile(t *testing.T) {
	svc, db, _, _, _ := setupService(t)
	u := register(t, svc, "p@example.com")
	dept := database.Lookup{Kind: database.LookupDepartment, Name: "Radiology", IsActive: true}
	require.NoError(t, db.Create(&dept).Error)

	updated, err := svc.UpdateProfile(u.ID, &ProfileRequest{FullName: "Priya", DepartmentID: &dept.ID, DepartmentOther: "MRI", Phone: "+91 98765"})
	require.NoError(t, err)
	assert.Equal(t, "Radiology (MRI)", updated.DepartmentLabel("N/A"))
	assert.Equal(t, "N/A", updated.DesignationLabel("N/A"))
}
