package issue

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/service/mail"
	"github.com/weiwangfds/medcap/internal/service/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

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

type fixture struct {
	db     *gorm.DB
	store  storage.Store
	svc    *issueService
	mailer mail.MailService
	sent   *recordingSender
	user   *database.User
}

func newFixture(t *testing.T) *fixture {
	db := setupTestDB(t)
	store, err := storage.NewLocalStore(t.TempDir(), "/media")
	require.NoError(t, err)
	rec := &recordingSender{}
	mailer := mail.NewMailServiceWithSender(rec, "admin@example.com")

	user := &database.User{Email: "asha@example.com", FullName: "Asha", PasswordHash: "x"}
	require.NoError(t, db.Create(user).Error)

	svc := NewIssueService(db, store, mailer, config.IssueConfig{}).(*issueService)
	return &fixture{db: db, store: store, svc: svc, mailer: mailer, sent: rec, user: user}
}

func attachment(name string, data []byte) *Attachment {
	return &Attachment{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

func TestSubmitGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var reports []*database.IssueReport
	for i := 0; i < 3; i++ {
		r, err := f.svc.Submit(ctx, f.user.ID, "Camera does not open", nil)
		require.NoError(t, err)
		assert.Equal(t, database.IssueStatusOpen, r.Status)
		assert.Regexp(t, `^[A-Z0-9]{6}$`, r.IssueID)
		reports = append(reports, r)
	}

	t.Run("达到上限后拒绝", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, f.user.ID, "One more", nil)
		appErr, ok := apperrors.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrPendingIssueLimit, appErr.Code)
		assert.Equal(t, "Maximum pending issues reached. Please wait until one is completed.", appErr.Message)

		var n int64
		require.NoError(t, f.db.Model(&database.IssueReport{}).Count(&n).Error)
		assert.Equal(t, int64(3), n)

		gate, err := f.svc.CheckGate(f.user.ID)
		require.NoError(t, err)
		assert.False(t, gate.Allowed)
		assert.Equal(t, int64(3), gate.Pending)
	})

	t.Run("驳回的问题仍计入", func(t *testing.T) {
		_, err := f.svc.UpdateStatus(99, reports[0].IssueID, &StatusRequest{Status: database.IssueStatusRejected})
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, f.user.ID, "Still blocked", nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrPendingIssueLimit))
	})

	t.Run("完成一个后可再次提交", func(t *testing.T) {
		updated, err := f.svc.UpdateStatus(99, strings.ToLower(reports[1].IssueID),
			&StatusRequest{Status: database.IssueStatusCompleted, Remark: " fixed "})
		require.NoError(t, err)
		assert.Equal(t, "fixed", updated.Remark)
		assert.NotNil(t, updated.StatusMarkedAt)
		assert.Equal(t, "Completed", updated.StatusLabel())

		_, err = f.svc.Submit(ctx, f.user.ID, "Now accepted", nil)
		require.NoError(t, err)
	})

	t.Run("删除的问题不计入", func(t *testing.T) {
		require.NoError(t, f.svc.Delete(99, reports[2].IssueID))
		gate, err := f.svc.CheckGate(f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), gate.Pending)
		assert.True(t, gate.Allowed)

		err = f.svc.Delete(99, reports[2].IssueID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
	})

	f.mailer.Wait()
	f.sent.mu.Lock()
	defer f.sent.mu.Unlock()
	require.Len(t, f.sent.sent, 4)
	assert.Equal(t, "admin@example.com", f.sent.sent[0].To)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, f.user.ID, "   ", nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidParams))

	_, err = f.svc.Submit(ctx, f.user.ID, strings.Repeat("word ", 41), nil)
	appErr, ok := apperrors.GetAppError(err)
	require.True(t, ok)
	assert.Contains(t, appErr.Message, "40 words")

	_, err = f.svc.Submit(ctx, f.user.ID, strings.Repeat("word ", 40), nil)
	assert.NoError(t, err)

	_, err = f.svc.Submit(ctx, f.user.ID, "bad file", attachment("notes.txt", []byte("x")))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrFileTypeNotAllowed))

	big := attachment("scan.pdf", []byte("%PDF"))
	big.Size = 11 * 1024 * 1024
	_, err = f.svc.Submit(ctx, f.user.ID, "too big", big)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrFileSizeTooLarge))

	var n int64
	require.NoError(t, f.db.Model(&database.IssueReport{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestSubmitAttachment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, f.user.ID, "See attached", attachment("Screen Shot.PNG", []byte("png")))
	require.NoError(t, err)
	assert.Equal(t, "issue_attachments/1/Screen_Shot.PNG", first.AttachmentPath)

	second, err := f.svc.Submit(ctx, f.user.ID, "Again", attachment("Screen Shot.PNG", []byte("png2")))
	require.NoError(t, err)
	assert.NotEqual(t, first.AttachmentPath, second.AttachmentPath)

	for _, key := range []string{first.AttachmentPath, second.AttachmentPath} {
		ok, err := f.store.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
}

func TestIssueIDCollisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deleted := &database.IssueReport{IssueID: "AAAAAA", UserID: f.user.ID, Description: "x", Status: "open", IsDeleted: true}
	require.NoError(t, f.db.Create(deleted).Error)

	t.Run("跳过已占用的编号（含已删除）", func(t *testing.T) {
		ids := []string{"AAAAAA", "BBBBBB"}
		f.svc.newID = func() (string, error) {
			id := ids[0]
			ids = ids[1:]
			return id, nil
		}
		r, err := f.svc.Submit(ctx, f.user.ID, "collide", nil)
		require.NoError(t, err)
		assert.Equal(t, "BBBBBB", r.IssueID)
	})

	t.Run("重试次数耗尽", func(t *testing.T) {
		calls := 0
		f.svc.newID = func() (string, error) {
			calls++
			return "AAAAAA", nil
		}
		_, err := f.svc.Submit(ctx, f.user.ID, "collide", nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrIssueIDExhausted))
		assert.Equal(t, maxIDAttempts, calls)
	})
}

func TestRandomIssueID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id, err := RandomIssueID()
		require.NoError(t, err)
		assert.Regexp(t, `^[A-Z0-9]{6}$`, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 190)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := &database.User{Email: "ravi@example.com", FullName: "Ravi", PasswordHash: "x"}
	require.NoError(t, f.db.Create(other).Error)

	mine, err := f.svc.Submit(ctx, f.user.ID, "mine", nil)
	require.NoError(t, err)
	theirs, err := f.svc.Submit(ctx, other.ID, "theirs", nil)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(1, theirs.IssueID, &StatusRequest{Status: database.IssueStatusAccepted})
	require.NoError(t, err)

	list, err := f.svc.ListMine(f.user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.IssueID, list[0].IssueID)

	all, total, err := f.svc.ListAll("", 1, 20)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, int64(2), total)

	// 第二页每页一条，取到较早提交的问题
	paged, total, err := f.svc.ListAll("", 2, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, all[1].IssueID, paged[0].IssueID)

	accepted, _, err := f.svc.ListAll(database.IssueStatusAccepted, 1, 20)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	require.NotNil(t, accepted[0].User)
	assert.Equal(t, "Ravi", accepted[0].User.FullName)

	_, _, err = f.svc.ListAll("bogus", 1, 20)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidParams))

	_, err = f.svc.UpdateStatus(1, "ZZZZZZ", &StatusRequest{Status: database.IssueStatusAccepted})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}
