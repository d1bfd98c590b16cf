// Package issue 处理用户问题反馈：提交限流、编号生成和管理员处理
package issue

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/service/mail"
	"github.com/weiwangfds/medcap/internal/service/storage"
	"gorm.io/gorm"
)

const (
	issueIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	issueIDLength   = 6
	maxIDAttempts   = 20
)

var allowedAttachmentExt = map[string]bool{".pdf": true, ".jpg": true, ".jpeg": true, ".png": true}

// Attachment 问题附件
type Attachment struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// StatusRequest 管理员更新状态请求
type StatusRequest struct {
	Status string `json:"status" binding:"required,oneof=open accepted rejected completed"`
	Remark string `json:"remark" binding:"max=2000"`
}

// Gate 当前用户能否提交新问题
type Gate struct {
	Pending    int64 `json:"pending"`
	MaxPending int   `json:"max_pending"`
	Allowed    bool  `json:"allowed"`
}

// IssueService 问题反馈服务接口
type IssueService interface {
	// Submit 提交问题
	// 未完成问题数达到上限时拒绝，不创建记录
	// 参数:
	//   ctx - 上下文
	//   actorID - 提交人
	//   description - 问题描述，不超过配置的词数
	//   attachment - 可选附件，nil表示无附件
	// 返回:
	//   *database.IssueReport - 新建的问题
	//   error - 校验失败、达到上限或编号生成失败
	Submit(ctx context.Context, actorID uint, description string, attachment *Attachment) (*database.IssueReport, error)

	// CheckGate 统计用户未删除且未完成的问题数
	CheckGate(actorID uint) (*Gate, error)

	// ListMine 用户自己的问题，最新的在前
	ListMine(actorID uint) ([]database.IssueReport, error)

	// ListAll 分页列出全部未删除的问题，status为空时不过滤，同时返回总数
	ListAll(status string, page, pageSize int) ([]database.IssueReport, int64, error)

	// UpdateStatus 管理员更新状态和备注
	UpdateStatus(adminID uint, issueID string, req *StatusRequest) (*database.IssueReport, error)

	// Delete 软删除问题
	Delete(adminID uint, issueID string) error
}

type issueService struct {
	db     *gorm.DB
	store  storage.Store
	mailer mail.MailService
	cfg    config.IssueConfig
	newID  func() (string, error)
}

// NewIssueService 创建问题反馈服务
func NewIssueService(db *gorm.DB, store storage.Store, mailer mail.MailService, cfg config.IssueConfig) IssueService {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 3
	}
	if cfg.AttachmentMaxMB <= 0 {
		cfg.AttachmentMaxMB = 10
	}
	if cfg.MaxDescriptionWords <= 0 {
		cfg.MaxDescriptionWords = 40
	}
	return &issueService{db: db, store: store, mailer: mailer, cfg: cfg, newID: RandomIssueID}
}

// RandomIssueID 生成6位大写字母数字编号
func RandomIssueID() (string, error) {
	base := big.NewInt(int64(len(issueIDAlphabet)))
	b := make([]byte, issueIDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b[i] = issueIDAlphabet[n.Int64()]
	}
	return string(b), nil
}

func (s *issueService) CheckGate(actorID uint) (*Gate, error) {
	var pending int64
	err := s.db.Model(&database.IssueReport{}).
		Where("user_id = ? AND is_deleted = ? AND status <> ?", actorID, false, database.IssueStatusCompleted).
		Count(&pending).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return &Gate{Pending: pending, MaxPending: s.cfg.MaxPending, Allowed: pending < int64(s.cfg.MaxPending)}, nil
}

func (s *issueService) Submit(ctx context.Context, actorID uint, description string, attachment *Attachment) (*database.IssueReport, error) {
	gate, err := s.CheckGate(actorID)
	if err != nil {
		return nil, err
	}
	if !gate.Allowed {
		return nil, apperrors.New(apperrors.ErrPendingIssueLimit, "")
	}

	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "Description is required.")
	}
	if n := len(strings.Fields(description)); n > s.cfg.MaxDescriptionWords {
		return nil, apperrors.Newf(apperrors.ErrInvalidParams,
			"Description must not exceed %d words (currently %d).", s.cfg.MaxDescriptionWords, n)
	}

	issueID, err := s.uniqueIssueID()
	if err != nil {
		return nil, err
	}

	report := &database.IssueReport{
		IssueID:     issueID,
		UserID:      actorID,
		Description: description,
		Status:      database.IssueStatusOpen,
	}
	if attachment != nil {
		key, err := s.saveAttachment(ctx, actorID, attachment)
		if err != nil {
			return nil, err
		}
		report.AttachmentPath = key
	}

	if err := s.db.Create(report).Error; err != nil {
		if report.AttachmentPath != "" {
			_ = s.store.Delete(ctx, report.AttachmentPath)
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabaseInsert, "", err)
	}

	logger.WithFields(map[string]interface{}{"issue": issueID, "actor": actorID}).Info("问题已提交")
	s.notify(report)
	return report, nil
}

// uniqueIssueID 生成未被任何记录（含已删除）占用的编号
func (s *issueService) uniqueIssueID() (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", apperrors.Internal(err)
		}
		var n int64
		if err := s.db.Model(&database.IssueReport{}).Where("issue_id = ?", id).Count(&n).Error; err != nil {
			return "", apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
		}
		if n == 0 {
			return id, nil
		}
	}
	return "", apperrors.New(apperrors.ErrIssueIDExhausted, "")
}

func (s *issueService) saveAttachment(ctx context.Context, actorID uint, a *Attachment) (string, error) {
	if a.Open == nil {
		return "", apperrors.New(apperrors.ErrNoFileUploaded, "")
	}
	ext := strings.ToLower(path.Ext(a.Name))
	if !allowedAttachmentExt[ext] {
		return "", apperrors.New(apperrors.ErrFileTypeNotAllowed, "Only PDF, JPG, JPEG and PNG files are allowed.")
	}
	maxBytes := s.cfg.AttachmentMaxMB * 1024 * 1024
	sizeErr := apperrors.Newf(apperrors.ErrFileSizeTooLarge, "Attachment must not exceed %dMB.", s.cfg.AttachmentMaxMB)
	if a.Size > maxBytes {
		return "", sizeErr
	}

	key := storage.IssueAttachmentKey(actorID, a.Name)
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorageRead, "", err)
	}
	if exists {
		dir, name := path.Split(key)
		key = path.Join(dir, strings.ReplaceAll(uuid.New().String(), "-", "")[:8]+"_"+name)
	}

	rc, err := a.Open()
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrFileReadFailed, "", err)
	}
	defer rc.Close()

	size, err := s.store.Put(ctx, key, io.LimitReader(rc, maxBytes+1), "")
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorageWrite, "", err)
	}
	if size > maxBytes {
		_ = s.store.Delete(ctx, key)
		return "", sizeErr
	}
	return key, nil
}

func (s *issueService) notify(report *database.IssueReport) {
	if s.mailer == nil {
		return
	}
	reporter := fmt.Sprintf("user #%d", report.UserID)
	var user database.User
	if err := s.db.Select("email", "full_name").First(&user, report.UserID).Error; err == nil {
		reporter = fmt.Sprintf("%s <%s>", user.FullName, user.Email)
	}
	s.mailer.NotifyAdmin(fmt.Sprintf("New issue reported: %s", report.IssueID),
		mail.IssueSubmittedBody(report.IssueID, reporter, report.Description))
}

func (s *issueService) ListMine(actorID uint) ([]database.IssueReport, error) {
	var reports []database.IssueReport
	err := s.db.Where("user_id = ? AND is_deleted = ?", actorID, false).
		Order("created_at DESC").Order("id DESC").Find(&reports).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return reports, nil
}

func (s *issueService) ListAll(status string, page, pageSize int) ([]database.IssueReport, int64, error) {
	q := s.db.Model(&database.IssueReport{}).Where("is_deleted = ?", false)
	if status != "" {
		if _, ok := database.IssueStatusLabels[status]; !ok {
			return nil, 0, apperrors.Newf(apperrors.ErrInvalidParams, "Unknown status '%s'.", status)
		}
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	var reports []database.IssueReport
	err := q.Preload("User").Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&reports).Error
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return reports, total, nil
}

func (s *issueService) find(issueID string) (*database.IssueReport, error) {
	var report database.IssueReport
	err := s.db.Where("issue_id = ? AND is_deleted = ?", strings.ToUpper(strings.TrimSpace(issueID)), false).
		First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrNotFound, "Issue not found.")
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return &report, nil
}

func (s *issueService) UpdateStatus(adminID uint, issueID string, req *StatusRequest) (*database.IssueReport, error) {
	if _, ok := database.IssueStatusLabels[req.Status]; !ok {
		return nil, apperrors.Newf(apperrors.ErrInvalidParams, "Unknown status '%s'.", req.Status)
	}
	report, err := s.find(issueID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	report.Status = req.Status
	report.Remark = strings.TrimSpace(req.Remark)
	report.StatusMarkedAt = &now
	if err := s.db.Save(report).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}

	logger.WithFields(map[string]interface{}{
		"issue": report.IssueID, "status": req.Status, "actor": adminID,
	}).Info("问题状态已更新")
	return report, nil
}

func (s *issueService) Delete(adminID uint, issueID string) error {
	report, err := s.find(issueID)
	if err != nil {
		return err
	}
	if err := s.db.Model(report).Update("is_deleted", true).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}
	logger.WithFields(map[string]interface{}{"issue": report.IssueID, "actor": adminID}).Info("问题已删除")
	return nil
}
