// Package user 提供用户注册、登录锁定和管理员审批流程
package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/pkg/auth"
	"github.com/weiwangfds/medcap/internal/service/mail"
	"gorm.io/gorm"
)

// SessionStore 登录会话存储，Redis未启用时为nil
type SessionStore interface {
	Create(ctx context.Context, data auth.SessionData) (string, error)
	Delete(ctx context.Context, sessionID string) error
}

// UserService 用户服务接口
type UserService interface {
	// Register 注册新用户，新用户需等待管理员审批
	// 参数:
	//   req - 注册请求
	// 返回:
	//   *database.User - 新建的用户
	//   error - 邮箱已存在返回ErrConflict
	Register(req *RegisterRequest) (*database.User, error)

	// Login 邮箱密码登录
	// 非管理员每次失败累计一次，达到上限后锁定；成功后清零
	// 返回:
	//   *LoginResult - 令牌与用户信息
	//   error - ErrInvalidCredentials / ErrApprovalPending / ErrAccountLocked
	Login(ctx context.Context, email, password string) (*LoginResult, error)

	// Logout 删除会话，未启用会话时忽略
	Logout(ctx context.Context, sessionID string) error

	// GetByID 根据ID获取用户，附带科室/职称/病区
	GetByID(id uint) (*database.User, error)

	// List 分页列出用户，approved为nil时不过滤，同时返回总数
	List(approved *bool, page, pageSize int) ([]database.User, int64, error)

	// Approve 审批通过，记录审批人与时间并发送通知邮件
	Approve(adminID, userID uint) (*database.User, error)

	// Disapprove 撤销审批
	Disapprove(adminID, userID uint) (*database.User, error)

	// Unblock 解除锁定并清零失败次数
	Unblock(adminID, userID uint) (*database.User, error)

	// ResetPassword 将密码重置为配置的默认密码
	ResetPassword(adminID, userID uint) (*database.User, error)

	// UpdateProfile 用户更新自己的资料
	UpdateProfile(userID uint, req *ProfileRequest) (*database.User, error)

	// ChangePassword 校验旧密码后修改密码
	ChangePassword(userID uint, oldPassword, newPassword string) error
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Email            string `json:"email" binding:"required,email,max=254"`
	FullName         string `json:"full_name" binding:"required,max=255"`
	Password         string `json:"password" binding:"required,min=6,max=72"`
	EmployeeID       string `json:"employee_id" binding:"max=100"`
	DepartmentID     *uint  `json:"department_id"`
	DepartmentOther  string `json:"department_other" binding:"max=255"`
	DesignationID    *uint  `json:"designation_id"`
	DesignationOther string `json:"designation_other" binding:"max=255"`
	WardID           *uint  `json:"ward_id"`
	WardOther        string `json:"ward_other" binding:"max=255"`
	Phone            string `json:"phone" binding:"omitempty,phone"`
}

// ProfileRequest 资料更新请求
type ProfileRequest struct {
	FullName         string `json:"full_name" binding:"required,max=255"`
	EmployeeID       string `json:"employee_id" binding:"max=100"`
	DepartmentID     *uint  `json:"department_id"`
	DepartmentOther  string `json:"department_other" binding:"max=255"`
	DesignationID    *uint  `json:"designation_id"`
	DesignationOther string `json:"designation_other" binding:"max=255"`
	WardID           *uint  `json:"ward_id"`
	WardOther        string `json:"ward_other" binding:"max=255"`
	Phone            string `json:"phone" binding:"omitempty,phone"`
}

// LoginResult 登录结果
type LoginResult struct {
	Token     string         `json:"token"`
	SessionID string         `json:"session_id,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *database.User `json:"user"`
}

type userService struct {
	db       *gorm.DB
	cfg      config.AuthConfig
	siteURL  string
	jwt      *auth.JWTService
	sessions SessionStore
	mailer   mail.MailService
}

// NewUserService 创建用户服务
// 参数:
//   db - 数据库连接
//   cfg - 认证配置（锁定阈值、默认重置密码）
//   siteURL - 审批通知邮件中的登录地址
//   jwt - 令牌服务
//   sessions - 会话存储，可为nil
//   mailer - 邮件服务
func NewUserService(db *gorm.DB, cfg config.AuthConfig, siteURL string, jwt *auth.JWTService, sessions SessionStore, mailer mail.MailService) UserService {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = 6
	}
	if cfg.WarnAfterAttempts <= 0 {
		cfg.WarnAfterAttempts = 4
	}
	return &userService{
		db:       db,
		cfg:      cfg,
		siteURL:  siteURL,
		jwt:      jwt,
		sessions: sessions,
		mailer:   mailer,
	}
}

// NormalizeEmail 邮箱统一小写并去除空白
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *userService) Register(req *RegisterRequest) (*database.User, error) {
	email := NormalizeEmail(req.Email)

	var count int64
	if err := s.db.Model(&database.User{}).Where("LOWER(email) = ?", email).Count(&count).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	if count > 0 {
		return nil, apperrors.New(apperrors.ErrConflict, "A user with this email already exists.")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	u := &database.User{
		Email:            email,
		FullName:         strings.TrimSpace(req.FullName),
		PasswordHash:     hash,
		EmployeeID:       strings.TrimSpace(req.EmployeeID),
		DepartmentID:     req.DepartmentID,
		DepartmentOther:  strings.TrimSpace(req.DepartmentOther),
		DesignationID:    req.DesignationID,
		DesignationOther: strings.TrimSpace(req.DesignationOther),
		WardID:           req.WardID,
		WardOther:        strings.TrimSpace(req.WardOther),
		Phone:            strings.TrimSpace(req.Phone),
		IsActive:         true,
	}
	if err := s.checkLookups(u.DepartmentID, u.DesignationID, u.WardID); err != nil {
		return nil, err
	}
	if err := s.db.Create(u).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseInsert, "", err)
	}

	logger.WithField("user", u.Email).Info("用户注册成功, 等待审批")
	s.mailer.Notify(mail.WelcomeMessage(u.Email, u.FullName))
	return u, nil
}

// checkLookups 校验选择的科室/职称/病区存在且启用
func (s *userService) checkLookups(department, designation, ward *uint) error {
	for kind, id := range map[string]*uint{
		database.LookupDepartment:  department,
		database.LookupDesignation: designation,
		database.LookupWard:        ward,
	} {
		if id == nil {
			continue
		}
		var n int64
		if err := s.db.Model(&database.Lookup{}).
			Where("id = ? AND kind = ? AND is_active = ?", *id, kind, true).
			Count(&n).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
		}
		if n == 0 {
			return apperrors.Newf(apperrors.ErrInvalidParams, "Invalid %s selected.", kind)
		}
	}
	return nil
}

func (s *userService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var u database.User
	err := s.db.Where("LOWER(email) = ?", NormalizeEmail(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.ErrInvalidCredentials, "")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}

	// 密码校验在账号状态之前，错误密码不透露账号是否待审批或已锁定
	if !auth.CheckPassword(u.PasswordHash, password) {
		if !u.IsAdmin && (!u.IsApproved || s.locked(&u)) {
			return nil, apperrors.New(apperrors.ErrInvalidCredentials, "")
		}
		return nil, s.recordFailure(&u)
	}

	if !u.IsAdmin {
		if !u.IsApproved {
			return nil, apperrors.New(apperrors.ErrApprovalPending, "")
		}
		if s.locked(&u) {
			return nil, apperrors.New(apperrors.ErrAccountLocked, "")
		}
	}

	if u.FailedAttempts != 0 {
		if err := s.db.Model(&u).Update("failed_attempts", 0).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
		}
	}

	token, err := s.jwt.Generate(u.ID, u.Email, u.IsAdmin)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	result := &LoginResult{
		Token:     token,
		ExpiresAt: time.Now().Add(s.jwt.TTL()),
		User:      &u,
	}
	if s.sessions != nil {
		sid, err := s.sessions.Create(ctx, auth.SessionData{UserID: u.ID, Email: u.Email, IsAdmin: u.IsAdmin})
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		result.SessionID = sid
	}

	logger.WithField("user", u.Email).Info("用户登录成功")
	return result, nil
}

func (s *userService) locked(u *database.User) bool {
	return !u.IsActive || u.FailedAttempts >= s.cfg.MaxFailedAttempts
}

// recordFailure 累计失败次数，达到上限时锁定账号并通知管理员
func (s *userService) recordFailure(u *database.User) error {
	if u.IsAdmin {
		return apperrors.New(apperrors.ErrInvalidCredentials, "")
	}

	u.FailedAttempts++
	locked := u.FailedAttempts >= s.cfg.MaxFailedAttempts
	updates := map[string]interface{}{"failed_attempts": u.FailedAttempts}
	if locked {
		u.IsActive = false
		updates["is_active"] = false
	}
	if err := s.db.Model(u).Updates(updates).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}

	if locked {
		logger.WithField("user", u.Email).Warnf("连续%d次登录失败, 账号已锁定", u.FailedAttempts)
		s.mailer.NotifyAdmin("User account locked", mail.AccountLockedBody(u.Email, u.FailedAttempts))
		return apperrors.New(apperrors.ErrAccountLocked, "")
	}
	if u.FailedAttempts >= s.cfg.WarnAfterAttempts {
		remaining := s.cfg.MaxFailedAttempts - u.FailedAttempts
		return apperrors.Newf(apperrors.ErrInvalidCredentials,
			"Invalid email or password. %d more failed attempt(s) will lock the account. Please reset your password if you have forgotten it.", remaining)
	}
	return apperrors.New(apperrors.ErrInvalidCredentials, "")
}

func (s *userService) Logout(ctx context.Context, sessionID string) error {
	if s.sessions == nil || sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (s *userService) GetByID(id uint) (*database.User, error) {
	var u database.User
	err := s.db.Preload("Department").Preload("Designation").Preload("Ward").First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.ErrNotFound, "User not found.")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return &u, nil
}

func (s *userService) List(approved *bool, page, pageSize int) ([]database.User, int64, error) {
	query := s.db.Model(&database.User{})
	if approved != nil {
		query = query.Where("is_approved = ?", *approved)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	var users []database.User
	err := query.Preload("Department").Preload("Designation").Preload("Ward").
		Order("full_name ASC").Order("id ASC").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&users).Error
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return users, total, nil
}

func (s *userService) Approve(adminID, userID uint) (*database.User, error) {
	u, err := s.GetByID(userID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	u.IsApproved = true
	u.ApprovedByID = &adminID
	u.ApprovedAt = &now
	if err := s.db.Model(u).Updates(map[string]interface{}{
		"is_approved":    true,
		"approved_by_id": adminID,
		"approved_at":    now,
	}).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}

	logger.WithFields(map[string]interface{}{"user": u.Email, "actor": adminID}).Info("用户已审批通过")
	s.mailer.Notify(mail.ApprovalMessage(u.Email, u.FullName, s.siteURL))
	return u, nil
}

func (s *userService) Disapprove(adminID, userID uint) (*database.User, error) {
	u, err := s.GetByID(userID)
	if err != nil {
		return nil, err
	}
	u.IsApproved = false
	u.ApprovedByID = nil
	u.ApprovedAt = nil
	if err := s.db.Model(u).Updates(map[string]interface{}{
		"is_approved":    false,
		"approved_by_id": nil,
		"approved_at":    nil,
	}).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}
	logger.WithFields(map[string]interface{}{"user": u.Email, "actor": adminID}).Info("用户审批已撤销")
	return u, nil
}

func (s *userService) Unblock(adminID, userID uint) (*database.User, error) {
	u, err := s.GetByID(userID)
	if err != nil {
		return nil, err
	}
	u.IsActive = true
	u.FailedAttempts = 0
	if err := s.db.Model(u).Updates(map[string]interface{}{
		"is_active":       true,
		"failed_attempts": 0,
	}).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}
	logger.WithFields(map[string]interface{}{"user": u.Email, "actor": adminID}).Info("用户已解除锁定")
	return u, nil
}

func (s *userService) ResetPassword(adminID, userID uint) (*database.User, error) {
	u, err := s.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if err := s.setPassword(u, s.cfg.ResetPassword); err != nil {
		return nil, err
	}
	logger.WithFields(map[string]interface{}{"user": u.Email, "actor": adminID}).Info("用户密码已重置")
	return u, nil
}

func (s *userService) setPassword(u *database.User, password string) error {
	if password == "" {
		return apperrors.New(apperrors.ErrInvalidParams, "Password must not be empty.")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return apperrors.Internal(err)
	}
	u.PasswordHash = hash
	if err := s.db.Model(u).Update("password_hash", hash).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}
	return nil
}

func (s *userService) UpdateProfile(userID uint, req *ProfileRequest) (*database.User, error) {
	u, err := s.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkLookups(req.DepartmentID, req.DesignationID, req.WardID); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"full_name":         strings.TrimSpace(req.FullName),
		"employee_id":       strings.TrimSpace(req.EmployeeID),
		"department_id":     req.DepartmentID,
		"department_other":  strings.TrimSpace(req.DepartmentOther),
		"designation_id":    req.DesignationID,
		"designation_other": strings.TrimSpace(req.DesignationOther),
		"ward_id":           req.WardID,
		"ward_other":        strings.TrimSpace(req.WardOther),
		"phone":             strings.TrimSpace(req.Phone),
	}
	if err := s.db.Model(u).Updates(updates).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}
	return s.GetByID(userID)
}

func (s *userService) ChangePassword(userID uint, oldPassword, newPassword string) error {
	u, err := s.GetByID(userID)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(u.PasswordHash, oldPassword) {
		return apperrors.New(apperrors.ErrInvalidParams, "Your old password was entered incorrectly.")
	}
	if len(newPassword) < 6 {
		return apperrors.New(apperrors.ErrInvalidParams, "Password must be at least 6 characters.")
	}
	return s.setPassword(u, newPassword)
}
