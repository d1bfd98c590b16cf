// Package bootstrap 按配置创建服务进程和运维命令共用的基础资源
package bootstrap

import (
	"fmt"
	"time"

	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	"github.com/weiwangfds/medcap/internal/i18n"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/pkg/auth"
	"github.com/weiwangfds/medcap/internal/service/mail"
	"github.com/weiwangfds/medcap/internal/service/storage"
	"gorm.io/gorm"
)

// App 已初始化的基础资源
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Store    storage.Store
	JWT      *auth.JWTService
	Sessions *auth.SessionService // redis.enabled为false时为nil
	Mailer   mail.MailService
}

// Load 加载配置并初始化日志
func Load() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(&cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.I18n.DefaultLanguage != "" {
		i18n.GetInstance().SetDefaultLanguage(cfg.I18n.DefaultLanguage)
	}
	return cfg, nil
}

// Open 连接数据库、创建存储后端并补齐保留标签
func Open(cfg *config.Config) (*App, error) {
	db, err := database.Init(cfg.Database)
	if err != nil {
		return nil, err
	}
	reserved := database.ReservedTags(cfg.Derivation.AdmissionTag, cfg.Derivation.DischargeTag)
	if err := database.SeedReservedTags(db, reserved); err != nil {
		return nil, fmt.Errorf("seed reserved tags: %w", err)
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	ttl := time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	app := &App{
		Config: cfg,
		DB:     db,
		Store:  store,
		JWT:    auth.NewJWTService(cfg.Auth.JWTSecret, ttl),
		Mailer: mail.NewMailService(cfg.Mail),
	}

	if cfg.Redis.Enabled {
		sessions, err := auth.NewSessionService(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, ttl)
		if err != nil {
			return nil, err
		}
		app.Sessions = sessions
		logger.Infof("会话存储已连接: %s:%d", cfg.Redis.Host, cfg.Redis.Port)
	}

	logger.WithFields(map[string]interface{}{
		"database": cfg.Database.Driver,
		"storage":  cfg.Storage.Backend,
		"redis":    cfg.Redis.Enabled,
		"mail":     cfg.Mail.Enabled,
	}).Info("基础资源初始化完成")
	return app, nil
}

// Close 等待未发送的邮件并关闭连接
func (a *App) Close() {
	if a.Mailer != nil {
		a.Mailer.Wait()
	}
	if a.Sessions != nil {
		if err := a.Sessions.Close(); err != nil {
			logger.Warnf("关闭Redis连接失败: %v", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Warnf("关闭数据库连接失败: %v", err)
		}
	}
}
