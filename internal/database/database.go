package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/weiwangfds/medcap/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Init 初始化数据库连接并执行迁移
// 参数:
//   - cfg: 数据库配置，driver 支持 sqlite 与 postgres
// 返回:
//   - *gorm.DB: 数据库连接
//   - error: 连接或迁移失败
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		// 启用WAL模式和其他SQLite优化选项
		dsn := cfg.DSN
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(parseLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// 对于SQLite，限制并发连接数以避免锁定问题
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return db, nil
}

// AutoMigrate 自动迁移全部表结构并创建查询索引
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Lookup{},
		&User{},
		&Patient{},
		&Tag{},
		&CapturedImage{},
		&UploadedImage{},
		&UploadedFile{},
		&DerivedDocument{},
		&IssueReport{},
	); err != nil {
		return err
	}
	return createIndexes(db)
}

func parseLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// ensureDir 为sqlite数据库文件创建所在目录
func ensureDir(dsn string) error {
	file := strings.SplitN(strings.TrimPrefix(dsn, "file:"), "?", 2)[0]
	if file == "" || file == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}
