// Package config 负责加载应用配置
// 配置来源依次为: 默认值 -> config.toml -> .env / 环境变量(MEDCAP_ 前缀)
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/weiwangfds/medcap/internal/logger"
)

// Config 应用总配置
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        logger.Config    `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Derivation DerivationConfig `mapstructure:"derivation"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Mail       MailConfig       `mapstructure:"mail"`
	Issue      IssueConfig      `mapstructure:"issue"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`          // 监听端口
	Mode         string `mapstructure:"mode"`          // gin模式: debug, release, test
	EnableHTTPS  bool   `mapstructure:"enable_https"`  // 是否启用HTTPS
	EnableHTTP2  bool   `mapstructure:"enable_http2"`  // 是否启用HTTP/2
	TLSCertFile  string `mapstructure:"tls_cert_file"` // 证书文件
	TLSKeyFile   string `mapstructure:"tls_key_file"`  // 私钥文件
	ReadTimeout  int    `mapstructure:"read_timeout"`  // 读超时(秒)
	WriteTimeout int    `mapstructure:"write_timeout"` // 写超时(秒)
	SiteURL      string `mapstructure:"site_url"`      // 对外访问地址，用于导出报表中的链接
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // sqlite 或 postgres
	DSN             string `mapstructure:"dsn"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	LogLevel        string `mapstructure:"log_level"`         // silent, error, warn, info
}

// StorageConfig 文件存储配置
type StorageConfig struct {
	Backend          string        `mapstructure:"backend"`            // local, aliyun, tencent, qiniu, minio
	Root             string        `mapstructure:"root"`               // 本地存储根目录
	PublicBaseURL    string        `mapstructure:"public_base_url"`    // 文件公开访问前缀
	RelocateOnDelete bool          `mapstructure:"relocate_on_delete"` // 软删除时是否移动物理文件
	MaxUploadMB      int64         `mapstructure:"max_upload_mb"`      // 单文件上限
	Remote           RemoteStorage `mapstructure:"remote"`
}

// MaxUploadBytes 单文件字节上限
func (c StorageConfig) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 45 * 1024 * 1024
	}
	return c.MaxUploadMB * 1024 * 1024
}

// RemoteStorage 对象存储连接参数
type RemoteStorage struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// DerivationConfig 标签触发的PDF生成配置
type DerivationConfig struct {
	HospitalName        string `mapstructure:"hospital_name"`
	AdmissionTag        string `mapstructure:"admission_tag"` // 入院摘要标签的value
	DischargeTag        string `mapstructure:"discharge_tag"` // 出院摘要标签的value
	Timezone            string `mapstructure:"timezone"`
	RegenerateOnRestore bool   `mapstructure:"regenerate_on_restore"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret         string `mapstructure:"jwt_secret"`
	TokenTTLHours     int    `mapstructure:"token_ttl_hours"`
	MaxFailedAttempts int    `mapstructure:"max_failed_attempts"`
	WarnAfterAttempts int    `mapstructure:"warn_after_attempts"`
	ResetPassword     string `mapstructure:"reset_password"`
}

// RedisConfig 会话存储配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MailConfig 邮件配置
type MailConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	From       string `mapstructure:"from"`
	AdminEmail string `mapstructure:"admin_email"`
}

// IssueConfig 问题反馈配置
type IssueConfig struct {
	MaxPending          int   `mapstructure:"max_pending"`
	AttachmentMaxMB     int64 `mapstructure:"attachment_max_mb"`
	MaxDescriptionWords int   `mapstructure:"max_description_words"`
}

// I18nConfig 国际化配置
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
}

// setDefaults 注册所有配置项的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.enable_https", false)
	v.SetDefault("server.enable_http2", true)
	v.SetDefault("server.read_timeout", 60)
	v.SetDefault("server.write_timeout", 120)
	v.SetDefault("server.site_url", "http://localhost:8080")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/medcap.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "logs/medcap.log")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.root", "media")
	v.SetDefault("storage.public_base_url", "/media")
	v.SetDefault("storage.relocate_on_delete", false)
	v.SetDefault("storage.max_upload_mb", 45)

	v.SetDefault("derivation.hospital_name", "HIMALAYAN HOSPITAL")
	v.SetDefault("derivation.admission_tag", "AdmissionSummary")
	v.SetDefault("derivation.discharge_tag", "DischargeSummary")
	v.SetDefault("derivation.timezone", "Asia/Kolkata")
	v.SetDefault("derivation.regenerate_on_restore", false)

	v.SetDefault("auth.jwt_secret", "change-me")
	v.SetDefault("auth.token_ttl_hours", 24)
	v.SetDefault("auth.max_failed_attempts", 6)
	v.SetDefault("auth.warn_after_attempts", 4)
	v.SetDefault("auth.reset_password", "123456")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.host", "smtp.gmail.com")
	v.SetDefault("mail.port", 587)

	v.SetDefault("issue.max_pending", 3)
	v.SetDefault("issue.attachment_max_mb", 10)
	v.SetDefault("issue.max_description_words", 40)

	v.SetDefault("i18n.default_language", "en-US")
}

// Load 加载配置
// 返回:
//   - *Config: 解析后的配置
//   - error: 配置文件存在但无法解析时返回
func Load() (*Config, error) {
	_ = godotenv.Load()

	configName := "config"
	if name := os.Getenv("CONFIG_NAME"); name != "" {
		configName = name
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName(configName)
	v.SetConfigType("toml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("MEDCAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
