// Package storage 提供统一的文件存储抽象
// 存储键为斜杠分隔的相对路径，后端可以是本地文件系统或阿里云/腾讯云/七牛云/MinIO对象存储
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/weiwangfds/medcap/config"
)

// ErrObjectNotFound 存储对象不存在
var ErrObjectNotFound = errors.New("storage: object not found")

// ErrInvalidKey 存储键非法（为空或包含..）
var ErrInvalidKey = errors.New("storage: invalid key")

// Store 存储后端接口
type Store interface {
	// Put 写入对象
	// 参数:
	//   ctx - 上下文
	//   key - 存储键
	//   r - 数据流
	//   contentType - MIME类型，可为空
	// 返回:
	//   int64 - 实际写入的字节数
	//   error - 错误信息
	Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)

	// Open 读取对象，调用方负责关闭；不存在时返回ErrObjectNotFound
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Move 将对象移动到新键
	Move(ctx context.Context, srcKey, dstKey string) error

	// Delete 删除对象，不存在时不报错
	Delete(ctx context.Context, key string) error

	// Exists 判断对象是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// URL 对象的公开访问地址
	URL(key string) string
}

// New 根据配置创建存储后端
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.Root, cfg.PublicBaseURL)
	case "aliyun":
		return NewAliyunStore(cfg.Remote, cfg.PublicBaseURL)
	case "tencent":
		return NewTencentStore(cfg.Remote, cfg.PublicBaseURL)
	case "qiniu":
		return NewQiniuStore(cfg.Remote, cfg.PublicBaseURL)
	case "minio":
		return NewMinIOStore(cfg.Remote, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// 病人目录下的分类子目录
const (
	CategoryCapturedImages = "captured_gps_images"
	CategoryUploadedImages = "uploaded_gps_images"
	CategoryUploadedFiles  = "uploaded_pdf_files"
	CategoryPatientPDF     = "patient_pdf"
	CategoryDeleted        = "deleted_files"
	CategoryOther          = "other"
)

// PatientFolder 病人分类目录: PATIENT_<uhid>/PATIENT_<uhid>_<category>
func PatientFolder(uhid int32, category string) string {
	root := fmt.Sprintf("PATIENT_%d", uhid)
	return path.Join(root, fmt.Sprintf("%s_%s", root, category))
}

// GeneratedName 生成存储文件名: IP<uhid><tag>NO<8位随机>.<ext>
func GeneratedName(uhid int32, tagValue, ext string) string {
	if tagValue == "" {
		tagValue = "no-tag"
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("IP%d%sNO%s.%s", uhid, tagValue, suffix, ext)
}

// maxKeyAttempts 查找空闲存储键的最大尝试次数
const maxKeyAttempts = 10

// UniqueKey 返回key本身或在扩展名前追加随机后缀的空闲键，已存在的对象不会被覆盖
// 参数:
//   - ctx: 上下文
//   - store: 存储后端
//   - key: 期望的存储键
// 返回:
//   - string: 当前不存在对象的存储键
//   - error: 查询失败或多次尝试后仍冲突
func UniqueKey(ctx context.Context, store Store, key string) (string, error) {
	ext := path.Ext(key)
	base := strings.TrimSuffix(key, ext)
	candidate := key
	for i := 0; i < maxKeyAttempts; i++ {
		exists, err := store.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%s%s", base, strings.ReplaceAll(uuid.New().String(), "-", "")[:7], ext)
	}
	return "", fmt.Errorf("no free key for %s", key)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFileName 把用户提供的文件名收敛为安全的单段文件名
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "file"
	}
	return name
}

// IssueAttachmentKey 问题附件存储键: issue_attachments/<userID>/<name>
func IssueAttachmentKey(userID uint, name string) string {
	return path.Join("issue_attachments", fmt.Sprint(userID), SanitizeFileName(name))
}

// CleanKey 规范化存储键，拒绝空键与..路径段
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", ErrInvalidKey
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "" {
		return "", ErrInvalidKey
	}
	return clean, nil
}

// publicURL 拼接公开访问前缀与存储键
func publicURL(base, key string) string {
	if base == "" {
		return "/" + key
	}
	return strings.TrimRight(base, "/") + "/" + key
}

// countingReader 统计读取的字节数
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
