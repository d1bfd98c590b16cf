package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/weiwangfds/medcap/internal/logger"
)

// LocalStore 本地文件系统存储
type LocalStore struct {
	root       string
	publicBase string
}

// NewLocalStore 创建本地存储，根目录不存在时自动创建
func NewLocalStore(root, publicBase string) (*LocalStore, error) {
	if root == "" {
		root = "media"
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	logger.Infof("本地存储初始化完成, 根目录: %s", root)
	return &LocalStore{root: root, publicBase: publicBase}, nil
}

// resolve 存储键转换为本地绝对路径
func (s *LocalStore) resolve(key string) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put 先写入同目录的临时文件，再移动到目标位置
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	dst, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := moveFile(tmp.Name(), dst); err != nil {
		return n, fmt.Errorf("failed to move %s into place: %w", key, err)
	}
	return n, nil
}

// Open 打开本地文件
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return f, err
}

// Move 移动本地文件
func (s *LocalStore) Move(ctx context.Context, srcKey, dstKey string) error {
	src, err := s.resolve(srcKey)
	if err != nil {
		return err
	}
	dst, err := s.resolve(dstKey)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return ErrObjectNotFound
	}
	return moveFile(src, dst)
}

// Delete 删除本地文件
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists 判断本地文件是否存在
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// URL 本地文件的公开访问地址
func (s *LocalStore) URL(key string) string {
	return publicURL(s.publicBase, key)
}

// Root 本地存储根目录，用于静态文件服务
func (s *LocalStore) Root() string {
	return s.root
}

// moveFile 移动文件
// 优先使用重命名操作，如果失败则使用复制+删除的方式
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	// 同一文件系统直接重命名
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else {
		logger.Debugf("rename %s -> %s failed, falling back to copy: %v", src, dst, err)
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		os.Remove(dst)
		return err
	}
	if err := dstFile.Close(); err != nil {
		return err
	}

	// 复制成功后删除源文件
	return os.Remove(src)
}
