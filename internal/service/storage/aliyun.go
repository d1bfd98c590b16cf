package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/logger"
)

// AliyunStore 阿里云OSS存储
type AliyunStore struct {
	bucket     *oss.Bucket
	publicBase string
}

// NewAliyunStore 创建阿里云OSS存储
// 参数:
//   - cfg: 对象存储连接参数，Endpoint为空时按Region拼接默认域名
//   - publicBase: 公开访问前缀
func NewAliyunStore(cfg config.RemoteStorage, publicBase string) (*AliyunStore, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://oss-%s.aliyuncs.com", cfg.Region)
	}

	client, err := oss.New(endpoint, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun oss client: %w", err)
	}

	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket %s: %w", cfg.Bucket, err)
	}

	logger.Infof("[阿里云OSS] 存储初始化完成, 域名: %s, 存储桶: %s", endpoint, cfg.Bucket)
	return &AliyunStore{bucket: bucket, publicBase: publicBase}, nil
}

func (s *AliyunStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	key, err := CleanKey(key)
	if err != nil {
		return 0, err
	}
	options := []oss.Option{oss.WithContext(ctx)}
	if contentType != "" {
		options = append(options, oss.ContentType(contentType))
	}
	cr := &countingReader{r: r}
	if err := s.bucket.PutObject(key, cr, options...); err != nil {
		return cr.n, fmt.Errorf("failed to upload file to aliyun oss: %w", err)
	}
	return cr.n, nil
}

func (s *AliyunStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	body, err := s.bucket.GetObject(key, oss.WithContext(ctx))
	if err != nil {
		if isAliyunNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to download file from aliyun oss: %w", err)
	}
	return body, nil
}

// Move OSS没有原生移动操作，先复制再删除源对象
func (s *AliyunStore) Move(ctx context.Context, srcKey, dstKey string) error {
	dstKey, err := CleanKey(dstKey)
	if err != nil {
		return err
	}
	if _, err := s.bucket.CopyObject(srcKey, dstKey, oss.WithContext(ctx)); err != nil {
		if isAliyunNotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err)
	}
	return s.bucket.DeleteObject(srcKey, oss.WithContext(ctx))
}

func (s *AliyunStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete file from aliyun oss: %w", err)
	}
	return nil
}

func (s *AliyunStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.IsObjectExist(key, oss.WithContext(ctx))
}

func (s *AliyunStore) URL(key string) string {
	return publicURL(s.publicBase, key)
}

func isAliyunNotFound(err error) bool {
	var se oss.ServiceError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
