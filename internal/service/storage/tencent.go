package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tencentyun/cos-go-sdk-v5"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/logger"
)

// TencentStore 腾讯云COS存储
type TencentStore struct {
	client     *cos.Client
	host       string
	publicBase string
}

// NewTencentStore 创建腾讯云COS存储
func NewTencentStore(cfg config.RemoteStorage, publicBase string) (*TencentStore, error) {
	bucketURL := fmt.Sprintf("https://%s.cos.%s.myqcloud.com", cfg.Bucket, cfg.Region)
	if cfg.Endpoint != "" {
		bucketURL = cfg.Endpoint
	}

	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bucket URL: %w", err)
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		},
	})

	logger.Infof("[腾讯云COS] 存储初始化完成, 存储桶: %s", u.Host)
	return &TencentStore{client: client, host: u.Host, publicBase: publicBase}, nil
}

func (s *TencentStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	key, err := CleanKey(key)
	if err != nil {
		return 0, err
	}
	options := &cos.ObjectPutOptions{}
	if contentType != "" {
		options.ObjectPutHeaderOptions = &cos.ObjectPutHeaderOptions{
			ContentType: contentType,
		}
	}
	cr := &countingReader{r: r}
	if _, err := s.client.Object.Put(ctx, key, cr, options); err != nil {
		return cr.n, fmt.Errorf("failed to upload file to tencent cos: %w", err)
	}
	return cr.n, nil
}

func (s *TencentStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.Object.Get(ctx, key, nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to download file from tencent cos: %w", err)
	}
	return resp.Body, nil
}

// Move 服务端复制后删除源对象
func (s *TencentStore) Move(ctx context.Context, srcKey, dstKey string) error {
	dstKey, err := CleanKey(dstKey)
	if err != nil {
		return err
	}
	source := s.host + "/" + srcKey
	if _, _, err := s.client.Object.Copy(ctx, dstKey, source, nil); err != nil {
		if cos.IsNotFoundError(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err)
	}
	_, err = s.client.Object.Delete(ctx, srcKey)
	return err
}

func (s *TencentStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Object.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete file from tencent cos: %w", err)
	}
	return nil
}

func (s *TencentStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Object.Head(ctx, key, nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *TencentStore) URL(key string) string {
	return publicURL(s.publicBase, key)
}
