package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/logger"
)

// MinIOStore MinIO/S3兼容存储
type MinIOStore struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// NewMinIOStore 创建MinIO存储，存储桶不存在时自动创建
// Endpoint为 host:port，例如 127.0.0.1:9000
func NewMinIOStore(cfg config.RemoteStorage, publicBase string) (*MinIOStore, error) {
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	exists, err := c.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := c.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, err
		}
		logger.Infof("[MinIO] 创建存储桶: %s", cfg.Bucket)
	}

	return &MinIOStore{client: c, bucket: cfg.Bucket, publicBase: strings.TrimRight(publicBase, "/")}, nil
}

func (m *MinIOStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	key, err := CleanKey(key)
	if err != nil {
		return 0, err
	}
	info, err := m.client.PutObject(ctx, m.bucket, key, r, -1, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return 0, fmt.Errorf("failed to upload file to minio: %w", err)
	}
	return info.Size, nil
}

func (m *MinIOStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if ok, err := m.Exists(ctx, key); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrObjectNotFound
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download file from minio: %w", err)
	}
	return obj, nil
}

func (m *MinIOStore) Move(ctx context.Context, srcKey, dstKey string) error {
	dstKey, err := CleanKey(dstKey)
	if err != nil {
		return err
	}
	_, err = m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: m.bucket, Object: srcKey},
	)
	if err != nil {
		if isMinIONotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err)
	}
	return m.client.RemoveObject(ctx, m.bucket, srcKey, minio.RemoveObjectOptions{})
}

func (m *MinIOStore) Delete(ctx context.Context, key string) error {
	return m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
}

func (m *MinIOStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMinIONotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// URL 公开地址为 <publicBase>/<bucket>/<key>
func (m *MinIOStore) URL(key string) string {
	u, err := url.Parse(m.publicBase)
	if err != nil || m.publicBase == "" {
		return "/" + path.Join(m.bucket, key)
	}
	u.Path = path.Join(u.Path, m.bucket, key)
	return u.String()
}

func isMinIONotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}
