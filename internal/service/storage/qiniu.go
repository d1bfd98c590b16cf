package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qiniu/go-sdk/v7/auth/qbox"
	qiniustorage "github.com/qiniu/go-sdk/v7/storage"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/logger"
)

// QiniuStore 七牛云Kodo存储
type QiniuStore struct {
	mac          *qbox.Mac
	bucketName   string
	bucketDomain string
	region       *qiniustorage.Region
	useHTTPS     bool
	publicBase   string
}

// NewQiniuStore 创建七牛云Kodo存储
// Endpoint为下载域名，为空时使用区域默认域名
func NewQiniuStore(cfg config.RemoteStorage, publicBase string) (*QiniuStore, error) {
	mac := qbox.NewMac(cfg.AccessKey, cfg.SecretKey)

	region, err := qiniustorage.GetRegion(cfg.AccessKey, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get qiniu region: %w", err)
	}

	bucketDomain := cfg.Endpoint
	if bucketDomain == "" {
		bucketDomain = fmt.Sprintf("%s.%s", cfg.Bucket, region.RsHost)
	}
	if !strings.HasPrefix(bucketDomain, "http") {
		scheme := "http://"
		if cfg.UseSSL {
			scheme = "https://"
		}
		bucketDomain = scheme + bucketDomain
	}

	logger.Infof("[七牛云Kodo] 存储初始化完成, 存储桶: %s, 域名: %s", cfg.Bucket, bucketDomain)
	return &QiniuStore{
		mac:          mac,
		bucketName:   cfg.Bucket,
		bucketDomain: bucketDomain,
		region:       region,
		useHTTPS:     cfg.UseSSL,
		publicBase:   publicBase,
	}, nil
}

func (s *QiniuStore) config() *qiniustorage.Config {
	return &qiniustorage.Config{
		Region:   s.region,
		UseHTTPS: s.useHTTPS,
	}
}

func (s *QiniuStore) bucketManager() *qiniustorage.BucketManager {
	return qiniustorage.NewBucketManager(s.mac, s.config())
}

func (s *QiniuStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	key, err := CleanKey(key)
	if err != nil {
		return 0, err
	}
	putPolicy := qiniustorage.PutPolicy{
		Scope: fmt.Sprintf("%s:%s", s.bucketName, key),
	}
	upToken := putPolicy.UploadToken(s.mac)

	formUploader := qiniustorage.NewFormUploader(s.config())
	ret := qiniustorage.PutRet{}
	putExtra := qiniustorage.PutExtra{}
	if contentType != "" {
		putExtra.MimeType = contentType
	}

	cr := &countingReader{r: r}
	if err := formUploader.Put(ctx, &ret, upToken, key, cr, -1, &putExtra); err != nil {
		return cr.n, fmt.Errorf("failed to upload file to qiniu kodo: %w", err)
	}
	return cr.n, nil
}

// Open 通过一小时有效的私有链接下载
func (s *QiniuStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	deadline := time.Now().Add(time.Hour).Unix()
	privateURL := qiniustorage.MakePrivateURL(s.mac, s.bucketDomain, key, deadline)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, privateURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file from qiniu kodo: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download file, status: %s", resp.Status)
	}
	return resp.Body, nil
}

func (s *QiniuStore) Move(ctx context.Context, srcKey, dstKey string) error {
	dstKey, err := CleanKey(dstKey)
	if err != nil {
		return err
	}
	if err := s.bucketManager().Move(s.bucketName, srcKey, s.bucketName, dstKey, true); err != nil {
		if isQiniuNotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to move %s to %s: %w", srcKey, dstKey, err)
	}
	return nil
}

func (s *QiniuStore) Delete(ctx context.Context, key string) error {
	if err := s.bucketManager().Delete(s.bucketName, key); err != nil && !isQiniuNotFound(err) {
		return fmt.Errorf("failed to delete file from qiniu kodo: %w", err)
	}
	return nil
}

func (s *QiniuStore) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := s.bucketManager().Stat(s.bucketName, key); err != nil {
		if isQiniuNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *QiniuStore) URL(key string) string {
	if s.publicBase == "" {
		return qiniustorage.MakePublicURL(s.bucketDomain, key)
	}
	return publicURL(s.publicBase, key)
}

// 七牛对不存在的对象返回612, 错误信息为 "no such file or directory"
func isQiniuNotFound(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}
