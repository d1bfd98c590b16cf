// Package ingest 处理图片和文件的上传入库
// 校验UHID、标签、大小和类型后写入存储并创建记录，保留标签的图片会继续生成PDF摘要
package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/service/derive"
	"github.com/weiwangfds/medcap/internal/service/patient"
	"github.com/weiwangfds/medcap/internal/service/storage"
	"github.com/weiwangfds/medcap/internal/service/tag"
	"gorm.io/gorm"
)

// Payload 一个待入库的文件
type Payload struct {
	Name        string                        // 客户端文件名
	Size        int64                         // 声明的大小
	ContentType string                        // 声明的MIME类型，为空时按内容识别
	Open        func() (io.ReadCloser, error) // 打开文件内容
}

// Request 上传请求中与文件无关的部分
type Request struct {
	ActorID   uint
	UHID      string
	TagID     uint
	Latitude  *float64
	Longitude *float64
}

// Stored 单个文件的入库结果
type Stored struct {
	Kind    database.AssetKind        `json:"kind"`
	Asset   *database.Asset           `json:"asset"`
	Derived *database.DerivedDocument `json:"derived,omitempty"`
}

// ItemResult 批量上传中单个文件的结果
type ItemResult struct {
	File    string `json:"file"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	ID      uint   `json:"id,omitempty"`
}

// BatchResult 批量上传结果，全部成功时Success为true
type BatchResult struct {
	Success bool         `json:"success"`
	Results []ItemResult `json:"results"`
}

// IngestService 上传入库服务接口
type IngestService interface {
	// Ingest 单文件上传，任何校验失败立即返回
	// 参数:
	//   ctx - 上下文
	//   profile - 上传入口名称
	//   req - UHID、标签和操作人
	//   payload - 文件
	// 返回:
	//   *Stored - 入库结果
	//   error - 校验错误或内部错误
	Ingest(ctx context.Context, profile string, req Request, payload Payload) (*Stored, error)

	// IngestBatch 批量上传，单个文件失败不影响其他文件
	// UHID、标签、病人或文件列表本身无效时返回error
	IngestBatch(ctx context.Context, profile string, req Request, payloads []Payload) (*BatchResult, error)

	// Capture 摄像头拍摄的图片，dataURL形如 data:image/png;base64,...
	Capture(ctx context.Context, req Request, dataURL string) (*Stored, error)
}

type ingestService struct {
	db       *gorm.DB
	store    storage.Store
	tags     tag.TagService
	patients patient.PatientService
	deriver  derive.DeriveService
	maxBytes int64
}

// NewIngestService 创建上传入库服务
func NewIngestService(db *gorm.DB, store storage.Store, tags tag.TagService, patients patient.PatientService,
	deriver derive.DeriveService, cfg config.StorageConfig) IngestService {
	return &ingestService{
		db:       db,
		store:    store,
		tags:     tags,
		patients: patients,
		deriver:  deriver,
		maxBytes: cfg.MaxUploadBytes(),
	}
}

// target 一次请求共用的病人与标签
type target struct {
	profile Profile
	patient *database.Patient
	tag     *database.Tag
}

// resolve 校验UHID、标签和病人
func (s *ingestService) resolve(profileName string, req Request, batch bool) (*target, error) {
	profile, ok := LookupProfile(profileName)
	if !ok || profile.Batch != batch {
		return nil, apperrors.Newf(apperrors.ErrInvalidParams, "Unknown upload type '%s'.", profileName)
	}
	uhid, err := patient.ParseUHID(req.UHID)
	if err != nil {
		return nil, err
	}
	t, err := s.tags.ResolveActive(req.TagID)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.GetByUHID(uhid)
	if err != nil {
		return nil, err
	}
	return &target{profile: profile, patient: p, tag: t}, nil
}

func (s *ingestService) Ingest(ctx context.Context, profile string, req Request, payload Payload) (*Stored, error) {
	tg, err := s.resolve(profile, req, false)
	if err != nil {
		return nil, err
	}
	return s.ingestOne(ctx, tg, req, payload)
}

func (s *ingestService) IngestBatch(ctx context.Context, profile string, req Request, payloads []Payload) (*BatchResult, error) {
	if len(payloads) == 0 {
		return nil, apperrors.New(apperrors.ErrNoFileUploaded, "")
	}
	tg, err := s.resolve(profile, req, true)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Success: true, Results: make([]ItemResult, 0, len(payloads))}
	for _, payload := range payloads {
		item := ItemResult{File: payload.Name}
		stored, err := s.ingestOne(ctx, tg, req, payload)
		if err != nil {
			item.Error = userMessage(err)
			result.Success = false
		} else {
			item.Success = true
			item.ID = stored.Asset.ID
		}
		result.Results = append(result.Results, item)
	}
	return result, nil
}

func (s *ingestService) Capture(ctx context.Context, req Request, dataURL string) (*Stored, error) {
	tg, err := s.resolve(ProfileCapture, req, false)
	if err != nil {
		return nil, err
	}

	declared, data, err := decodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	ext := strings.TrimPrefix(mimetype.Detect(data).Extension(), ".")
	payload := Payload{
		Name:        "capture." + ext,
		Size:        int64(len(data)),
		ContentType: declared,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
	return s.ingestOne(ctx, tg, req, payload)
}

// ingestOne 校验并保存单个文件
func (s *ingestService) ingestOne(ctx context.Context, tg *target, req Request, payload Payload) (*Stored, error) {
	if payload.Open == nil {
		return nil, apperrors.New(apperrors.ErrNoFileUploaded, "")
	}
	if payload.Size > s.maxBytes {
		return nil, s.sizeError(payload.Name)
	}

	rc, err := payload.Open()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrFileReadFailed, "", err)
	}
	defer rc.Close()

	contentType, body, err := resolveContentType(payload.ContentType, rc)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrFileReadFailed, "", err)
	}
	if !tg.profile.Allows(contentType) {
		return nil, apperrors.Newf(apperrors.ErrFileTypeNotAllowed,
			"\"%s\" has an unsupported file type (%s).", payload.Name, contentType)
	}

	uhid := tg.patient.UHID
	folder := storage.PatientFolder(uhid, tg.profile.Category)
	key := path.Join(folder, storage.GeneratedName(uhid, tg.tag.Value, extension(payload.Name, contentType)))

	size, err := s.store.Put(ctx, key, io.LimitReader(body, s.maxBytes+1), contentType)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageWrite, "", err)
	}
	if size > s.maxBytes {
		_ = s.store.Delete(ctx, key)
		return nil, s.sizeError(payload.Name)
	}

	asset := database.Asset{
		UserID:       req.ActorID,
		PatientID:    tg.patient.ID,
		UHID:         uhid,
		TagID:        &tg.tag.ID,
		FilePath:     key,
		FolderPath:   folder,
		OriginalName: payload.Name,
		FileSize:     size,
		FileType:     contentType,
		Timestamp:    time.Now(),
	}
	if tg.profile.Kind == database.KindCapturedImage {
		asset.Latitude = req.Latitude
		asset.Longitude = req.Longitude
	}

	model := database.NewAssetModel(tg.profile.Kind, asset)
	if err := s.db.Create(model).Error; err != nil {
		_ = s.store.Delete(ctx, key)
		return nil, apperrors.Wrap(apperrors.ErrDatabaseInsert, "", err)
	}
	saved := database.AssetOf(model)

	logger.WithFields(map[string]interface{}{
		"uhid": uhid, "kind": tg.profile.Kind, "id": saved.ID, "actor": req.ActorID, "size": size,
	}).Info("文件已入库")

	stored := &Stored{Kind: tg.profile.Kind, Asset: saved}
	if tg.profile.Kind.IsImage() && s.deriver != nil {
		doc, err := s.deriver.Derive(ctx, tg.profile.Kind, saved.ID)
		if err != nil {
			logger.WithField("id", saved.ID).Errorf("PDF摘要生成失败: %v", err)
		}
		stored.Derived = doc
	}
	return stored, nil
}

func (s *ingestService) sizeError(name string) error {
	return apperrors.Newf(apperrors.ErrFileSizeTooLarge, "\"%s\" exceeds the %dMB limit!", name, s.maxBytes/(1024*1024))
}

// resolveContentType 规范化声明的MIME类型，未声明时读取文件头识别
// 返回的Reader包含已读取的文件头
func resolveContentType(declared string, r io.Reader) (string, io.Reader, error) {
	declared = strings.ToLower(strings.TrimSpace(strings.SplitN(declared, ";", 2)[0]))
	if declared != "" && declared != "application/octet-stream" {
		return declared, r, nil
	}

	head := make([]byte, 3072)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", nil, err
	}
	head = head[:n]
	detected := strings.SplitN(mimetype.Detect(head).String(), ";", 2)[0]
	return detected, io.MultiReader(bytes.NewReader(head), r), nil
}

// extension 原文件名的扩展名与MIME类型一致时沿用，否则使用该类型的标准扩展名
// 无法识别的类型保留原扩展名
func extension(name, contentType string) string {
	ext := strings.ToLower(path.Ext(name))
	m := mimetype.Lookup(contentType)
	if m == nil {
		return strings.TrimPrefix(ext, ".")
	}
	if ext != "" && (ext == m.Extension() || m.Is(strings.SplitN(mime.TypeByExtension(ext), ";", 2)[0])) {
		return ext[1:]
	}
	return strings.TrimPrefix(m.Extension(), ".")
}

// decodeDataURL 解析 data:<mime>;base64,<data>
func decodeDataURL(dataURL string) (string, []byte, error) {
	header, encoded, ok := strings.Cut(strings.TrimSpace(dataURL), ";base64,")
	if !ok || !strings.HasPrefix(header, "data:") {
		return "", nil, apperrors.New(apperrors.ErrNoFileUploaded, "")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, apperrors.New(apperrors.ErrFileReadFailed, fmt.Sprintf("Image data could not be decoded: %v", err))
	}
	if len(data) == 0 {
		return "", nil, apperrors.New(apperrors.ErrNoFileUploaded, "")
	}
	return strings.TrimPrefix(header, "data:"), data, nil
}

// userMessage 批量结果中展示的错误信息，内部错误不暴露细节
func userMessage(err error) string {
	appErr, ok := apperrors.GetAppError(err)
	if !ok || apperrors.HTTPStatus(appErr.Code) >= 500 {
		logger.Errorf("批量上传单个文件失败: %v", err)
		return apperrors.GetErrorMessage(apperrors.ErrInternalServer)
	}
	return appErr.Message
}
