// Package derive 根据保留标签为病人图片生成单页PDF摘要
package derive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/service/storage"
	"gorm.io/gorm"
)

// 摘要类型
const (
	SummaryNone = iota
	SummaryAdmission
	SummaryDischarge
)

// DeriveService PDF摘要生成服务接口
type DeriveService interface {
	// SummaryKind 判断标签是否为保留标签
	// 返回:
	//   int - SummaryNone / SummaryAdmission / SummaryDischarge
	SummaryKind(tag *database.Tag) int

	// Derive 为图片生成PDF摘要
	// 来源不是图片或标签不是保留标签时返回(nil, nil)
	// 参数:
	//   ctx - 上下文
	//   kind - 来源图片类型
	//   id - 来源图片ID
	// 返回:
	//   *database.DerivedDocument - 新建的派生文档
	//   error - 错误信息
	Derive(ctx context.Context, kind database.AssetKind, id uint) (*database.DerivedDocument, error)

	// Render 渲染摘要页，image为nil或无法解码时仍输出不含图片的页面
	Render(summary int, patient *database.Patient, image []byte) ([]byte, error)
}

type deriveService struct {
	db       *gorm.DB
	store    storage.Store
	cfg      config.DerivationConfig
	location *time.Location
}

// NewDeriveService 创建PDF摘要服务
func NewDeriveService(db *gorm.DB, store storage.Store, cfg config.DerivationConfig) DeriveService {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		if cfg.Timezone != "" {
			logger.Warnf("无效的时区 '%s'，使用UTC", cfg.Timezone)
		}
		loc = time.UTC
	}
	if cfg.HospitalName == "" {
		cfg.HospitalName = "HIMALAYAN HOSPITAL"
	}
	return &deriveService{db: db, store: store, cfg: cfg, location: loc}
}

func (s *deriveService) SummaryKind(tag *database.Tag) int {
	if tag == nil {
		return SummaryNone
	}
	switch tag.Value {
	case s.cfg.AdmissionTag:
		return SummaryAdmission
	case s.cfg.DischargeTag:
		return SummaryDischarge
	}
	return SummaryNone
}

func (s *deriveService) Derive(ctx context.Context, kind database.AssetKind, id uint) (*database.DerivedDocument, error) {
	if !kind.IsImage() {
		return nil, nil
	}
	src, err := database.FindAsset(s.db, kind, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrNotFound, "Image not found.")
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	if src.TagID == nil {
		return nil, nil
	}

	var tag database.Tag
	if err := s.db.First(&tag, *src.TagID).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	summary := s.SummaryKind(&tag)
	if summary == SummaryNone {
		return nil, nil
	}

	var patient database.Patient
	if err := s.db.First(&patient, src.PatientID).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}

	image := s.readImage(ctx, src.FilePath)
	pdfBytes, err := s.Render(summary, &patient, image)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	folder := storage.PatientFolder(patient.UHID, storage.CategoryPatientPDF)
	name, err := s.documentName(ctx, folder, patient.UHID, tag.Name)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageRead, "", err)
	}
	key := path.Join(folder, name)
	size, err := s.store.Put(ctx, key, bytes.NewReader(pdfBytes), "application/pdf")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageWrite, "", err)
	}

	doc := &database.DerivedDocument{
		Asset: database.Asset{
			UserID:       src.UserID,
			PatientID:    patient.ID,
			UHID:         patient.UHID,
			TagID:        src.TagID,
			FilePath:     key,
			FolderPath:   folder,
			OriginalName: name,
			FileSize:     size,
			FileType:     "application/pdf",
			Timestamp:    time.Now(),
		},
		SourceKind: kind,
		SourceID:   src.ID,
	}
	if err := s.db.Create(doc).Error; err != nil {
		_ = s.store.Delete(ctx, key)
		return nil, apperrors.Wrap(apperrors.ErrDatabaseInsert, "", err)
	}

	logger.WithFields(map[string]interface{}{
		"uhid": patient.UHID, "kind": kind, "id": src.ID, "document": doc.ID,
	}).Info("PDF摘要已生成")
	return doc, nil
}

// readImage 读取来源图片，失败时返回nil，摘要页仍然生成
func (s *deriveService) readImage(ctx context.Context, key string) []byte {
	rc, err := s.store.Open(ctx, key)
	if err != nil {
		logger.Errorf("PDF摘要读取图片失败: %s, 错误: %v", key, err)
		return nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		logger.Errorf("PDF摘要读取图片失败: %s, 错误: %v", key, err)
		return nil
	}
	return data
}

// documentName IP_<uhid>_<标签名>.pdf
// 对象已存在，或有派生文档记录（含已删除、恢复时会移回此目录的）占用该名称时追加随机后缀
func (s *deriveService) documentName(ctx context.Context, folder string, uhid int32, tagName string) (string, error) {
	base := storage.SanitizeFileName(fmt.Sprintf("IP_%d_%s", uhid, strings.ReplaceAll(tagName, " ", "_")))
	name := base + ".pdf"
	for i := 0; i < maxNameAttempts; i++ {
		taken, err := s.nameTaken(ctx, folder, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		name = fmt.Sprintf("%s_%s.pdf", base, strings.ReplaceAll(uuid.New().String(), "-", "")[:7])
	}
	return "", fmt.Errorf("no free document name in %s", folder)
}

const maxNameAttempts = 10

func (s *deriveService) nameTaken(ctx context.Context, folder, name string) (bool, error) {
	key := path.Join(folder, name)
	exists, err := s.store.Exists(ctx, key)
	if err != nil || exists {
		return exists, err
	}
	var held int64
	err = s.db.Model(&database.DerivedDocument{}).
		Where("file_path = ? OR (folder_path = ? AND (original_name = ? OR file_path LIKE ?))",
			key, folder, name, "%/"+name).
		Count(&held).Error
	return held > 0, err
}

const (
	pageMargin = 15.0
	lineHeight = 9.0
)

func (s *deriveService) Render(summary int, patient *database.Patient, image []byte) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	y := pageMargin + 10

	drawLine := func(label, value string) {
		pdf.SetXY(pageMargin, y)
		pdf.SetFont("Helvetica", "B", 14)
		labelText := label + ":"
		pdf.CellFormat(pdf.GetStringWidth(labelText)+3, lineHeight, labelText, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 14)
		pdf.CellFormat(0, lineHeight, value, "", 0, "L", false, 0, "")
		y += lineHeight
	}

	drawLine("HOSPITAL NAME", s.cfg.HospitalName)
	drawLine("PATIENT NAME", patient.PatientName)
	switch summary {
	case SummaryAdmission:
		drawLine("MOBILE NUMBER", orNA(patient.MobileNo))
		drawLine("DATE OF ADMISSION", s.formatTime(patient.DateOfAdmission))
	case SummaryDischarge:
		drawLine("DATE OF ADMISSION", s.formatTime(patient.DateOfAdmission))
		drawLine("DATE OF DISCHARGE", s.formatTime(patient.DateOfDischarge))
	}

	if len(image) > 0 {
		s.drawImage(pdf, image, pageMargin, y+5, pageW-2*pageMargin, pageH-y-5-pageMargin)
	}

	if err := pdf.Error(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawImage 在给定区域内等比缩放并水平居中绘制图片
func (s *deriveService) drawImage(pdf *fpdf.Fpdf, image []byte, x, y, areaW, areaH float64) {
	imageType := fpdfImageType(mimetype.Detect(image).String())
	if imageType == "" {
		logger.Errorf("PDF摘要图片格式不支持: %s", mimetype.Detect(image).String())
		return
	}

	opts := fpdf.ImageOptions{ImageType: imageType}
	info := pdf.RegisterImageOptionsReader("source", opts, bytes.NewReader(image))
	if pdf.Err() || info == nil {
		logger.Errorf("PDF摘要绘制图片失败: %v", pdf.Error())
		pdf.ClearError()
		return
	}

	w, h := info.Width(), info.Height()
	if w <= 0 || h <= 0 || areaW <= 0 || areaH <= 0 {
		return
	}
	scale := areaW / w
	if areaH/h < scale {
		scale = areaH / h
	}
	drawW, drawH := w*scale, h*scale
	pdf.ImageOptions("source", x+(areaW-drawW)/2, y, drawW, drawH, false, opts, 0, "")
}

func (s *deriveService) formatTime(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.In(s.location).Format("02-01-2006 15:04") + " hr."
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return "N/A"
	}
	return v
}

func fpdfImageType(mime string) string {
	switch mime {
	case "image/jpeg":
		return "JPG"
	case "image/png":
		return "PNG"
	case "image/gif":
		return "GIF"
	}
	return ""
}
