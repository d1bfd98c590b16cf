package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/service/derive"
	"github.com/weiwangfds/medcap/internal/service/patient"
	"github.com/weiwangfds/medcap/internal/service/storage"
	"github.com/weiwangfds/medcap/internal/service/tag"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

type fixture struct {
	db        *gorm.DB
	store     storage.Store
	svc       IngestService
	wound     *database.Tag
	admission *database.Tag
}

func setup(t *testing.T, maxMB int64) *fixture {
	db := setupTestDB(t)
	store, err := storage.NewLocalStore(t.TempDir(), "/media")
	require.NoError(t, err)

	derivation := config.DerivationConfig{AdmissionTag: "AdmissionSummary", DischargeTag: "DischargeSummary", Timezone: "UTC"}
	tags := tag.NewTagService(db)
	patients := patient.NewPatientService(db, derivation)
	deriver := derive.NewDeriveService(db, store, derivation)

	wound, err := tags.CreateTag(&tag.CreateTagRequest{Name: "Wound Care", Abbreviation: "WC"})
	require.NoError(t, err)
	admission, err := tags.CreateTag(&tag.CreateTagRequest{Name: "Admission Summary", Abbreviation: "AS"})
	require.NoError(t, err)
	_, _, err = patients.Register(1, &patient.RegisterRequest{UHID: "251678", PatientName: "Asha", MobileNo: "98765"})
	require.NoError(t, err)

	svc := NewIngestService(db, store, tags, patients, deriver, config.StorageConfig{MaxUploadMB: maxMB})
	return &fixture{db: db, store: store, svc: svc, wound: wound, admission: admission}
}

func payload(name, contentType string, data []byte) Payload {
	return Payload{
		Name:        name,
		Size:        int64(len(data)),
		ContentType: contentType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func pngBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func count(t *testing.T, db *gorm.DB, kind database.AssetKind) int64 {
	var n int64
	require.NoError(t, db.Table(kind.Table()).Count(&n).Error)
	return n
}

func TestIngest(t *testing.T) {
	f := setup(t, 45)
	ctx := context.Background()
	req := Request{ActorID: 1, UHID: "251678", TagID: 0}

	t.Run("未选择标签", func(t *testing.T) {
		_, err := f.svc.Ingest(ctx, ProfileImage, req, payload("a.png", "image/png", pngBytes(t)))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrTagRequired))
	})

	req.TagID = f.wound.ID

	t.Run("成功入库", func(t *testing.T) {
		data := pngBytes(t)
		stored, err := f.svc.Ingest(ctx, ProfileImage, req, payload("ward.PNG", "image/png", data))
		require.NoError(t, err)
		assert.Equal(t, database.KindUploadedImage, stored.Kind)
		assert.Equal(t, int64(len(data)), stored.Asset.FileSize)
		assert.True(t, strings.HasPrefix(stored.Asset.FilePath,
			"PATIENT_251678/PATIENT_251678_uploaded_gps_images/IP251678WoundCareNO"))
		assert.True(t, strings.HasSuffix(stored.Asset.FilePath, ".png"))
		assert.Nil(t, stored.Derived)

		ok, err := f.store.Exists(ctx, stored.Asset.FilePath)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("非法UHID", func(t *testing.T) {
		bad := req
		bad.UHID = "99999999999"
		_, err := f.svc.Ingest(ctx, ProfileImage, bad, payload("a.png", "image/png", pngBytes(t)))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidUHID))
	})

	t.Run("病人未登记", func(t *testing.T) {
		bad := req
		bad.UHID = "12"
		_, err := f.svc.Ingest(ctx, ProfileImage, bad, payload("a.png", "image/png", pngBytes(t)))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrPatientNotFound))
	})

	t.Run("类型不允许", func(t *testing.T) {
		before := count(t, f.db, database.KindUploadedFile)
		_, err := f.svc.Ingest(ctx, ProfileFile, req, payload("notes.txt", "text/plain", []byte("hello")))
		appErr, ok := apperrors.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrFileTypeNotAllowed, appErr.Code)
		assert.Contains(t, appErr.Message, "notes.txt")
		assert.Equal(t, before, count(t, f.db, database.KindUploadedFile))
	})

	t.Run("声明大小超限", func(t *testing.T) {
		p := payload("huge.pdf", "application/pdf", []byte("%PDF-1.4"))
		p.Size = 46 * 1024 * 1024
		_, err := f.svc.Ingest(ctx, ProfileFile, req, p)
		appErr, ok := apperrors.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrFileSizeTooLarge, appErr.Code)
		assert.Equal(t, `"huge.pdf" exceeds the 45MB limit!`, appErr.Message)
	})

	t.Run("未声明类型时按内容识别", func(t *testing.T) {
		stored, err := f.svc.Ingest(ctx, ProfileFile, req,
			payload("scan", "", []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n")))
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", stored.Asset.FileType)
		assert.True(t, strings.HasSuffix(stored.Asset.FilePath, ".pdf"))
	})

	t.Run("扩展名与内容类型不符时按类型命名", func(t *testing.T) {
		stored, err := f.svc.Ingest(ctx, ProfileFile, req,
			payload("x.exe", "application/pdf", []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")))
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(stored.Asset.FilePath, ".pdf"), stored.Asset.FilePath)
		assert.Equal(t, "x.exe", stored.Asset.OriginalName)
	})

	t.Run("批量入口不能单文件调用", func(t *testing.T) {
		_, err := f.svc.Ingest(ctx, ProfilePDFBatch, req, payload("a.pdf", "application/pdf", []byte("%PDF")))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidParams))
	})
}

func TestIngestStreamingLimit(t *testing.T) {
	f := setup(t, 1)
	ctx := context.Background()
	req := Request{ActorID: 1, UHID: "251678", TagID: f.wound.ID}

	data := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 1024*1024)...)
	p := payload("liar.pdf", "application/pdf", data)
	p.Size = 10

	_, err := f.svc.Ingest(ctx, ProfileFile, req, p)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrFileSizeTooLarge))
	assert.Zero(t, count(t, f.db, database.KindUploadedFile))
}

func TestIngestBatch(t *testing.T) {
	f := setup(t, 45)
	ctx := context.Background()
	req := Request{ActorID: 1, UHID: "251678", TagID: f.wound.ID}

	_, err := f.svc.IngestBatch(ctx, ProfileImageBatch, req, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNoFileUploaded))

	res, err := f.svc.IngestBatch(ctx, ProfileImageBatch, req, []Payload{
		payload("one.png", "image/png", pngBytes(t)),
		payload("two.pdf", "application/pdf", []byte("%PDF")),
		payload("three.jpg", "image/jpg", []byte{0xFF, 0xD8, 0xFF, 0xE0}),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[0].Success)
	assert.NotZero(t, res.Results[0].ID)
	assert.False(t, res.Results[1].Success)
	assert.Contains(t, res.Results[1].Error, "two.pdf")
	assert.True(t, res.Results[2].Success)
	assert.Equal(t, int64(2), count(t, f.db, database.KindUploadedImage))

	all, err := f.svc.IngestBatch(ctx, ProfileImageBatch, req, []Payload{payload("ok.png", "image/png", pngBytes(t))})
	require.NoError(t, err)
	assert.True(t, all.Success)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "png", extension("ward.PNG", "image/png"))
	assert.Equal(t, "jpeg", extension("photo.jpeg", "image/jpeg"))
	assert.Equal(t, "pdf", extension("x.exe", "application/pdf"))
	assert.Equal(t, "pdf", extension("scan", "application/pdf"))
	assert.Equal(t, "jpg", extension("three.jpg", "image/x-unknown"))
}

func TestBatchItemMessage(t *testing.T) {
	t.Run("内部错误使用通用提示", func(t *testing.T) {
		msg := userMessage(errors.New("disk quota exceeded"))
		assert.Equal(t, "Something went wrong. Please try again.", msg)
		assert.Equal(t, "Something went wrong. Please try again.",
			userMessage(apperrors.Wrap(apperrors.ErrStorageWrite, "", errors.New("bucket gone"))))
	})

	t.Run("业务错误原样返回", func(t *testing.T) {
		assert.Equal(t, "bad tag", userMessage(apperrors.New(apperrors.ErrInvalidTag, "bad tag")))
	})
}

func TestCapture(t *testing.T) {
	f := setup(t, 45)
	ctx := context.Background()
	lat, lng := 30.19, 78.16
	req := Request{ActorID: 1, UHID: "251678", TagID: f.admission.ID, Latitude: &lat, Longitude: &lng}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))
	stored, err := f.svc.Capture(ctx, req, dataURL)
	require.NoError(t, err)
	assert.Equal(t, database.KindCapturedImage, stored.Kind)
	require.NotNil(t, stored.Asset.Latitude)
	assert.Equal(t, lat, *stored.Asset.Latitude)

	require.NotNil(t, stored.Derived, "admission summary tag triggers derivation")
	assert.Equal(t, stored.Asset.ID, stored.Derived.SourceID)
	assert.Equal(t, int64(1), count(t, f.db, database.KindDerivedDocument))

	_, err = f.svc.Capture(ctx, req, "not a data url")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNoFileUploaded))

	_, err = f.svc.Capture(ctx, req, "data:image/gif;base64,"+base64.StdEncoding.EncodeToString([]byte("GIF89a")))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrFileTypeNotAllowed))
}
