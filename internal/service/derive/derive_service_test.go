package derive

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	"github.com/weiwangfds/medcap/internal/service/storage"
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

func testPNG(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		for y := 0; y < 20; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var testCfg = config.DerivationConfig{
	HospitalName: "TEST HOSPITAL",
	AdmissionTag: "AdmissionSummary",
	DischargeTag: "DischargeSummary",
	Timezone:     "Asia/Kolkata",
}

type fixture struct {
	db      *gorm.DB
	store   storage.Store
	svc     DeriveService
	patient database.Patient
}

func setup(t *testing.T) *fixture {
	db := setupTestDB(t)
	store, err := storage.NewLocalStore(t.TempDir(), "/media")
	require.NoError(t, err)

	admitted := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	patient := database.Patient{UHID: 251678, PatientName: "Asha", MobileNo: "98765", DateOfAdmission: &admitted}
	require.NoError(t, db.Create(&patient).Error)

	return &fixture{db: db, store: store, svc: NewDeriveService(db, store, testCfg), patient: patient}
}

func (f *fixture) image(t *testing.T, tagName string, data []byte) *database.CapturedImage {
	tag := database.Tag{Name: tagName, Abbreviation: tagName[:3]}
	require.NoError(t, f.db.Where(database.Tag{Name: tagName}).FirstOrCreate(&tag).Error)

	key := storage.PatientFolder(f.patient.UHID, storage.CategoryCapturedImages) + "/" + storage.GeneratedName(f.patient.UHID, tag.Value, "png")
	_, err := f.store.Put(context.Background(), key, bytes.NewReader(data), "image/png")
	require.NoError(t, err)

	img := &database.CapturedImage{Asset: database.Asset{
		UserID: 1, PatientID: f.patient.ID, UHID: f.patient.UHID, TagID: &tag.ID,
		FilePath: key, FolderPath: storage.PatientFolder(f.patient.UHID, storage.CategoryCapturedImages),
		FileType: "image/png", Timestamp: time.Now(),
	}}
	require.NoError(t, f.db.Create(img).Error)
	return img
}

func TestRender(t *testing.T) {
	svc := NewDeriveService(nil, nil, testCfg)
	patient := &database.Patient{PatientName: "Asha"}

	t.Run("含图片", func(t *testing.T) {
		out, err := svc.Render(SummaryAdmission, patient, testPNG(t))
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	})

	t.Run("图片损坏时仍生成页面", func(t *testing.T) {
		out, err := svc.Render(SummaryDischarge, patient, []byte("\x89PNG\r\n\x1a\nbroken"))
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	})

	t.Run("无图片", func(t *testing.T) {
		out, err := svc.Render(SummaryDischarge, patient, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, out)
	})
}

func TestSummaryKind(t *testing.T) {
	svc := NewDeriveService(nil, nil, testCfg)
	assert.Equal(t, SummaryAdmission, svc.SummaryKind(&database.Tag{Value: "AdmissionSummary"}))
	assert.Equal(t, SummaryDischarge, svc.SummaryKind(&database.Tag{Value: "DischargeSummary"}))
	assert.Equal(t, SummaryNone, svc.SummaryKind(&database.Tag{Value: "Wound"}))
	assert.Equal(t, SummaryNone, svc.SummaryKind(nil))
}

func TestDerive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("保留标签生成摘要", func(t *testing.T) {
		img := f.image(t, "Admission Summary", testPNG(t))
		doc, err := f.svc.Derive(ctx, database.KindCapturedImage, img.ID)
		require.NoError(t, err)
		require.NotNil(t, doc)

		assert.Equal(t, database.KindCapturedImage, doc.SourceKind)
		assert.Equal(t, img.ID, doc.SourceID)
		assert.Equal(t, "PATIENT_251678/PATIENT_251678_patient_pdf/IP_251678_Admission_Summary.pdf", doc.FilePath)
		assert.Positive(t, doc.FileSize)

		again, err := f.svc.Derive(ctx, database.KindCapturedImage, img.ID)
		require.NoError(t, err)
		assert.NotEqual(t, doc.FilePath, again.FilePath, "existing name gets a suffix")
	})

	t.Run("图片文件缺失时仍生成", func(t *testing.T) {
		img := f.image(t, "Discharge Summary", testPNG(t))
		require.NoError(t, f.store.Delete(ctx, img.FilePath))
		doc, err := f.svc.Derive(ctx, database.KindCapturedImage, img.ID)
		require.NoError(t, err)
		require.NotNil(t, doc)
	})

	t.Run("普通标签不生成", func(t *testing.T) {
		img := f.image(t, "Wound Photo", testPNG(t))
		doc, err := f.svc.Derive(ctx, database.KindCapturedImage, img.ID)
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("已移走的旧文档仍占用名称", func(t *testing.T) {
		img := f.image(t, "Discharge Summary", testPNG(t))
		first, err := f.svc.Derive(ctx, database.KindCapturedImage, img.ID)
		require.NoError(t, err)

		// 模拟删除时文件被移到删除目录
		moved := path.Join(storage.PatientFolder(f.patient.UHID, storage.CategoryDeleted), path.Base(first.FilePath))
		require.NoError(t, f.store.Move(ctx, first.FilePath, moved))
		require.NoError(t, f.db.Model(first).Update("file_path", moved).Error)

		second, err := f.svc.Derive(ctx, database.KindCapturedImage, img.ID)
		require.NoError(t, err)
		assert.NotEqual(t, path.Base(first.FilePath), path.Base(second.FilePath))
	})
}
