package patient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
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

func TestParseUHID(t *testing.T) {
	n, err := ParseUHID(" 251678 ")
	require.NoError(t, err)
	assert.Equal(t, int32(251678), n)

	for _, bad := range []string{"", "abc", "12.5", "2147483648", "-2147483649"} {
		_, err := ParseUHID(bad)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidUHID), bad)
	}
}

func TestRegister(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPatientService(db, config.DerivationConfig{DischargeTag: "DischargeSummary"})

	p, created, err := svc.Register(1, &RegisterRequest{UHID: "1001", PatientName: "Asha", MobileNo: "98765"})
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, p.CreatedByID)

	t.Run("重复登记更新已有记录", func(t *testing.T) {
		discharged := time.Now()
		p2, created, err := svc.Register(2, &RegisterRequest{UHID: "1001", PatientName: "Asha K", DateOfDischarge: &discharged})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, p.ID, p2.ID)
		assert.Equal(t, "Asha K", p2.PatientName)

		var count int64
		db.Model(&database.Patient{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("非法UHID", func(t *testing.T) {
		_, _, err := svc.Register(1, &RegisterRequest{UHID: "x1", PatientName: "B"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidUHID))
	})

	t.Run("未登记", func(t *testing.T) {
		_, err := svc.GetByUHID(42)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrPatientNotFound))
	})
}

func TestOptions(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPatientService(db, config.DerivationConfig{})
	p, _, err := svc.Register(1, &RegisterRequest{UHID: "7", PatientName: "Ravi"})
	require.NoError(t, err)

	now := time.Now()
	actor := uint(5)
	asset := func(deleted bool) database.Asset {
		a := database.Asset{UserID: 1, PatientID: p.ID, UHID: 7, FilePath: "k", FolderPath: "f", Timestamp: now, IsDeleted: deleted}
		if deleted {
			a.DeletedByID = &actor
			a.DeletedOn = &now
		}
		return a
	}
	require.NoError(t, db.Create(&database.CapturedImage{Asset: asset(false)}).Error)
	require.NoError(t, db.Create(&database.UploadedImage{Asset: asset(false)}).Error)
	require.NoError(t, db.Create(&database.UploadedFile{Asset: asset(true)}).Error)
	require.NoError(t, db.Create(&database.DerivedDocument{Asset: asset(false), SourceKind: database.KindCapturedImage, SourceID: 1}).Error)

	opts, err := svc.Options(actor, 7)
	require.NoError(t, err)
	assert.True(t, opts.Registered)
	assert.Equal(t, int64(2), opts.ImageCount)
	assert.Equal(t, int64(0), opts.FileCount)
	assert.Equal(t, int64(1), opts.OtherFiles)
	assert.Equal(t, int64(1), opts.DeletedFiles)

	other, err := svc.Options(99, 7)
	require.NoError(t, err)
	assert.Zero(t, other.DeletedFiles)

	empty, err := svc.Options(actor, 8)
	require.NoError(t, err)
	assert.False(t, empty.Registered)
}

func TestCheckDischargeStatus(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPatientService(db, config.DerivationConfig{DischargeTag: "DischargeSummary"})
	_, _, err := svc.Register(1, &RegisterRequest{UHID: "11", PatientName: "Meera"})
	require.NoError(t, err)

	discharge := database.Tag{Name: "Discharge Summary", Abbreviation: "DS"}
	other := database.Tag{Name: "Wound", Abbreviation: "WD"}
	require.NoError(t, db.Create(&discharge).Error)
	require.NoError(t, db.Create(&other).Error)

	st, err := svc.CheckDischargeStatus(11, other.ID)
	require.NoError(t, err)
	assert.True(t, st.Allowed)

	st, err = svc.CheckDischargeStatus(11, discharge.ID)
	require.NoError(t, err)
	assert.False(t, st.Allowed)
	assert.Equal(t, "discharge_required", st.Reason)

	now := time.Now()
	_, _, err = svc.Register(1, &RegisterRequest{UHID: "11", PatientName: "Meera", DateOfDischarge: &now})
	require.NoError(t, err)
	st, err = svc.CheckDischargeStatus(11, discharge.ID)
	require.NoError(t, err)
	assert.True(t, st.Allowed)
}
