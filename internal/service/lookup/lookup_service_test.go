package lookup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestLookupService(t *testing.T) {
	svc := NewLookupService(setupTestDB(t))

	cardio, err := svc.Create(1, database.LookupDepartment, &CreateLookupRequest{Name: "Cardiology", Abbreviation: "CARD"})
	require.NoError(t, err)
	assert.True(t, cardio.IsActive)

	t.Run("同类型名称重复", func(t *testing.T) {
		_, err := svc.Create(1, database.LookupDepartment, &CreateLookupRequest{Name: "cardiology"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrConflict))
	})

	t.Run("不同类型可以同名", func(t *testing.T) {
		_, err := svc.Create(1, database.LookupWard, &CreateLookupRequest{Name: "Cardiology"})
		assert.NoError(t, err)
	})

	t.Run("未知类型", func(t *testing.T) {
		_, err := svc.List("floor", true)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidParams))
	})

	t.Run("按名称查找不区分大小写", func(t *testing.T) {
		found, err := svc.FindByName(database.LookupDepartment, "  CARDIOLOGY ")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, cardio.ID, found.ID)
	})

	t.Run("停用后不可查找", func(t *testing.T) {
		require.NoError(t, svc.Deactivate(database.LookupDepartment, cardio.ID))
		found, err := svc.FindByName(database.LookupDepartment, "Cardiology")
		require.NoError(t, err)
		assert.Nil(t, found)

		active, err := svc.List(database.LookupDepartment, true)
		require.NoError(t, err)
		assert.Empty(t, active)
		all, err := svc.List(database.LookupDepartment, false)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		require.NoError(t, svc.Restore(database.LookupDepartment, cardio.ID))
		assert.True(t, apperrors.HasCode(svc.Restore(database.LookupWard, cardio.ID), apperrors.ErrNotFound))
	})
}
