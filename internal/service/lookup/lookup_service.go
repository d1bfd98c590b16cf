// Package lookup 管理科室、职称和病区字典
package lookup

import (
	"errors"
	"strings"

	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"gorm.io/gorm"
)

// LookupService 字典服务接口
type LookupService interface {
	// List 列出指定类型的字典项，activeOnly为true时只返回启用项
	List(kind string, activeOnly bool) ([]database.Lookup, error)

	// Create 新建字典项，同类型下名称不区分大小写唯一
	Create(actorID uint, kind string, req *CreateLookupRequest) (*database.Lookup, error)

	// Deactivate 停用字典项
	Deactivate(kind string, id uint) error

	// Restore 恢复字典项
	Restore(kind string, id uint) error

	// FindByName 按名称查找启用的字典项，不区分大小写
	// 返回:
	//   *database.Lookup - 找不到时为nil
	//   error - 数据库错误
	FindByName(kind, name string) (*database.Lookup, error)
}

// CreateLookupRequest 新建字典项请求
type CreateLookupRequest struct {
	Name         string `json:"name" binding:"required,max=255"`
	Abbreviation string `json:"abbreviation" binding:"max=50"`
}

type lookupService struct {
	db *gorm.DB
}

// NewLookupService 创建字典服务
func NewLookupService(db *gorm.DB) LookupService {
	return &lookupService{db: db}
}

// ValidKind 判断字典类型是否支持
func ValidKind(kind string) bool {
	switch kind {
	case database.LookupDepartment, database.LookupDesignation, database.LookupWard:
		return true
	}
	return false
}

func (s *lookupService) List(kind string, activeOnly bool) ([]database.Lookup, error) {
	if !ValidKind(kind) {
		return nil, apperrors.Newf(apperrors.ErrInvalidParams, "Unknown lookup type '%s'.", kind)
	}
	query := s.db.Where("kind = ?", kind)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var items []database.Lookup
	if err := query.Order("name ASC").Find(&items).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return items, nil
}

func (s *lookupService) Create(actorID uint, kind string, req *CreateLookupRequest) (*database.Lookup, error) {
	if !ValidKind(kind) {
		return nil, apperrors.Newf(apperrors.ErrInvalidParams, "Unknown lookup type '%s'.", kind)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "Name is required.")
	}

	existing, err := s.findByName(kind, name, false)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Newf(apperrors.ErrConflict, "'%s' already exists.", name)
	}

	item := &database.Lookup{
		Kind:         kind,
		Name:         name,
		Abbreviation: strings.TrimSpace(req.Abbreviation),
		IsActive:     true,
	}
	if actorID != 0 {
		item.CreatedByID = &actorID
	}
	if err := s.db.Create(item).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseInsert, "", err)
	}
	return item, nil
}

func (s *lookupService) Deactivate(kind string, id uint) error {
	return s.setActive(kind, id, false)
}

func (s *lookupService) Restore(kind string, id uint) error {
	return s.setActive(kind, id, true)
}

func (s *lookupService) setActive(kind string, id uint, active bool) error {
	result := s.db.Model(&database.Lookup{}).
		Where("id = ? AND kind = ?", id, kind).
		Update("is_active", active)
	if result.Error != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.ErrNotFound, "")
	}
	return nil
}

func (s *lookupService) FindByName(kind, name string) (*database.Lookup, error) {
	return s.findByName(kind, strings.TrimSpace(name), true)
}

func (s *lookupService) findByName(kind, name string, activeOnly bool) (*database.Lookup, error) {
	query := s.db.Where("kind = ? AND LOWER(name) = ?", kind, strings.ToLower(name))
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var item database.Lookup
	if err := query.First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return &item, nil
}
