// Package tag 提供标签管理相关的业务逻辑服务
// 标签决定文件存储目录的命名，两个保留标签会触发PDF摘要生成
package tag

import (
	"errors"
	"strings"

	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/logger"
	"gorm.io/gorm"
)

// TagService 标签服务接口
// 定义了标签管理的所有业务操作方法
type TagService interface {
	// CreateTag 创建新标签
	// 参数:
	//   req - 创建标签请求
	// 返回:
	//   *database.Tag - 创建的标签对象
	//   error - 名称、缩写或净化值重复时返回冲突错误
	CreateTag(req *CreateTagRequest) (*database.Tag, error)

	// GetTagByID 根据ID获取标签（包含已停用的标签）
	GetTagByID(id uint) (*database.Tag, error)

	// ResolveActive 解析上传时选择的标签
	// 参数:
	//   id - 标签ID，为0表示未选择
	// 返回:
	//   *database.Tag - 标签对象
	//   error - 未选择返回ErrTagRequired，不存在或已停用返回ErrInvalidTag
	ResolveActive(id uint) (*database.Tag, error)

	// UpdateTag 更新标签名称、缩写或类型，value随名称重新计算
	UpdateTag(id uint, req *UpdateTagRequest) (*database.Tag, error)

	// ListTags 获取标签列表
	// 参数:
	//   tagType - 类型过滤，为空不过滤
	//   includeDeleted - 是否包含已停用标签
	// 返回:
	//   []database.Tag - 按名称排序的标签列表
	//   error - 错误信息
	ListTags(tagType string, includeDeleted bool) ([]database.Tag, error)

	// Deactivate 停用标签
	Deactivate(id uint) error

	// Restore 恢复已停用的标签
	Restore(id uint) error
}

// CreateTagRequest 创建标签请求
type CreateTagRequest struct {
	Name         string `json:"name" binding:"required,max=255"`                                  // 标签名称
	Abbreviation string `json:"abbreviation" binding:"required,max=50"`                           // 缩写
	Type         string `json:"type" binding:"omitempty,oneof=Universal Geo-Pic 'File Only'"` // 标签类型
}

// UpdateTagRequest 更新标签请求
type UpdateTagRequest struct {
	Name         *string `json:"name" binding:"omitempty,max=255"`
	Abbreviation *string `json:"abbreviation" binding:"omitempty,max=50"`
	Type         *string `json:"type" binding:"omitempty,oneof=Universal Geo-Pic 'File Only'"`
}

// tagService 标签服务实现
type tagService struct {
	db *gorm.DB
}

// NewTagService 创建标签服务实例
// 参数:
//   db - 数据库连接
// 返回:
//   TagService - 标签服务接口实例
func NewTagService(db *gorm.DB) TagService {
	return &tagService{
		db: db,
	}
}

// CreateTag 创建新标签
func (s *tagService) CreateTag(req *CreateTagRequest) (*database.Tag, error) {
	tag := &database.Tag{
		Name:         strings.TrimSpace(req.Name),
		Abbreviation: strings.TrimSpace(req.Abbreviation),
		Type:         req.Type,
	}
	if database.SanitizeTagValue(tag.Name) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "Tag name must contain letters or digits.")
	}

	if err := s.checkUnique(tag, 0); err != nil {
		return nil, err
	}

	if err := s.db.Create(tag).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseInsert, "", err)
	}

	logger.WithFields(map[string]interface{}{"tag": tag.Name, "value": tag.Value}).Info("标签已创建")
	return tag, nil
}

// checkUnique 检查名称、缩写和净化值是否与其他标签冲突
func (s *tagService) checkUnique(tag *database.Tag, exceptID uint) error {
	value := database.SanitizeTagValue(tag.Name)

	var existing database.Tag
	err := s.db.Where("(name = ? OR abbreviation = ? OR value = ?) AND id <> ?",
		tag.Name, tag.Abbreviation, value, exceptID).First(&existing).Error
	if err == nil {
		switch {
		case existing.Name == tag.Name:
			return apperrors.Newf(apperrors.ErrConflict, "Tag name '%s' already exists.", tag.Name)
		case existing.Abbreviation == tag.Abbreviation:
			return apperrors.Newf(apperrors.ErrConflict, "Abbreviation '%s' already exists.", tag.Abbreviation)
		default:
			return apperrors.Newf(apperrors.ErrConflict, "Tag '%s' conflicts with existing tag '%s'.", tag.Name, existing.Name)
		}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return nil
}

// GetTagByID 根据ID获取标签
func (s *tagService) GetTagByID(id uint) (*database.Tag, error) {
	var tag database.Tag
	if err := s.db.First(&tag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrNotFound, "Tag not found.")
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return &tag, nil
}

// ResolveActive 解析上传时选择的标签
func (s *tagService) ResolveActive(id uint) (*database.Tag, error) {
	if id == 0 {
		return nil, apperrors.New(apperrors.ErrTagRequired, "")
	}
	var tag database.Tag
	if err := s.db.Where("id = ? AND is_deleted = ?", id, false).First(&tag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrInvalidTag, "")
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return &tag, nil
}

// UpdateTag 更新标签信息
func (s *tagService) UpdateTag(id uint, req *UpdateTagRequest) (*database.Tag, error) {
	tag, err := s.GetTagByID(id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		tag.Name = strings.TrimSpace(*req.Name)
	}
	if req.Abbreviation != nil {
		tag.Abbreviation = strings.TrimSpace(*req.Abbreviation)
	}
	if req.Type != nil {
		tag.Type = *req.Type
	}
	if database.SanitizeTagValue(tag.Name) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "Tag name must contain letters or digits.")
	}

	if err := s.checkUnique(tag, tag.ID); err != nil {
		return nil, err
	}

	if err := s.db.Save(tag).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}
	return tag, nil
}

// ListTags 获取标签列表
func (s *tagService) ListTags(tagType string, includeDeleted bool) ([]database.Tag, error) {
	query := s.db.Model(&database.Tag{})
	if !includeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	if tagType != "" {
		query = query.Where("type = ?", tagType)
	}

	var tags []database.Tag
	if err := query.Order("name ASC").Find(&tags).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return tags, nil
}

// Deactivate 停用标签
func (s *tagService) Deactivate(id uint) error {
	return s.setDeleted(id, true)
}

// Restore 恢复标签
func (s *tagService) Restore(id uint) error {
	return s.setDeleted(id, false)
}

func (s *tagService) setDeleted(id uint, deleted bool) error {
	result := s.db.Model(&database.Tag{}).Where("id = ?", id).Update("is_deleted", deleted)
	if result.Error != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.ErrNotFound, "Tag not found.")
	}
	logger.Infof("标签状态已更新: id=%d, is_deleted=%v", id, deleted)
	return nil
}
