// Package database 提供数据库迁移和初始化功能
package database

import (
	"errors"
	"strings"
	"unicode"

	"github.com/weiwangfds/medcap/internal/logger"
	"gorm.io/gorm"
)

// createIndexes 创建业务查询所需的复合索引
// 用途: 优化按UHID浏览、删除列表和未完成问题计数
func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// 按UHID浏览未删除资产，按时间倒序
		"CREATE INDEX IF NOT EXISTS idx_captured_images_uhid_ts ON captured_images(uhid, timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_uploaded_images_uhid_ts ON uploaded_images(uhid, timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_uploaded_files_uhid_ts ON uploaded_files(uhid, timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_derived_documents_uhid_ts ON derived_documents(uhid, timestamp DESC)",

		// 删除人查看自己删除的内容
		"CREATE INDEX IF NOT EXISTS idx_captured_images_deleted_by ON captured_images(deleted_by_id, deleted_on DESC)",
		"CREATE INDEX IF NOT EXISTS idx_uploaded_images_deleted_by ON uploaded_images(deleted_by_id, deleted_on DESC)",
		"CREATE INDEX IF NOT EXISTS idx_uploaded_files_deleted_by ON uploaded_files(deleted_by_id, deleted_on DESC)",

		// 未完成问题计数
		"CREATE INDEX IF NOT EXISTS idx_issue_reports_user_status ON issue_reports(user_id, status, is_deleted)",
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			logger.Errorf("创建索引失败: %s, 错误: %v", indexSQL, err)
			return err
		}
	}
	return nil
}

// SeedReservedTags 确保两个触发PDF摘要的保留标签存在
// 参数:
//   - db: 数据库连接
//   - names: 标签名称到缩写的映射，标签value由名称推导
func SeedReservedTags(db *gorm.DB, names map[string]string) error {
	for name, abbreviation := range names {
		var existing Tag
		err := db.Where("value = ?", SanitizeTagValue(name)).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		tag := &Tag{Name: name, Abbreviation: abbreviation, Type: TagTypeUniversal}
		if err := db.Create(tag).Error; err != nil {
			return err
		}
		logger.Infof("已创建保留标签: %s (%s)", tag.Name, tag.Value)
	}
	return nil
}

// SeedLookups 初始化科室/职称/病区字典，已存在的名称跳过
func SeedLookups(db *gorm.DB, kind string, names []string) error {
	for _, name := range names {
		item := Lookup{Kind: kind, Name: name, IsActive: true}
		if err := db.Where(Lookup{Kind: kind, Name: name}).FirstOrCreate(&item).Error; err != nil {
			return err
		}
	}
	return nil
}

// ReservedTags 由配置的保留标签value推导种子标签的名称和缩写
// 例如 AdmissionSummary -> "Admission Summary" / "AS"
func ReservedTags(values ...string) map[string]string {
	tags := make(map[string]string, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		var name, abbreviation strings.Builder
		for i, r := range value {
			if unicode.IsUpper(r) {
				if i > 0 {
					name.WriteRune(' ')
				}
				abbreviation.WriteRune(r)
			}
			name.WriteRune(r)
		}
		abbr := abbreviation.String()
		if abbr == "" {
			abbr = strings.ToUpper(value[:1])
		}
		tags[name.String()] = abbr
	}
	return tags
}
