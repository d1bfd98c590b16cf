package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AssetKind 资产类型，同时作为派生文档多态引用的类型标识
type AssetKind string

// 资产类型常量
const (
	KindCapturedImage   AssetKind = "captured_image"
	KindUploadedImage   AssetKind = "uploaded_image"
	KindUploadedFile    AssetKind = "uploaded_file"
	KindDerivedDocument AssetKind = "derived_document"
)

// Valid 是否为已知类型
func (k AssetKind) Valid() bool {
	switch k {
	case KindCapturedImage, KindUploadedImage, KindUploadedFile, KindDerivedDocument:
		return true
	}
	return false
}

// IsImage 拍摄/上传的图片可作为派生文档的来源
func (k AssetKind) IsImage() bool {
	return k == KindCapturedImage || k == KindUploadedImage
}

// Table 类型对应的数据表
func (k AssetKind) Table() string {
	switch k {
	case KindCapturedImage:
		return CapturedImage{}.TableName()
	case KindUploadedImage:
		return UploadedImage{}.TableName()
	case KindUploadedFile:
		return UploadedFile{}.TableName()
	case KindDerivedDocument:
		return DerivedDocument{}.TableName()
	}
	return ""
}

// Label 导出报表中使用的类型名称
func (k AssetKind) Label() string {
	switch k {
	case KindCapturedImage:
		return "Captured Image"
	case KindUploadedImage:
		return "Uploaded Image"
	case KindUploadedFile:
		return "Uploaded File"
	case KindDerivedDocument:
		return "Patient PDF"
	}
	return string(k)
}

// Noun 提示语中使用的名词
func (k AssetKind) Noun() string {
	switch k {
	case KindCapturedImage, KindUploadedImage:
		return "Image"
	case KindUploadedFile:
		return "File"
	default:
		return "Document"
	}
}

// Asset 影像/文件资产的公共字段
// 拍摄图片、上传图片、上传文件和派生文档共用这组列
type Asset struct {
	ID           uint       `gorm:"primarykey" json:"id"`                         // 主键ID，自增
	UserID       uint       `gorm:"index;not null" json:"user_id"`                // 上传人
	PatientID    uint       `gorm:"index;not null" json:"patient_id"`             // 病人
	UHID         int32      `gorm:"column:uhid;index;not null" json:"uhid"`                 // 冗余保存的住院号，便于按UHID检索
	TagID        *uint      `gorm:"index" json:"tag_id"`                          // 标签
	FilePath     string     `gorm:"not null;size:500" json:"file_path"`           // 当前存储键
	FolderPath   string     `gorm:"not null;size:500" json:"folder_path"`         // 原始目录，恢复时移回此处
	OriginalName string     `gorm:"size:255" json:"original_name"`                // 上传时的文件名
	FileSize     int64      `gorm:"not null;default:0" json:"file_size"`          // 实际写入的字节数
	FileType     string     `gorm:"size:100" json:"file_type"`                    // MIME类型
	Latitude     *float64   `json:"latitude,omitempty"`                           // 拍摄纬度
	Longitude    *float64   `json:"longitude,omitempty"`                          // 拍摄经度
	Timestamp    time.Time  `gorm:"index;not null" json:"timestamp"`              // 采集/上传时间
	IsDeleted    bool       `gorm:"index;not null;default:false" json:"is_deleted"` // 软删除标记
	DeletedOn    *time.Time `json:"deleted_on,omitempty"`                         // 删除时间
	DeletedByID  *uint      `gorm:"index" json:"deleted_by_id,omitempty"`         // 删除人
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CapturedImage 通过摄像头拍摄的图片
type CapturedImage struct {
	Asset
}

// TableName 指定CapturedImage模型对应的数据库表名
func (CapturedImage) TableName() string {
	return "captured_images"
}

// UploadedImage 上传的图片
type UploadedImage struct {
	Asset
}

// TableName 指定UploadedImage模型对应的数据库表名
func (UploadedImage) TableName() string {
	return "uploaded_images"
}

// UploadedFile 上传的文档（通常为PDF）
type UploadedFile struct {
	Asset
}

// TableName 指定UploadedFile模型对应的数据库表名
func (UploadedFile) TableName() string {
	return "uploaded_files"
}

// DerivedDocument 由保留标签图片生成的PDF摘要
// SourceKind + SourceID 构成指向来源图片的多态引用
type DerivedDocument struct {
	Asset
	SourceKind AssetKind `gorm:"index:idx_derived_source;not null;size:30" json:"source_kind"`
	SourceID   uint      `gorm:"index:idx_derived_source;not null" json:"source_id"`
	Superseded bool      `gorm:"not null;default:false" json:"superseded"` // 已被重新生成的摘要取代，不随来源图片恢复
}

// TableName 指定DerivedDocument模型对应的数据库表名
func (DerivedDocument) TableName() string {
	return "derived_documents"
}

// NewAssetModel 返回类型对应的模型指针，供按类型建表/写入使用
func NewAssetModel(kind AssetKind, a Asset) interface{} {
	switch kind {
	case KindCapturedImage:
		return &CapturedImage{Asset: a}
	case KindUploadedImage:
		return &UploadedImage{Asset: a}
	case KindUploadedFile:
		return &UploadedFile{Asset: a}
	case KindDerivedDocument:
		return &DerivedDocument{Asset: a}
	}
	return nil
}

// FindAsset 按类型读取资产的公共字段
// 参数:
//   - db: 数据库连接或事务
//   - kind: 资产类型
//   - id: 记录ID
// 返回:
//   - *Asset: 公共字段
//   - error: 记录不存在时为gorm.ErrRecordNotFound
func FindAsset(db *gorm.DB, kind AssetKind, id uint) (*Asset, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unsupported asset kind: %s", kind)
	}
	var a Asset
	if err := db.Table(kind.Table()).Where("id = ?", id).Take(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// AssetOf 取出模型中嵌入的公共字段
func AssetOf(model interface{}) *Asset {
	switch m := model.(type) {
	case *CapturedImage:
		return &m.Asset
	case *UploadedImage:
		return &m.Asset
	case *UploadedFile:
		return &m.Asset
	case *DerivedDocument:
		return &m.Asset
	}
	return nil
}
