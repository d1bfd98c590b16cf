package ingest

import (
	"github.com/weiwangfds/medcap/internal/database"
	"github.com/weiwangfds/medcap/internal/service/storage"
)

// Profile 上传入口配置：记录类型、存储目录和允许的MIME类型
type Profile struct {
	Name     string
	Kind     database.AssetKind
	Category string
	Allowed  []string
	Batch    bool
}

// 上传入口名称
const (
	ProfileCapture    = "capture"
	ProfileFile       = "file"
	ProfileImage2PDF  = "image2pdf"
	ProfilePDFBatch   = "pdf_batch"
	ProfileImage      = "image"
	ProfileImageBatch = "image_batch"
)

var profiles = map[string]Profile{
	ProfileCapture: {
		Name: ProfileCapture, Kind: database.KindCapturedImage, Category: storage.CategoryCapturedImages,
		Allowed: []string{"image/jpeg", "image/png"},
	},
	ProfileFile: {
		Name: ProfileFile, Kind: database.KindUploadedFile, Category: storage.CategoryUploadedFiles,
		Allowed: []string{"application/pdf", "image/jpeg", "image/png", "image/gif"},
	},
	ProfileImage2PDF: {
		Name: ProfileImage2PDF, Kind: database.KindUploadedFile, Category: storage.CategoryUploadedFiles,
		Allowed: []string{"application/pdf", "image/jpeg", "image/jpg", "image/png"},
	},
	ProfilePDFBatch: {
		Name: ProfilePDFBatch, Kind: database.KindUploadedFile, Category: storage.CategoryUploadedFiles,
		Allowed: []string{"application/pdf"}, Batch: true,
	},
	ProfileImage: {
		Name: ProfileImage, Kind: database.KindUploadedImage, Category: storage.CategoryUploadedImages,
		Allowed: []string{"image/jpeg", "image/jpg", "image/png"},
	},
	ProfileImageBatch: {
		Name: ProfileImageBatch, Kind: database.KindUploadedImage, Category: storage.CategoryUploadedImages,
		Allowed: []string{"image/jpeg", "image/jpg", "image/png"}, Batch: true,
	},
}

// LookupProfile 按名称查找上传入口
func LookupProfile(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// Allows 判断MIME类型是否在允许列表中
func (p Profile) Allows(mime string) bool {
	for _, a := range p.Allowed {
		if a == mime {
			return true
		}
	}
	return false
}
