// Package report 生成Excel报表并导入用户资料表
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/service/storage"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// 报表类型
const (
	KindFiles        = "files"
	KindImages       = "images"
	KindCaptures     = "captures"
	KindAll          = "all"
	KindUsers        = "users"
	KindDepartments  = "departments"
	KindDesignations = "designations"
	KindWards        = "wards"
	KindTags         = "tags"
)

// Kinds 全部可导出的报表类型
var Kinds = []string{
	KindFiles, KindImages, KindCaptures, KindAll,
	KindUsers, KindDepartments, KindDesignations, KindWards, KindTags,
}

// ReportService 报表服务接口
type ReportService interface {
	// Export 导出报表
	// 参数:
	//   kind - 报表类型，见Kinds
	//   w - 写入xlsx内容
	// 返回:
	//   string - 建议的下载文件名
	//   error - 类型不支持或生成失败
	Export(kind string, w io.Writer) (string, error)

	// UserTemplate 导出用户资料模板，末尾附有效科室和职称列表
	UserTemplate(w io.Writer) (string, error)

	// ImportUsers 按模板更新用户的工号、科室、职称和电话
	// 单行失败不影响其他行，表头缺少Email列时返回ErrSpreadsheetMalformed
	ImportUsers(actorID uint, r io.Reader) (*ImportResult, error)
}

type reportService struct {
	db       *gorm.DB
	store    storage.Store
	siteURL  string
	location *time.Location
}

// NewReportService 创建报表服务
// 参数:
//   - siteURL: 对外访问地址，存储地址为相对路径时拼接在前面
//   - timezone: 报表时间使用的时区
func NewReportService(db *gorm.DB, store storage.Store, siteURL, timezone string) ReportService {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
	}
	return &reportService{
		db:       db,
		store:    store,
		siteURL:  strings.TrimRight(siteURL, "/"),
		location: loc,
	}
}

func (s *reportService) Export(kind string, w io.Writer) (string, error) {
	var (
		book *workbook
		name string
		err  error
	)
	switch kind {
	case KindFiles:
		book, err = s.assetReport("Uploaded Files", []database.AssetKind{database.KindUploadedFile}, false)
		name = "uploaded_files"
	case KindImages:
		book, err = s.assetReport("Uploaded Images", []database.AssetKind{database.KindUploadedImage}, false)
		name = "uploaded_images"
	case KindCaptures:
		book, err = s.assetReport("Captured Images", []database.AssetKind{database.KindCapturedImage}, false)
		name = "captured_images"
	case KindAll:
		book, err = s.assetReport("All Files & Images", []database.AssetKind{
			database.KindUploadedFile, database.KindUploadedImage, database.KindCapturedImage,
		}, true)
		name = "all_files_and_images"
	case KindUsers:
		book, err = s.userReport()
		name = "user_list"
	case KindDepartments:
		book, err = s.lookupReport("Department List", database.LookupDepartment, "Department Name")
		name = "department_list"
	case KindDesignations:
		book, err = s.lookupReport("Designation List", database.LookupDesignation, "Designation Title")
		name = "designation_list"
	case KindWards:
		book, err = s.lookupReport("Ward List", database.LookupWard, "Ward Name")
		name = "ward_list"
	case KindTags:
		book, err = s.tagReport()
		name = "tag_list"
	default:
		return "", apperrors.Newf(apperrors.ErrInvalidParams, "Unknown report '%s'.", kind)
	}
	if err != nil {
		return "", err
	}
	defer book.close()

	if err := book.write(w); err != nil {
		return "", err
	}
	logger.WithFields(map[string]interface{}{"report": kind, "rows": book.rows - 1}).Info("报表已导出")
	return fmt.Sprintf("%s_%s.xlsx", name, time.Now().In(s.location).Format("20060102_150405")), nil
}

// workbook 单工作表的顺序写入器
type workbook struct {
	f     *excelize.File
	sheet string
	rows  int
}

func newWorkbook(title string) *workbook {
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", title)
	return &workbook{f: f, sheet: title}
}

// append 追加一行，nil切片写入空行
func (b *workbook) append(values ...interface{}) error {
	b.rows++
	if len(values) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, b.rows)
	if err != nil {
		return err
	}
	return b.f.SetSheetRow(b.sheet, cell, &values)
}

// formula 在当前行的col列写入公式
func (b *workbook) formula(col int, formula string) error {
	cell, err := excelize.CoordinatesToCellName(col, b.rows)
	if err != nil {
		return err
	}
	return b.f.SetCellFormula(b.sheet, cell, formula)
}

func (b *workbook) write(w io.Writer) error {
	if err := b.f.Write(w); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (b *workbook) close() {
	if err := b.f.Close(); err != nil {
		logger.Warnf("关闭工作簿失败: %v", err)
	}
}
