package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
)

var assetHeaders = []string{
	"Sl.", "IP", "Tag", "Name", "Username", "Designation", "Department", "Phone",
	"Date-Time", "File Type", "File Size (MB)", "File Link",
}

// FormatIP 住院号展示为 25/1678
func FormatIP(uhid int32) string {
	s := strconv.Itoa(int(uhid))
	if len(s) > 2 {
		return s[:2] + "/" + s[2:]
	}
	return s
}

// FormatSizeMB 文件大小，未知时为N/A
func FormatSizeMB(size int64) string {
	if size <= 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
}

func headerRow(headers []string) []interface{} {
	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	return row
}

// fileURL 存储地址为相对路径时拼接站点地址
func (s *reportService) fileURL(key string) string {
	if key == "" {
		return ""
	}
	u := s.store.URL(key)
	if strings.HasPrefix(u, "/") {
		return s.siteURL + u
	}
	return u
}

// assetReport 资产报表，withType为true时在Sl.后增加Type列并按kinds顺序分组
func (s *reportService) assetReport(title string, kinds []database.AssetKind, withType bool) (*workbook, error) {
	headers := assetHeaders
	if withType {
		headers = append([]string{"Sl.", "Type"}, assetHeaders[1:]...)
	}

	book := newWorkbook(title)
	if err := book.append(headerRow(headers)...); err != nil {
		book.close()
		return nil, apperrors.Internal(err)
	}

	users, err := s.usersByID()
	if err != nil {
		book.close()
		return nil, err
	}
	tags, err := s.tagsByID()
	if err != nil {
		book.close()
		return nil, err
	}

	idx := 1
	for _, kind := range kinds {
		var assets []database.Asset
		if err := s.db.Table(kind.Table()).Order("timestamp DESC").Order("id DESC").Find(&assets).Error; err != nil {
			book.close()
			return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
		}
		for _, a := range assets {
			row := s.assetRow(idx, a, users[a.UserID], tags)
			if withType {
				row = append([]interface{}{row[0], kind.Label()}, row[1:]...)
			}
			if err := s.appendAssetRow(book, row, a.FilePath); err != nil {
				book.close()
				return nil, apperrors.Internal(err)
			}
			idx++
		}
	}
	return book, nil
}

func (s *reportService) assetRow(idx int, a database.Asset, u *database.User, tags map[uint]string) []interface{} {
	tagName := "—"
	if a.TagID != nil {
		if name, ok := tags[*a.TagID]; ok {
			tagName = name
		}
	}
	fileType := a.FileType
	if fileType == "" {
		fileType = "Unknown"
	}

	var name, email, designation, department, phone string
	if u != nil {
		name, email = u.FullName, u.Email
		designation = u.DesignationLabel("N/A")
		department = u.DepartmentLabel("N/A")
		phone = u.Phone
	}
	if phone == "" {
		phone = "N/A"
	}

	return []interface{}{
		idx,
		FormatIP(a.UHID),
		tagName,
		name,
		email,
		designation,
		department,
		phone,
		a.Timestamp.In(s.location).Format("02-Jan-2006 03:04 PM"),
		fileType,
		FormatSizeMB(a.FileSize),
		"No Link",
	}
}

// appendAssetRow 写入一行，最后一列有地址时改为HYPERLINK公式
func (s *reportService) appendAssetRow(book *workbook, row []interface{}, key string) error {
	if err := book.append(row...); err != nil {
		return err
	}
	url := s.fileURL(key)
	if url == "" {
		return nil
	}
	return book.formula(len(row), fmt.Sprintf(`=HYPERLINK("%s", "Click Here")`, url))
}

func (s *reportService) usersByID() (map[uint]*database.User, error) {
	var users []database.User
	if err := s.db.Preload("Department").Preload("Designation").Find(&users).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	byID := make(map[uint]*database.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	return byID, nil
}

func (s *reportService) tagsByID() (map[uint]string, error) {
	var tags []database.Tag
	if err := s.db.Find(&tags).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	byID := make(map[uint]string, len(tags))
	for _, t := range tags {
		byID[t.ID] = t.Name
	}
	return byID, nil
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func (s *reportService) userReport() (*workbook, error) {
	var users []database.User
	err := s.db.Preload("Department").Preload("Designation").Preload("ApprovedBy").
		Order("full_name").Find(&users).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}

	book := newWorkbook("User List")
	rows := [][]interface{}{headerRow([]string{
		"Sl. No.", "Full Name", "Email", "Employee ID", "Designation", "Department",
		"Phone", "Is Approved", "Approved By", "Approved At",
	})}
	for i, u := range users {
		approvedBy, approvedAt := "—", "—"
		if u.ApprovedBy != nil {
			approvedBy = u.ApprovedBy.FullName
		}
		if u.ApprovedAt != nil {
			approvedAt = u.ApprovedAt.In(s.location).Format("02-Jan-2006 03:04 PM")
		}
		rows = append(rows, []interface{}{
			i + 1,
			u.FullName,
			u.Email,
			orDash(u.EmployeeID),
			u.DesignationLabel("—"),
			u.DepartmentLabel("—"),
			orDash(u.Phone),
			yesNo(u.IsApproved),
			approvedBy,
			approvedAt,
		})
	}
	return fill(book, rows)
}

func (s *reportService) lookupReport(title, kind, nameHeader string) (*workbook, error) {
	var items []database.Lookup
	if err := s.db.Where("kind = ?", kind).Order("name").Find(&items).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	users, err := s.usersByID()
	if err != nil {
		return nil, err
	}

	book := newWorkbook(title)
	rows := [][]interface{}{headerRow([]string{
		"Sl. No.", nameHeader, "Abbreviation", "Is Active", "Created At", "Created By",
	})}
	for i, l := range items {
		createdBy := ""
		if l.CreatedByID != nil {
			if u, ok := users[*l.CreatedByID]; ok {
				createdBy = u.FullName
			}
		}
		createdAt := ""
		if !l.CreatedAt.IsZero() {
			createdAt = l.CreatedAt.In(s.location).Format(time.DateTime)
		}
		rows = append(rows, []interface{}{i + 1, l.Name, l.Abbreviation, yesNo(l.IsActive), createdAt, createdBy})
	}
	return fill(book, rows)
}

func (s *reportService) tagReport() (*workbook, error) {
	var tags []database.Tag
	if err := s.db.Order("name").Find(&tags).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}

	book := newWorkbook("Tag List")
	rows := [][]interface{}{headerRow([]string{
		"Sl. No.", "Tag Name", "Abbreviation", "Value", "Tag Type", "Is Deleted",
	})}
	for i, t := range tags {
		rows = append(rows, []interface{}{i + 1, t.Name, t.Abbreviation, t.Value, t.Type, yesNo(t.IsDeleted)})
	}
	return fill(book, rows)
}

func fill(book *workbook, rows [][]interface{}) (*workbook, error) {
	for _, row := range rows {
		if err := book.append(row...); err != nil {
			book.close()
			return nil, apperrors.Internal(err)
		}
	}
	return book, nil
}

func (s *reportService) UserTemplate(w io.Writer) (string, error) {
	var users []database.User
	if err := s.db.Preload("Department").Preload("Designation").Order("full_name").Find(&users).Error; err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	var departments, designations []database.Lookup
	if err := s.db.Where("kind = ? AND is_active = ?", database.LookupDepartment, true).
		Order("name").Find(&departments).Error; err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	if err := s.db.Where("kind = ? AND is_active = ?", database.LookupDesignation, true).
		Order("name").Find(&designations).Error; err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}

	rows := [][]interface{}{headerRow([]string{
		"Email", "Full Name", "Is Approved", "ID", "Department", "Designation", "Phone",
	})}
	for _, u := range users {
		var department, designation string
		if u.Department != nil {
			department = u.Department.Name
		}
		if u.Designation != nil {
			designation = u.Designation.Name
		}
		rows = append(rows, []interface{}{
			u.Email, u.FullName, yesNo(u.IsApproved), u.EmployeeID, department, designation, u.Phone,
		})
	}
	rows = append(rows, nil, []interface{}{sentinelDepartments})
	for _, d := range departments {
		rows = append(rows, []interface{}{d.Name})
	}
	rows = append(rows, nil, []interface{}{"Valid Designations"})
	for _, d := range designations {
		rows = append(rows, []interface{}{d.Name})
	}

	book, err := fill(newWorkbook("Users"), rows)
	if err != nil {
		return "", err
	}
	defer book.close()
	if err := book.write(w); err != nil {
		return "", err
	}
	return fmt.Sprintf("user_template_%s.xlsx", time.Now().In(s.location).Format("2006-01-02_15-04-05")), nil
}
