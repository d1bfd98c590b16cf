package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/pkg/validate"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// 导入行状态
const (
	StatusSuccess = "Success"
	StatusPartial = "Partial"
	StatusFailed  = "Failed"
)

// sentinelDepartments 模板中用户数据之后的有效科室列表标题，导入读到此行停止
const sentinelDepartments = "Valid Departments"

// RowResult 单行导入结果
type RowResult struct {
	Row     int      `json:"row"` // 表格中的行号，从1开始
	Email   string   `json:"email"`
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Changes []string `json:"changes"`
}

// ImportResult 导入结果汇总
type ImportResult struct {
	Updated int         `json:"updated"`
	Skipped int         `json:"skipped"`
	Summary string      `json:"summary"`
	Rows    []RowResult `json:"rows"`
}

// columns 表头名称到列下标的映射，-1表示缺失
type columns struct {
	email, employeeID, department, designation, phone int
}

func resolveColumns(header []string) (columns, error) {
	cols := columns{email: -1, employeeID: -1, department: -1, designation: -1, phone: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "email":
			cols.email = i
		case "id", "employee id":
			cols.employeeID = i
		case "department":
			cols.department = i
		case "designation":
			cols.designation = i
		case "phone":
			cols.phone = i
		}
	}
	if cols.email < 0 {
		return cols, apperrors.New(apperrors.ErrSpreadsheetMalformed, "The header row must contain an 'Email' column.")
	}
	return cols, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func (s *reportService) ImportUsers(actorID uint, r io.Reader) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSpreadsheetMalformed, "", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warnf("关闭工作簿失败: %v", err)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.New(apperrors.ErrSpreadsheetMalformed, "")
	}
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSpreadsheetMalformed, "", err)
	}
	if len(rows) == 0 {
		return nil, apperrors.New(apperrors.ErrSpreadsheetMalformed, "The spreadsheet is empty.")
	}
	cols, err := resolveColumns(rows[0])
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Rows: []RowResult{}}
	for i, row := range rows[1:] {
		if blank(row) || cell(row, 0) == sentinelDepartments {
			break
		}
		rowResult, updated, err := s.importRow(i+2, row, cols)
		if err != nil {
			return nil, err
		}
		if rowResult == nil {
			continue
		}
		if updated {
			result.Updated++
		} else {
			result.Skipped++
		}
		result.Rows = append(result.Rows, *rowResult)
	}
	result.Summary = fmt.Sprintf("%d updated, %d skipped.", result.Updated, result.Skipped)

	logger.WithFields(map[string]interface{}{
		"actor": actorID, "updated": result.Updated, "skipped": result.Skipped,
	}).Info("用户资料表已导入")
	return result, nil
}

// importRow 处理一行；没有任何变更请求时返回nil
// updated表示该行至少有一项变更被保存
func (s *reportService) importRow(line int, row []string, cols columns) (*RowResult, bool, error) {
	email := cell(row, cols.email)
	res := &RowResult{Row: line, Email: email, Changes: []string{}}
	if email == "" {
		res.Email, res.Status, res.Message = "N/A", StatusFailed, "Missing Email"
		return res, false, nil
	}

	var user database.User
	err := s.db.Preload("Department").Preload("Designation").
		Where("LOWER(email) = ?", strings.ToLower(email)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			res.Status, res.Message = StatusFailed, "User not found"
			return res, false, nil
		}
		return nil, false, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}

	updates := map[string]interface{}{}
	requests, succeeded := 0, 0
	invalid := func(field, current, proposed string) {
		res.Changes = append(res.Changes, fmt.Sprintf("%s: %s → %s (Invalid)", field, current, proposed))
	}
	applied := func(field, column string, value interface{}, current, proposed string) {
		updates[column] = value
		res.Changes = append(res.Changes, fmt.Sprintf("%s: %s → %s", field, current, proposed))
		succeeded++
	}

	if proposed := cell(row, cols.employeeID); proposed != "" && proposed != user.EmployeeID {
		requests++
		applied("ID", "employee_id", proposed, user.EmployeeID, proposed)
	}

	for _, lc := range []struct {
		field, kind, column string
		idx                 int
		current             *database.Lookup
	}{
		{"Department", database.LookupDepartment, "department_id", cols.department, user.Department},
		{"Designation", database.LookupDesignation, "designation_id", cols.designation, user.Designation},
	} {
		current := ""
		if lc.current != nil {
			current = lc.current.Name
		}
		proposed := cell(row, lc.idx)
		if proposed == "" || proposed == current {
			continue
		}
		requests++
		var match database.Lookup
		err := s.db.Where("kind = ? AND LOWER(name) = ?", lc.kind, strings.ToLower(proposed)).First(&match).Error
		switch {
		case err == nil:
			applied(lc.field, lc.column, match.ID, current, proposed)
		case errors.Is(err, gorm.ErrRecordNotFound):
			invalid(lc.field, current, proposed)
		default:
			return nil, false, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
		}
	}

	if proposed := cell(row, cols.phone); proposed != "" && proposed != user.Phone {
		requests++
		if validate.IsPhone(proposed) {
			applied("Phone", "phone", proposed, user.Phone, proposed)
		} else {
			invalid("Phone", user.Phone, proposed)
		}
	}

	if requests == 0 {
		return nil, false, nil
	}
	if succeeded == 0 {
		res.Status, res.Message = StatusFailed, "No valid changes"
		return res, false, nil
	}

	if err := s.db.Model(&database.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}
	if succeeded == requests {
		res.Status, res.Message = StatusSuccess, "All changes applied"
	} else {
		res.Status, res.Message = StatusPartial, fmt.Sprintf("%d of %d changes applied", succeeded, requests)
	}
	return res, true, nil
}
