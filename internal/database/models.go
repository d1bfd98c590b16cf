// Package database 定义了数据库相关的模型和结构体
// 包含病人、标签、影像/文件资产、派生文档、问题反馈和用户等核心数据模型
package database

import (
	"regexp"
	"time"

	"gorm.io/gorm"
)

// Patient 病人模型
// 一次住院对应一个UHID，重复登记同一UHID时更新已有记录
type Patient struct {
	ID              uint       `gorm:"primarykey" json:"id"`                       // 主键ID，自增
	UHID            int32      `gorm:"column:uhid;uniqueIndex;not null" json:"uhid"`         // 住院号，全局唯一
	PatientName     string     `gorm:"not null;size:255" json:"patient_name"`      // 病人姓名
	MobileNo        string     `gorm:"size:20" json:"mobile_no"`                   // 联系电话
	DateOfAdmission *time.Time `json:"date_of_admission"`                          // 入院时间
	DateOfDischarge *time.Time `json:"date_of_discharge"`                          // 出院时间
	CreatedByID     *uint      `gorm:"index" json:"created_by_id"`                 // 登记人
	UpdatedByID     *uint      `gorm:"index" json:"updated_by_id"`                 // 最后修改人
	CreatedAt       time.Time  `json:"created_at"`                                 // 记录创建时间
	UpdatedAt       time.Time  `json:"updated_at"`                                 // 记录最后更新时间
}

// TableName 指定Patient模型对应的数据库表名
func (Patient) TableName() string {
	return "patients"
}

// 标签类型
const (
	TagTypeUniversal = "Universal"
	TagTypeGeoPic    = "Geo-Pic"
	TagTypeFileOnly  = "File Only"
)

var tagValuePattern = regexp.MustCompile(`[^A-Za-z0-9]`)

// SanitizeTagValue 由标签名称推导value：去掉所有非字母数字字符
func SanitizeTagValue(name string) string {
	return tagValuePattern.ReplaceAllString(name, "")
}

// Tag 标签模型
// 决定文件存储子目录命名；两个保留标签会触发PDF摘要生成
type Tag struct {
	ID           uint      `gorm:"primarykey" json:"id"`                              // 主键ID，自增
	Name         string    `gorm:"uniqueIndex;not null;size:255" json:"name"`         // 标签名称，唯一
	Abbreviation string    `gorm:"uniqueIndex;not null;size:50" json:"abbreviation"`  // 缩写，唯一
	Value        string    `gorm:"uniqueIndex;not null;size:255" json:"value"`        // 由名称推导的净化值，唯一
	Type         string    `gorm:"not null;size:20" json:"type"`                      // Universal / Geo-Pic / File Only
	IsDeleted    bool      `gorm:"not null;default:false;index" json:"is_deleted"`    // 是否停用
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName 指定Tag模型对应的数据库表名
func (Tag) TableName() string {
	return "tags"
}

// BeforeSave 每次保存前重新计算value，保证value始终由名称推导
func (t *Tag) BeforeSave(tx *gorm.DB) error {
	t.Value = SanitizeTagValue(t.Name)
	if t.Type == "" {
		t.Type = TagTypeUniversal
	}
	return nil
}

// 字典类型
const (
	LookupDepartment  = "department"
	LookupDesignation = "designation"
	LookupWard        = "ward"
)

// Lookup 字典模型
// 科室、职称和病区共用一张表，以Kind区分
type Lookup struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	Kind         string    `gorm:"uniqueIndex:idx_lookup_kind_name;not null;size:20" json:"kind"`  // department / designation / ward
	Name         string    `gorm:"uniqueIndex:idx_lookup_kind_name;not null;size:255" json:"name"` // 名称（职称为title）
	Abbreviation string    `gorm:"size:50" json:"abbreviation"`
	IsActive     bool      `gorm:"not null;default:false" json:"is_active"`
	CreatedByID  *uint     `gorm:"index" json:"created_by_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName 指定Lookup模型对应的数据库表名
func (Lookup) TableName() string {
	return "lookups"
}

// User 用户模型
// 邮箱作为登录名，统一小写存储；新注册用户需管理员审批
type User struct {
	ID               uint       `gorm:"primarykey" json:"id"`
	Email            string     `gorm:"uniqueIndex;not null;size:254" json:"email"`
	FullName         string     `gorm:"not null;size:255" json:"full_name"`
	PasswordHash     string     `gorm:"not null;size:100" json:"-"`
	EmployeeID       string     `gorm:"size:100" json:"employee_id"`
	DepartmentID     *uint      `gorm:"index" json:"department_id"`
	Department       *Lookup    `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
	DepartmentOther  string     `gorm:"size:255" json:"department_other"`
	DesignationID    *uint      `gorm:"index" json:"designation_id"`
	Designation      *Lookup    `gorm:"foreignKey:DesignationID" json:"designation,omitempty"`
	DesignationOther string     `gorm:"size:255" json:"designation_other"`
	WardID           *uint      `gorm:"index" json:"ward_id"`
	Ward             *Lookup    `gorm:"foreignKey:WardID" json:"ward,omitempty"`
	WardOther        string     `gorm:"size:255" json:"ward_other"`
	Phone            string     `gorm:"size:20" json:"phone"`
	IsApproved       bool       `gorm:"not null;default:false" json:"is_approved"`
	ApprovedByID     *uint      `json:"approved_by_id"`
	ApprovedBy       *User      `gorm:"foreignKey:ApprovedByID" json:"-"`
	ApprovedAt       *time.Time `json:"approved_at"`
	IsAdmin          bool       `gorm:"not null;default:false" json:"is_admin"`
	IsActive         bool       `gorm:"not null;default:false" json:"is_active"`
	FailedAttempts   int        `gorm:"not null;default:0" json:"failed_attempts"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName 指定User模型对应的数据库表名
func (User) TableName() string {
	return "users"
}

// DepartmentLabel 科室展示名，含“其他”补充说明
func (u *User) DepartmentLabel(empty string) string {
	return lookupLabel(u.Department, u.DepartmentOther, empty)
}

// DesignationLabel 职称展示名，含“其他”补充说明
func (u *User) DesignationLabel(empty string) string {
	return lookupLabel(u.Designation, u.DesignationOther, empty)
}

func lookupLabel(l *Lookup, other, empty string) string {
	label := empty
	if l != nil {
		label = l.Name
	}
	if other != "" {
		label += " (" + other + ")"
	}
	return label
}
