package database

import "time"

// 问题状态
const (
	IssueStatusOpen      = "open"
	IssueStatusAccepted  = "accepted"
	IssueStatusRejected  = "rejected"
	IssueStatusCompleted = "completed"
)

// IssueStatusLabels 状态展示名
var IssueStatusLabels = map[string]string{
	IssueStatusOpen:      "Action Pending",
	IssueStatusAccepted:  "Under Process",
	IssueStatusRejected:  "Not Feasible",
	IssueStatusCompleted: "Completed",
}

// IssueReport 用户提交的问题反馈
type IssueReport struct {
	ID             uint       `gorm:"primarykey" json:"id"`
	IssueID        string     `gorm:"uniqueIndex;not null;size:6" json:"issue_id"`       // 对外展示的6位编号
	UserID         uint       `gorm:"index;not null" json:"user_id"`                     // 提交人
	User           *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Description    string     `gorm:"type:text;not null" json:"description"`             // 问题描述
	AttachmentPath string     `gorm:"size:500" json:"attachment_path,omitempty"`         // 附件存储键
	Status         string     `gorm:"index;not null;size:20" json:"status"`              // open / accepted / rejected / completed
	Remark         string     `gorm:"type:text" json:"remark"`                           // 管理员备注
	StatusMarkedAt *time.Time `json:"status_marked_at,omitempty"`                        // 状态变更时间
	IsDeleted      bool       `gorm:"index;not null;default:false" json:"is_deleted"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName 指定IssueReport模型对应的数据库表名
func (IssueReport) TableName() string {
	return "issue_reports"
}

// StatusLabel 状态展示名
func (r *IssueReport) StatusLabel() string {
	if label, ok := IssueStatusLabels[r.Status]; ok {
		return label
	}
	return r.Status
}
