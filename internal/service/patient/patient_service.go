// Package patient 管理按UHID登记的病人信息
package patient

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/logger"
	"gorm.io/gorm"
)

// ParseUHID 解析UHID，必须是32位有符号整数
func ParseUHID(raw string) (int32, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, apperrors.New(apperrors.ErrInvalidUHID, "")
	}
	return int32(n), nil
}

// PatientService 病人服务接口
type PatientService interface {
	// Register 登记病人，同一UHID已存在时更新其信息
	// 参数:
	//   actorID - 操作人
	//   req - 登记请求
	// 返回:
	//   *database.Patient - 登记后的病人
	//   bool - 是否为新建
	//   error - 错误信息
	Register(actorID uint, req *RegisterRequest) (*database.Patient, bool, error)

	// GetByUHID 根据UHID获取病人，不存在返回ErrPatientNotFound
	GetByUHID(uhid int32) (*database.Patient, error)

	// Options 统计病人名下各类资产数量，用于UHID操作页
	// 病人未登记时返回仅含UHID的空统计
	Options(actorID uint, uhid int32) (*PatientOptions, error)

	// CheckDischargeStatus 选择出院摘要标签前检查病人是否已填写出院时间
	CheckDischargeStatus(uhid int32, tagID uint) (*DischargeStatus, error)
}

// RegisterRequest 病人登记请求
type RegisterRequest struct {
	UHID            string     `json:"uhid" binding:"required"`
	PatientName     string     `json:"patient_name" binding:"required,max=255"`
	MobileNo        string     `json:"mobile_no" binding:"omitempty,phone"`
	DateOfAdmission *time.Time `json:"date_of_admission"`
	DateOfDischarge *time.Time `json:"date_of_discharge"`
}

// PatientOptions UHID操作页统计
type PatientOptions struct {
	UHID         int32  `json:"uhid"`
	PatientName  string `json:"patient_name,omitempty"`
	Registered   bool   `json:"registered"`
	ImageCount   int64  `json:"image_count"`   // 拍摄与上传图片
	FileCount    int64  `json:"file_count"`    // 上传文件
	OtherFiles   int64  `json:"other_files"`   // 生成的PDF摘要
	DeletedFiles int64  `json:"deleted_files"` // 当前用户删除的记录
}

// DischargeStatus 出院检查结果
type DischargeStatus struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
	Redirect string `json:"redirect,omitempty"` // 需要先补全病人信息时跳转的接口
}

type patientService struct {
	db           *gorm.DB
	dischargeTag string
}

// NewPatientService 创建病人服务
func NewPatientService(db *gorm.DB, cfg config.DerivationConfig) PatientService {
	return &patientService{db: db, dischargeTag: cfg.DischargeTag}
}

func (s *patientService) Register(actorID uint, req *RegisterRequest) (*database.Patient, bool, error) {
	uhid, err := ParseUHID(req.UHID)
	if err != nil {
		return nil, false, err
	}
	name := strings.TrimSpace(req.PatientName)
	if name == "" {
		return nil, false, apperrors.New(apperrors.ErrInvalidParams, "Patient name is required.")
	}

	var patient database.Patient
	err = s.db.Where("uhid = ?", uhid).First(&patient).Error
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		return nil, false, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}

	patient.UHID = uhid
	patient.PatientName = name
	patient.MobileNo = strings.TrimSpace(req.MobileNo)
	patient.DateOfAdmission = req.DateOfAdmission
	patient.DateOfDischarge = req.DateOfDischarge

	if created {
		patient.CreatedByID = optionalID(actorID)
		err = s.db.Create(&patient).Error
	} else {
		patient.UpdatedByID = optionalID(actorID)
		err = s.db.Save(&patient).Error
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}

	logger.WithField("uhid", uhid).WithField("created", created).Info("病人信息已登记")
	return &patient, created, nil
}

func (s *patientService) GetByUHID(uhid int32) (*database.Patient, error) {
	var patient database.Patient
	if err := s.db.Where("uhid = ?", uhid).First(&patient).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrPatientNotFound, "")
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return &patient, nil
}

func (s *patientService) Options(actorID uint, uhid int32) (*PatientOptions, error) {
	opts := &PatientOptions{UHID: uhid}

	patient, err := s.GetByUHID(uhid)
	if apperrors.HasCode(err, apperrors.ErrPatientNotFound) {
		return opts, nil
	}
	if err != nil {
		return nil, err
	}
	opts.Registered = true
	opts.PatientName = patient.PatientName

	count := func(kind database.AssetKind, deleted bool) (int64, error) {
		var n int64
		q := s.db.Table(kind.Table()).Where("patient_id = ? AND is_deleted = ?", patient.ID, deleted)
		if deleted {
			q = q.Where("deleted_by_id = ?", actorID)
		}
		err := q.Count(&n).Error
		return n, err
	}

	for _, item := range []struct {
		kind    database.AssetKind
		deleted bool
		into    *int64
	}{
		{database.KindCapturedImage, false, &opts.ImageCount},
		{database.KindUploadedImage, false, &opts.ImageCount},
		{database.KindUploadedFile, false, &opts.FileCount},
		{database.KindDerivedDocument, false, &opts.OtherFiles},
		{database.KindCapturedImage, true, &opts.DeletedFiles},
		{database.KindUploadedImage, true, &opts.DeletedFiles},
		{database.KindUploadedFile, true, &opts.DeletedFiles},
	} {
		n, err := count(item.kind, item.deleted)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
		}
		*item.into += n
	}
	return opts, nil
}

func (s *patientService) CheckDischargeStatus(uhid int32, tagID uint) (*DischargeStatus, error) {
	var tag database.Tag
	if err := s.db.First(&tag, tagID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrInvalidTag, "")
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	if tag.Value != s.dischargeTag {
		return &DischargeStatus{Allowed: true}, nil
	}

	patient, err := s.GetByUHID(uhid)
	if err != nil {
		return nil, err
	}
	if patient.DateOfDischarge != nil {
		return &DischargeStatus{Allowed: true}, nil
	}
	return &DischargeStatus{
		Allowed:  false,
		Reason:   "discharge_required",
		Redirect: "/api/v1/patients",
	}, nil
}

func optionalID(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}
