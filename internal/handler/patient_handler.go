package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/response"
	"github.com/weiwangfds/medcap/internal/service/lifecycle"
	"github.com/weiwangfds/medcap/internal/service/patient"
)

// PatientHandler 病人登记与按UHID的记录浏览
type PatientHandler struct {
	patientService   patient.PatientService
	lifecycleService lifecycle.LifecycleService
}

// NewPatientHandler 创建病人处理器
func NewPatientHandler(patientService patient.PatientService, lifecycleService lifecycle.LifecycleService) *PatientHandler {
	return &PatientHandler{patientService: patientService, lifecycleService: lifecycleService}
}

func parseUHID(c *gin.Context, raw string) (int32, bool) {
	uhid, err := patient.ParseUHID(raw)
	if err != nil {
		response.FromError(c, err)
		return 0, false
	}
	return uhid, true
}

// optionalKind 查询参数中的资产类型，为空表示全部
func optionalKind(c *gin.Context) (database.AssetKind, bool) {
	kind := database.AssetKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		response.FromError(c, apperrors.Newf(apperrors.ErrUnsupportedKind, "Unsupported record type '%s'.", kind))
		return "", false
	}
	return kind, true
}

// Register 登记或更新病人
// @Summary 登记病人
// @Description 同一UHID已存在时更新病人信息
// @Tags 病人
// @Accept json
// @Produce json
// @Param body body patient.RegisterRequest true "病人信息"
// @Success 200 {object} response.Response{data=database.Patient} "已更新"
// @Success 201 {object} response.Response{data=database.Patient} "已创建"
// @Failure 400 {object} response.Response
// @Router /patients [post]
func (h *PatientHandler) Register(c *gin.Context) {
	var req patient.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	p, created, err := h.patientService.Register(actor(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if created {
		response.Created(c, "Patient registered successfully.", p)
		return
	}
	response.SuccessWithMessage(c, "Patient details updated successfully.", p)
}

// Options UHID操作页统计
// @Summary UHID操作页统计
// @Tags 病人
// @Produce json
// @Param uhid query string true "UHID"
// @Success 200 {object} response.Response{data=patient.PatientOptions}
// @Router /patients/options [get]
func (h *PatientHandler) Options(c *gin.Context) {
	uhid, ok := parseUHID(c, c.Query("uhid"))
	if !ok {
		return
	}
	opts, err := h.patientService.Options(actor(c), uhid)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, opts)
}

// Get 病人详情
func (h *PatientHandler) Get(c *gin.Context) {
	uhid, ok := parseUHID(c, c.Param("uhid"))
	if !ok {
		return
	}
	p, err := h.patientService.GetByUHID(uhid)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, p)
}

// DischargeCheck 选择出院摘要标签前检查出院时间
// @Summary 出院摘要前置检查
// @Tags 病人
// @Produce json
// @Param uhid path string true "UHID"
// @Param tag_id query int true "标签ID"
// @Success 200 {object} response.Response{data=patient.DischargeStatus}
// @Router /patients/{uhid}/discharge-check [get]
func (h *PatientHandler) DischargeCheck(c *gin.Context) {
	uhid, ok := parseUHID(c, c.Param("uhid"))
	if !ok {
		return
	}
	tagID, err := strconv.ParseUint(c.Query("tag_id"), 10, 64)
	if err != nil {
		response.FromError(c, apperrors.New(apperrors.ErrTagRequired, ""))
		return
	}
	status, err := h.patientService.CheckDischargeStatus(uhid, uint(tagID))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, status)
}

// Assets 病人某类未删除的记录
// @Summary 病人记录列表
// @Tags 病人
// @Produce json
// @Param uhid path string true "UHID"
// @Param kind query string true "captured_image, uploaded_image, uploaded_file 或 derived_document"
// @Success 200 {object} response.Response{data=[]lifecycle.AssetView}
// @Router /patients/{uhid}/assets [get]
func (h *PatientHandler) Assets(c *gin.Context) {
	uhid, ok := parseUHID(c, c.Param("uhid"))
	if !ok {
		return
	}
	kind, ok := optionalKind(c)
	if !ok {
		return
	}
	if kind == "" {
		response.FromError(c, apperrors.New(apperrors.ErrInvalidParams, "kind is required."))
		return
	}
	views, err := h.lifecycleService.ListAssets(uhid, kind)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, views)
}

// Archive 打包下载病人的全部（或某类）记录
// @Summary 打包下载
// @Tags 病人
// @Produce application/zip
// @Param uhid path string true "UHID"
// @Param kind query string false "记录类型，为空时全部"
// @Success 200 {file} binary
// @Router /patients/{uhid}/archive [get]
func (h *PatientHandler) Archive(c *gin.Context) {
	uhid, ok := parseUHID(c, c.Param("uhid"))
	if !ok {
		return
	}
	kind, ok := optionalKind(c)
	if !ok {
		return
	}
	if _, err := h.patientService.GetByUHID(uhid); err != nil {
		response.FromError(c, err)
		return
	}

	setAttachment(c, fmt.Sprintf("PATIENT_%d.zip", uhid), "application/zip")
	n, err := h.lifecycleService.Archive(c.Request.Context(), uhid, kind, c.Writer)
	if err != nil {
		// 响应头已发送，只能中断连接
		logger.WithFields(map[string]interface{}{"uhid": uhid, "written": n}).Errorf("打包下载失败: %v", err)
		_ = c.Error(err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	logger.WithFields(map[string]interface{}{"uhid": uhid, "files": n, "actor": actor(c)}).Info("病人记录已打包下载")
}
