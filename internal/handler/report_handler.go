package handler

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/response"
	"github.com/weiwangfds/medcap/internal/service/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportHandler Excel导出与用户资料导入
type ReportHandler struct {
	reportService report.ReportService
}

// NewReportHandler 创建报表处理器
func NewReportHandler(reportService report.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// Export 导出报表
// @Summary 导出Excel报表
// @Tags 报表
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param kind path string true "files, images, captures, all, users, departments, designations, wards, tags"
// @Success 200 {file} binary
// @Failure 400 {object} response.Response
// @Router /admin/reports/{kind} [get]
func (h *ReportHandler) Export(c *gin.Context) {
	// 先写入缓冲区，生成失败时仍可返回JSON错误
	var buf bytes.Buffer
	filename, err := h.reportService.Export(c.Param("kind"), &buf)
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.send(c, filename, &buf)
}

// Template 导出用户资料模板
// @Summary 用户资料模板
// @Tags 报表
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} binary
// @Router /admin/users/template [get]
func (h *ReportHandler) Template(c *gin.Context) {
	var buf bytes.Buffer
	filename, err := h.reportService.UserTemplate(&buf)
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.send(c, filename, &buf)
}

func (h *ReportHandler) send(c *gin.Context, filename string, buf *bytes.Buffer) {
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// Import 按模板更新用户资料
// @Summary 导入用户资料表
// @Description 逐行返回处理结果，单行失败不影响其他行
// @Tags 报表
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "xlsx文件"
// @Success 200 {object} response.Response{data=report.ImportResult}
// @Failure 400 {object} response.Response "表格格式错误"
// @Router /admin/users/import [post]
func (h *ReportHandler) Import(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.FromError(c, apperrors.New(apperrors.ErrNoFileUploaded, ""))
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.FromError(c, apperrors.Wrap(apperrors.ErrFileReadFailed, "", err))
		return
	}
	defer f.Close()

	result, err := h.reportService.ImportUsers(actor(c), f)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, result.Summary, result)
}
