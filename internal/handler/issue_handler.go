package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/response"
	"github.com/weiwangfds/medcap/internal/service/issue"
)

// IssueHandler 问题反馈
type IssueHandler struct {
	issueService issue.IssueService
}

// NewIssueHandler 创建问题反馈处理器
func NewIssueHandler(issueService issue.IssueService) *IssueHandler {
	return &IssueHandler{issueService: issueService}
}

// Submit 提交问题
// @Summary 提交问题
// @Description 未完成的问题达到上限时拒绝提交
// @Tags 问题反馈
// @Accept multipart/form-data
// @Produce json
// @Param description formData string true "问题描述"
// @Param attachment formData file false "PDF/JPG/PNG附件"
// @Success 201 {object} response.Response{data=database.IssueReport}
// @Failure 400 {object} response.Response
// @Failure 429 {object} response.Response "未完成问题已达上限"
// @Router /issues [post]
func (h *IssueHandler) Submit(c *gin.Context) {
	var att *issue.Attachment
	fh, err := c.FormFile("attachment")
	switch {
	case err == nil:
		att = &issue.Attachment{
			Name: fh.Filename,
			Size: fh.Size,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// 无附件
	default:
		response.FromError(c, apperrors.Wrap(apperrors.ErrInvalidParams, "Invalid form data.", err))
		return
	}

	report, err := h.issueService.Submit(c.Request.Context(), actor(c), c.PostForm("description"), att)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, "Issue submitted successfully. Issue ID: "+report.IssueID, report)
}

// Gate 当前用户能否提交新问题
func (h *IssueHandler) Gate(c *gin.Context) {
	gate, err := h.issueService.CheckGate(actor(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gate)
}

// Mine 我的问题
// @Summary 我的问题
// @Tags 问题反馈
// @Produce json
// @Success 200 {object} response.Response{data=[]database.IssueReport}
// @Router /issues/mine [get]
func (h *IssueHandler) Mine(c *gin.Context) {
	reports, err := h.issueService.ListMine(actor(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, reports)
}

// List 管理员查看全部问题
// @Summary 全部问题
// @Tags 问题反馈
// @Produce json
// @Param status query string false "open, accepted, rejected 或 completed"
// @Param page query int false "页码（默认1）"
// @Param page_size query int false "每页数量（默认20，最大100）"
// @Success 200 {object} response.Response{data=response.PageData{list=[]database.IssueReport}}
// @Router /admin/issues [get]
func (h *IssueHandler) List(c *gin.Context) {
	page, pageSize := parsePage(c)
	reports, total, err := h.issueService.ListAll(c.Query("status"), page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithPage(c, reports, total, page, pageSize)
}

// UpdateStatus 管理员更新问题状态
// @Summary 更新问题状态
// @Tags 问题反馈
// @Accept json
// @Produce json
// @Param issue_id path string true "问题编号"
// @Param body body issue.StatusRequest true "状态与备注"
// @Success 200 {object} response.Response{data=database.IssueReport}
// @Router /admin/issues/{issue_id} [put]
func (h *IssueHandler) UpdateStatus(c *gin.Context) {
	var req issue.StatusRequest
	if !bindJSON(c, &req) {
		return
	}
	report, err := h.issueService.UpdateStatus(actor(c), c.Param("issue_id"), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Issue updated successfully.", report)
}

// Delete 管理员删除问题
func (h *IssueHandler) Delete(c *gin.Context) {
	if err := h.issueService.Delete(actor(c), c.Param("issue_id")); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Issue deleted successfully.", nil)
}
