package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/weiwangfds/medcap/internal/database"
	"github.com/weiwangfds/medcap/internal/response"
	"github.com/weiwangfds/medcap/internal/service/user"
)

// UserHandler 管理员用户审批
type UserHandler struct {
	userService user.UserService
}

// NewUserHandler 创建用户管理处理器
func NewUserHandler(userService user.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// List 用户列表
// @Summary 用户列表
// @Tags 用户管理
// @Produce json
// @Param approved query bool false "按审批状态过滤"
// @Param page query int false "页码（默认1）"
// @Param page_size query int false "每页数量（默认20，最大100）"
// @Success 200 {object} response.Response{data=response.PageData{list=[]database.User}}
// @Router /admin/users [get]
func (h *UserHandler) List(c *gin.Context) {
	var approved *bool
	if raw := c.Query("approved"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			approved = &v
		}
	}
	page, pageSize := parsePage(c)
	users, total, err := h.userService.List(approved, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithPage(c, users, total, page, pageSize)
}

// Approve 审批通过
// @Summary 审批用户
// @Tags 用户管理
// @Param id path int true "用户ID"
// @Success 200 {object} response.Response{data=database.User}
// @Router /admin/users/{id}/approve [post]
func (h *UserHandler) Approve(c *gin.Context) {
	h.apply(c, h.userService.Approve, "User approved.")
}

// Disapprove 撤销审批
func (h *UserHandler) Disapprove(c *gin.Context) {
	h.apply(c, h.userService.Disapprove, "User disapproved.")
}

// Unblock 解除锁定
func (h *UserHandler) Unblock(c *gin.Context) {
	h.apply(c, h.userService.Unblock, "User unblocked.")
}

// ResetPassword 重置为默认密码
func (h *UserHandler) ResetPassword(c *gin.Context) {
	h.apply(c, h.userService.ResetPassword, "Password reset to the default password.")
}

func (h *UserHandler) apply(c *gin.Context, op func(adminID, userID uint) (*database.User, error), message string) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	u, err := op(actor(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, message, u)
}
