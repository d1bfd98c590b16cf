package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/weiwangfds/medcap/internal/middleware"
	"github.com/weiwangfds/medcap/internal/response"
	"github.com/weiwangfds/medcap/internal/service/tag"
)

// TagHandler 标签处理器
// 处理所有标签相关的HTTP请求
type TagHandler struct {
	tagService tag.TagService
}

// NewTagHandler 创建标签处理器实例
// 参数:
//   tagService - 标签服务接口
// 返回:
//   *TagHandler - 标签处理器实例
func NewTagHandler(tagService tag.TagService) *TagHandler {
	return &TagHandler{
		tagService: tagService,
	}
}

// ListTags 获取标签列表
// @Summary 获取标签列表
// @Description 默认只返回启用的标签；管理员可通过include_deleted=true查看已停用标签
// @Tags 标签管理
// @Produce json
// @Param type query string false "标签类型: Universal, Geo-Pic, File Only"
// @Param include_deleted query bool false "是否包含已停用标签"
// @Success 200 {object} response.Response{data=[]database.Tag} "获取成功"
// @Router /tags [get]
func (h *TagHandler) ListTags(c *gin.Context) {
	includeDeleted, _ := strconv.ParseBool(c.Query("include_deleted"))
	if !middleware.IsAdmin(c) {
		includeDeleted = false
	}

	tags, err := h.tagService.ListTags(c.Query("type"), includeDeleted)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, tags)
}

// CreateTag 创建标签
// @Summary 创建新标签
// @Description 名称、缩写以及由名称推导的value都必须唯一
// @Tags 标签管理
// @Accept json
// @Produce json
// @Param tag body tag.CreateTagRequest true "创建标签请求"
// @Success 201 {object} response.Response{data=database.Tag} "创建成功"
// @Failure 400 {object} response.Response "请求参数错误"
// @Failure 409 {object} response.Response "标签已存在"
// @Router /tags [post]
func (h *TagHandler) CreateTag(c *gin.Context) {
	var req tag.CreateTagRequest
	if !bindJSON(c, &req) {
		return
	}

	createdTag, err := h.tagService.CreateTag(&req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, "Tag created successfully.", createdTag)
}

// UpdateTag 更新标签
// @Summary 更新标签信息
// @Tags 标签管理
// @Accept json
// @Produce json
// @Param id path int true "标签ID"
// @Param tag body tag.UpdateTagRequest true "更新标签请求"
// @Success 200 {object} response.Response{data=database.Tag} "更新成功"
// @Failure 404 {object} response.Response "标签不存在"
// @Failure 409 {object} response.Response "标签已存在"
// @Router /tags/{id} [put]
func (h *TagHandler) UpdateTag(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req tag.UpdateTagRequest
	if !bindJSON(c, &req) {
		return
	}

	updated, err := h.tagService.UpdateTag(id, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Tag updated successfully.", updated)
}

// DeactivateTag 停用标签
// @Summary 停用标签
// @Tags 标签管理
// @Param id path int true "标签ID"
// @Success 200 {object} response.Response
// @Router /tags/{id}/deactivate [post]
func (h *TagHandler) DeactivateTag(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.tagService.Deactivate(id); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Tag deactivated.", nil)
}

// RestoreTag 恢复标签
// @Summary 恢复已停用的标签
// @Tags 标签管理
// @Param id path int true "标签ID"
// @Success 200 {object} response.Response
// @Router /tags/{id}/restore [post]
func (h *TagHandler) RestoreTag(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.tagService.Restore(id); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Tag restored.", nil)
}
