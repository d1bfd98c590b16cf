package handler

import (
	"io"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/response"
	"github.com/weiwangfds/medcap/internal/service/lifecycle"
)

// AssetHandler 记录下载、软删除、恢复和摘要重新生成
type AssetHandler struct {
	lifecycleService lifecycle.LifecycleService
}

// NewAssetHandler 创建记录处理器
func NewAssetHandler(lifecycleService lifecycle.LifecycleService) *AssetHandler {
	return &AssetHandler{lifecycleService: lifecycleService}
}

// Download 下载记录对应的文件
// @Summary 下载文件
// @Tags 记录
// @Produce application/octet-stream
// @Param kind path string true "记录类型"
// @Param id path int true "记录ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Response
// @Router /assets/{kind}/{id}/download [get]
func (h *AssetHandler) Download(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	asset, rc, err := h.lifecycleService.Open(c.Request.Context(), kind, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	defer rc.Close()

	contentType := asset.FileType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	setAttachment(c, path.Base(asset.FilePath), contentType)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		logger.WithFields(map[string]interface{}{"kind": kind, "id": id}).Warnf("下载中断: %v", err)
	}
}

// Delete 软删除
// @Summary 删除记录
// @Description 图片的派生PDF一并删除；已删除的记录返回changed=false
// @Tags 记录
// @Produce json
// @Param kind path string true "记录类型"
// @Param id path int true "记录ID"
// @Success 200 {object} response.Response{data=lifecycle.Result}
// @Failure 404 {object} response.Response
// @Router /assets/{kind}/{id} [delete]
func (h *AssetHandler) Delete(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	result, err := h.lifecycleService.Delete(c.Request.Context(), actor(c), kind, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, result.Message, result)
}

// Restore 恢复
// @Summary 恢复记录
// @Tags 记录
// @Produce json
// @Param kind path string true "记录类型"
// @Param id path int true "记录ID"
// @Success 200 {object} response.Response{data=lifecycle.Result}
// @Failure 400 {object} response.Response "记录未被删除"
// @Router /assets/{kind}/{id}/restore [post]
func (h *AssetHandler) Restore(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	result, err := h.lifecycleService.Restore(c.Request.Context(), actor(c), kind, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, result.Message, result)
}

// ListDeleted 当前用户删除的记录
// @Summary 已删除记录
// @Tags 记录
// @Produce json
// @Param uhid query string false "按UHID过滤"
// @Success 200 {object} response.Response{data=[]lifecycle.AssetView}
// @Router /assets/deleted [get]
func (h *AssetHandler) ListDeleted(c *gin.Context) {
	var uhid *int32
	if raw := c.Query("uhid"); raw != "" {
		v, ok := parseUHID(c, raw)
		if !ok {
			return
		}
		uhid = &v
	}
	views, err := h.lifecycleService.ListDeleted(actor(c), uhid)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, views)
}

// Derive 管理员重新生成图片的PDF摘要
func (h *AssetHandler) Derive(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	doc, err := h.lifecycleService.Regenerate(c.Request.Context(), actor(c), kind, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, "Summary regenerated successfully.", doc)
}
