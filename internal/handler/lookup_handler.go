package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/middleware"
	"github.com/weiwangfds/medcap/internal/response"
	"github.com/weiwangfds/medcap/internal/service/lookup"
)

// LookupHandler 科室、职称和病区字典
type LookupHandler struct {
	lookupService lookup.LookupService
}

// NewLookupHandler 创建字典处理器
func NewLookupHandler(lookupService lookup.LookupService) *LookupHandler {
	return &LookupHandler{lookupService: lookupService}
}

func lookupKind(c *gin.Context) (string, bool) {
	kind := c.Param("kind")
	if !lookup.ValidKind(kind) {
		response.FromError(c, apperrors.Newf(apperrors.ErrUnsupportedKind, "Unknown lookup '%s'.", kind))
		return "", false
	}
	return kind, true
}

// List 字典列表
// @Summary 字典列表
// @Description 注册页使用的启用项；管理员可传all=true查看全部
// @Tags 字典
// @Produce json
// @Param kind path string true "department, designation 或 ward"
// @Param all query bool false "包含停用项"
// @Success 200 {object} response.Response{data=[]database.Lookup}
// @Router /lookups/{kind} [get]
func (h *LookupHandler) List(c *gin.Context) {
	kind, ok := lookupKind(c)
	if !ok {
		return
	}
	all, _ := strconv.ParseBool(c.Query("all"))
	items, err := h.lookupService.List(kind, !(all && middleware.IsAdmin(c)))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, items)
}

// Create 新建字典项
func (h *LookupHandler) Create(c *gin.Context) {
	kind, ok := lookupKind(c)
	if !ok {
		return
	}
	var req lookup.CreateLookupRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := h.lookupService.Create(actor(c), kind, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, "Created successfully.", item)
}

// Deactivate 停用字典项
func (h *LookupHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

// Restore 恢复字典项
func (h *LookupHandler) Restore(c *gin.Context) {
	h.setActive(c, true)
}

func (h *LookupHandler) setActive(c *gin.Context, active bool) {
	kind, ok := lookupKind(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var err error
	if active {
		err = h.lookupService.Restore(kind, id)
	} else {
		err = h.lookupService.Deactivate(kind, id)
	}
	if err != nil {
		response.FromError(c, err)
		return
	}
	if active {
		response.SuccessWithMessage(c, "Restored.", nil)
		return
	}
	response.SuccessWithMessage(c, "Deactivated.", nil)
}
