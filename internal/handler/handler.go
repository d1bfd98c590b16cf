// Package handler 提供HTTP处理器
// 处理器只负责参数绑定和响应转换，业务规则全部在service层
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/middleware"
	"github.com/weiwangfds/medcap/internal/response"
)

// actor 当前登录用户ID，路由均已挂载认证中间件
func actor(c *gin.Context) uint {
	id, _ := middleware.CurrentUserID(c)
	return id
}

// parseID 解析路径中的数字ID
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.FromError(c, apperrors.Newf(apperrors.ErrInvalidParams, "Invalid %s.", name))
		return 0, false
	}
	return uint(id), true
}

// parseKind 解析路径中的资产类型
func parseKind(c *gin.Context) (database.AssetKind, bool) {
	kind := database.AssetKind(c.Param("kind"))
	if !kind.Valid() {
		response.FromError(c, apperrors.Newf(apperrors.ErrUnsupportedKind, "Unsupported record type '%s'.", kind))
		return "", false
	}
	return kind, true
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// parsePage 解析分页参数，非法值回退到默认值，每页数量不超过maxPageSize
func parsePage(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// bindJSON 绑定请求体，校验失败时返回第一条字段错误
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.FromError(c, apperrors.New(apperrors.ErrInvalidParams, bindMessage(err)))
		return false
	}
	return true
}

func bindMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required.", fe.Field())
		case "email":
			return "Enter a valid email address."
		case "phone":
			return "Enter a valid phone number."
		case "oneof":
			return fmt.Sprintf("%s must be one of: %s.", fe.Field(), fe.Param())
		case "min", "max":
			return fmt.Sprintf("%s must satisfy %s=%s.", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s is invalid.", fe.Field())
	}
	return "Invalid request body."
}

// setAttachment 以附件形式下载，文件名同时写入RFC 5987格式
func setAttachment(c *gin.Context, filename, contentType string) {
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		filename, url.PathEscape(filename)))
	c.Status(http.StatusOK)
}
