package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/i18n"
	"github.com/weiwangfds/medcap/internal/logger"
)

// Response 统一返回值结构体
// @Description API统一响应格式
type Response struct {
	// 状态码，0表示成功，非0表示失败
	Code int `json:"code" example:"0"`
	// 响应消息
	Message string `json:"message" example:"success"`
	// 响应数据
	Data interface{} `json:"data,omitempty"`
	// 请求ID，用于链路追踪
	RequestID string `json:"request_id,omitempty" example:"req_123456789"`
	// 时间戳
	Timestamp int64 `json:"timestamp" example:"1640995200"`
}

// PageData 分页数据结构体
// @Description 分页响应数据格式
type PageData struct {
	// 数据列表
	List interface{} `json:"list"`
	// 总数
	Total int64 `json:"total" example:"100"`
	// 当前页码
	Page int `json:"page" example:"1"`
	// 每页大小
	PageSize int `json:"page_size" example:"10"`
	// 总页数
	TotalPages int `json:"total_pages" example:"10"`
}

// Success 成功响应
// @Summary 返回成功响应
// @Description 返回成功的API响应
// @Param c gin上下文
// @Param data 响应数据
func Success(c *gin.Context, data interface{}) {
	response := Response{
		Code:      0,
		Message:   "success",
		Data:      data,
		RequestID: getRequestID(c),
		Timestamp: getCurrentTimestamp(),
	}
	c.JSON(http.StatusOK, response)
}

// SuccessWithMessage 带消息的成功响应
// @Summary 返回带自定义消息的成功响应
// @Description 返回带自定义消息的成功API响应
// @Param c gin上下文
// @Param message 自定义消息
// @Param data 响应数据
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	response := Response{
		Code:      0,
		Message:   message,
		Data:      data,
		RequestID: getRequestID(c),
		Timestamp: getCurrentTimestamp(),
	}
	c.JSON(http.StatusOK, response)
}

// Created 201创建成功响应
func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:      0,
		Message:   message,
		RequestID: getRequestID(c),
		Timestamp: getCurrentTimestamp(),
	})
}

// SuccessWithPage 分页成功响应
// @Summary 返回分页成功响应
// @Description 返回分页数据的成功API响应
// @Param c gin上下文
// @Param list 数据列表
// @Param total 总数
// @Param page 当前页码
// @Param pageSize 每页大小
func SuccessWithPage(c *gin.Context, list interface{}, total int64, page, pageSize int) {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	pageData := PageData{
		List:       list,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}

	response := Response{
		Code:      0,
		Message:   "success",
		Data:      pageData,
		RequestID: getRequestID(c),
		Timestamp: getCurrentTimestamp(),
	}
	c.JSON(http.StatusOK, response)
}

// FromError 将服务层错误转换为响应
// 应用错误按错误码映射HTTP状态并返回其消息；其他错误记录日志后返回通用提示
func FromError(c *gin.Context, err error) {
	appErr, ok := apperrors.GetAppError(err)
	if !ok {
		appErr = apperrors.Internal(err)
	}

	message := appErr.Message
	if appErr.Code == apperrors.ErrInternalServer {
		logger.WithField("trace_id", getRequestID(c)).Errorf("internal error: %v", appErr.Details)
		lang := i18n.GetInstance().Negotiate(c.GetHeader("Accept-Language"))
		message = apperrors.GetErrorMessageWithLang(appErr.Code, lang)
	}

	c.JSON(apperrors.HTTPStatus(appErr.Code), Response{
		Code:      int(appErr.Code),
		Message:   message,
		RequestID: getRequestID(c),
		Timestamp: getCurrentTimestamp(),
	})
}

// Unauthorized 401错误响应
// @Summary 返回401错误响应
// @Description 返回未授权的API响应
// @Param c gin上下文
// @Param message 错误消息
func Unauthorized(c *gin.Context, message string) {
	response := Response{
		Code:      401,
		Message:   message,
		RequestID: getRequestID(c),
		Timestamp: getCurrentTimestamp(),
	}
	c.JSON(http.StatusUnauthorized, response)
}

// Forbidden 403错误响应
// @Summary 返回403错误响应
// @Description 返回禁止访问的API响应
// @Param c gin上下文
// @Param message 错误消息
func Forbidden(c *gin.Context, message string) {
	response := Response{
		Code:      403,
		Message:   message,
		RequestID: getRequestID(c),
		Timestamp: getCurrentTimestamp(),
	}
	c.JSON(http.StatusForbidden, response)
}

// getRequestID 获取请求ID
// @Description 从gin上下文中获取请求ID，用于链路追踪
// @Param c gin上下文
// @Return 请求ID字符串
func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("trace_id"); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

// getCurrentTimestamp 获取当前Unix时间戳
func getCurrentTimestamp() int64 {
	return nowFunc().Unix()
}

// nowFunc 当前时间，测试中可替换
var nowFunc = time.Now
