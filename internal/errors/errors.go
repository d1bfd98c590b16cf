package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/weiwangfds/medcap/internal/i18n"
)

// ErrorCode 错误码类型
type ErrorCode int

// 定义错误码常量
const (
	// 通用错误码 (1000-1999)
	ErrSuccess         ErrorCode = 0    // 成功
	ErrInternalServer  ErrorCode = 1000 // 服务器内部错误
	ErrInvalidParams   ErrorCode = 1001 // 参数错误
	ErrUnauthorized    ErrorCode = 1002 // 未授权
	ErrForbidden       ErrorCode = 1003 // 禁止访问
	ErrNotFound        ErrorCode = 1004 // 资源未找到
	ErrConflict        ErrorCode = 1005 // 资源冲突
	ErrTooManyRequests ErrorCode = 1006 // 请求过于频繁

	// 文件/上传相关错误码 (2000-2999)
	ErrFileNotFound       ErrorCode = 2000 // 文件未找到
	ErrFileUploadFailed   ErrorCode = 2001 // 文件上传失败
	ErrFileReadFailed     ErrorCode = 2002 // 文件读取失败
	ErrFileSizeTooLarge   ErrorCode = 2003 // 文件大小超限
	ErrFileTypeNotAllowed ErrorCode = 2004 // 文件类型不允许
	ErrNoFileUploaded     ErrorCode = 2005 // 未上传文件

	// 存储后端错误码 (3000-3999)
	ErrStorageConfigInvalid        ErrorCode = 3000 // 存储配置无效
	ErrStorageConnection           ErrorCode = 3001 // 存储连接失败
	ErrStorageWrite                ErrorCode = 3002 // 写入失败
	ErrStorageRead                 ErrorCode = 3003 // 读取失败
	ErrStorageDelete               ErrorCode = 3004 // 删除失败
	ErrStorageMove                 ErrorCode = 3005 // 移动失败
	ErrStorageProviderNotSupported ErrorCode = 3006 // 存储提供商不支持

	// 数据库相关错误码 (4000-4999)
	ErrDatabaseConnection  ErrorCode = 4000 // 数据库连接错误
	ErrDatabaseQuery       ErrorCode = 4001 // 数据库查询错误
	ErrDatabaseInsert      ErrorCode = 4002 // 数据库插入错误
	ErrDatabaseUpdate      ErrorCode = 4003 // 数据库更新错误
	ErrDatabaseTransaction ErrorCode = 4005 // 数据库事务错误
	ErrRecordNotFound      ErrorCode = 4006 // 记录未找到
	ErrRecordAlreadyExists ErrorCode = 4007 // 记录已存在

	// 业务规则错误码 (5000-5999)
	ErrInvalidUHID          ErrorCode = 5000 // UHID非法
	ErrTagRequired          ErrorCode = 5001 // 未选择标签
	ErrInvalidTag           ErrorCode = 5002 // 标签无效或已停用
	ErrPatientNotFound      ErrorCode = 5003 // 病人未登记
	ErrNotDeleted           ErrorCode = 5004 // 记录未被删除，无法恢复
	ErrPendingIssueLimit    ErrorCode = 5005 // 未完成问题数已达上限
	ErrInvalidCredentials   ErrorCode = 5006 // 账号或密码错误
	ErrAccountLocked        ErrorCode = 5007 // 账号已锁定
	ErrApprovalPending      ErrorCode = 5008 // 账号待审批
	ErrSpreadsheetMalformed ErrorCode = 5009 // 表格格式错误
	ErrIssueIDExhausted     ErrorCode = 5010 // 问题编号生成失败
	ErrUnsupportedKind      ErrorCode = 5011 // 不支持的记录类型
)

// AppError 应用错误结构体
// @Description 应用程序统一错误格式
type AppError struct {
	// 错误码
	Code ErrorCode `json:"code"`
	// 错误消息，可直接展示给用户
	Message string `json:"message"`
	// 详细错误信息
	Details string `json:"details,omitempty"`
	// 原始错误
	OriginalError error `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误，便于errors.Is/As判断
func (e *AppError) Unwrap() error {
	return e.OriginalError
}

// WithDetails 添加详细错误信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithOriginalError 添加原始错误
func (e *AppError) WithOriginalError(err error) *AppError {
	e.OriginalError = err
	if e.Details == "" && err != nil {
		e.Details = err.Error()
	}
	return e
}

// New 创建新的应用错误
// 参数:
//   - code: 错误码
//   - message: 展示给调用方的消息，为空时使用错误码的默认消息
func New(code ErrorCode, message string) *AppError {
	if message == "" {
		message = GetErrorMessage(code)
	}
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf 使用格式化消息创建应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装原始错误
// 参数:
//   - code: 错误码
//   - message: 错误消息
//   - err: 原始错误
func Wrap(code ErrorCode, message string, err error) *AppError {
	appErr := New(code, message)
	appErr.OriginalError = err
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

// Internal 包装非预期错误，对外只暴露通用提示
func Internal(err error) *AppError {
	return Wrap(ErrInternalServer, GetErrorMessage(ErrInternalServer), err)
}

// IsAppError 判断是否为应用错误
func IsAppError(err error) bool {
	_, ok := GetAppError(err)
	return ok
}

// GetAppError 获取应用错误
// 返回:
//   - *AppError: 错误链中的第一个应用错误
//   - bool: 是否找到
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode 判断错误链中是否存在指定错误码的应用错误
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := GetAppError(err)
	return ok && appErr.Code == code
}

// HTTPStatus 根据错误码推导HTTP状态码
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrInvalidParams, ErrFileSizeTooLarge, ErrFileTypeNotAllowed, ErrNoFileUploaded,
		ErrInvalidUHID, ErrTagRequired, ErrInvalidTag, ErrNotDeleted, ErrSpreadsheetMalformed,
		ErrUnsupportedKind:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidCredentials:
		return http.StatusUnauthorized
	case ErrForbidden, ErrAccountLocked, ErrApprovalPending:
		return http.StatusForbidden
	case ErrNotFound, ErrFileNotFound, ErrRecordNotFound, ErrPatientNotFound:
		return http.StatusNotFound
	case ErrConflict, ErrRecordAlreadyExists:
		return http.StatusConflict
	case ErrTooManyRequests, ErrPendingIssueLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// 错误码到i18n键的映射
var errorCodeToKeyMap = map[ErrorCode]string{
	ErrSuccess:         "success",
	ErrInternalServer:  "internal_server_error",
	ErrInvalidParams:   "invalid_params",
	ErrUnauthorized:    "unauthorized",
	ErrForbidden:       "forbidden",
	ErrNotFound:        "not_found",
	ErrConflict:        "conflict",
	ErrTooManyRequests: "too_many_requests",

	ErrFileNotFound:       "file_not_found",
	ErrFileUploadFailed:   "file_upload_failed",
	ErrFileReadFailed:     "file_read_failed",
	ErrFileSizeTooLarge:   "file_size_too_large",
	ErrFileTypeNotAllowed: "file_type_not_allowed",
	ErrNoFileUploaded:     "no_file_uploaded",

	ErrStorageConfigInvalid:        "storage_config_invalid",
	ErrStorageConnection:           "storage_connection_failed",
	ErrStorageWrite:                "storage_write_failed",
	ErrStorageRead:                 "storage_read_failed",
	ErrStorageDelete:               "storage_delete_failed",
	ErrStorageMove:                 "storage_move_failed",
	ErrStorageProviderNotSupported: "storage_provider_not_supported",

	ErrDatabaseConnection:  "database_connection",
	ErrDatabaseQuery:       "database_query",
	ErrDatabaseInsert:      "database_insert",
	ErrDatabaseUpdate:      "database_update",
	ErrDatabaseTransaction: "database_transaction",
	ErrRecordNotFound:      "record_not_found",
	ErrRecordAlreadyExists: "record_already_exists",

	ErrInvalidUHID:          "invalid_uhid",
	ErrTagRequired:          "tag_required",
	ErrInvalidTag:           "invalid_tag",
	ErrPatientNotFound:      "patient_not_found",
	ErrNotDeleted:           "not_deleted",
	ErrPendingIssueLimit:    "pending_issue_limit",
	ErrInvalidCredentials:   "invalid_credentials",
	ErrAccountLocked:        "account_locked",
	ErrApprovalPending:      "approval_pending",
	ErrSpreadsheetMalformed: "spreadsheet_malformed",
	ErrIssueIDExhausted:     "issue_id_exhausted",
	ErrUnsupportedKind:      "unsupported_kind",
}

// GetErrorMessage 根据错误码获取错误消息（使用默认语言）
func GetErrorMessage(code ErrorCode) string {
	return GetErrorMessageWithLang(code, i18n.GetInstance().GetDefaultLanguage())
}

// GetErrorMessageWithLang 根据错误码和语言获取错误消息
// 参数:
//   - code: 错误码
//   - lang: 语言代码，如en-US、hi-IN
func GetErrorMessageWithLang(code ErrorCode, lang string) string {
	key, exists := errorCodeToKeyMap[code]
	if !exists {
		key = "unknown_error"
	}
	return i18n.GetInstance().Translate(key, lang)
}
