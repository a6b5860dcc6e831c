// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	CodeSuccess ErrorCode = "0"

	// 输入错误 (400x)
	CodeInvalidInput         ErrorCode = "4000"
	CodeMissingRequiredField ErrorCode = "4002"
	CodeInvalidStage         ErrorCode = "4003"

	// 认证授权 (401x/403x)
	CodeUnauthorized ErrorCode = "4010"
	CodeTokenExpired ErrorCode = "4011"
	CodeTokenInvalid ErrorCode = "4012"
	CodeTokenMissing ErrorCode = "4013"
	CodeForbidden    ErrorCode = "4030"

	// 计费 (402x)
	CodeInsufficientCredits ErrorCode = "4020"

	// 资源 (404x)
	CodeNotFound           ErrorCode = "4040"
	CodeArticleNotFound    ErrorCode = "4041"
	CodeConnectionNotFound ErrorCode = "4042"
	CodeSessionNotFound    ErrorCode = "4043"

	// 状态机 (409x)
	CodeAlreadyGenerating ErrorCode = "4090"
	CodeInvalidTransition ErrorCode = "4091"
	CodeConflict          ErrorCode = "4092"

	// 限流 (429x)
	CodeRateLimited     ErrorCode = "4290"
	CodeTooManyRequests ErrorCode = "4291"

	// 部分失败，仅用于事件流与日志，不作为 HTTP 错误返回
	CodePartialSectionFailure ErrorCode = "2070"

	// 内部与上游错误 (5xxx)
	CodeInternalError       ErrorCode = "5000"
	CodeDatabaseError       ErrorCode = "5001"
	CodeCacheError          ErrorCode = "5002"
	CodeProviderUnavailable ErrorCode = "5020"
	CodeEmptyResponse       ErrorCode = "5021"
	CodePublishFailed       ErrorCode = "5022"
	CodeProviderRejected    ErrorCode = "5023"
	CodeServiceUnavailable  ErrorCode = "5030"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，使 errors.Is(err, ErrInsufficientCredits) 在包装后仍然成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail 返回带详细信息的副本
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 返回带底层错误的副本
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess, CodePartialSectionFailure:
		return http.StatusOK
	case CodeInvalidInput, CodeMissingRequiredField, CodeInvalidStage:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeTokenExpired, CodeTokenInvalid, CodeTokenMissing:
		return http.StatusUnauthorized
	case CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeArticleNotFound, CodeConnectionNotFound, CodeSessionNotFound:
		return http.StatusNotFound
	case CodeAlreadyGenerating, CodeInvalidTransition, CodeConflict:
		return http.StatusConflict
	case CodeRateLimited, CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeProviderUnavailable, CodeEmptyResponse, CodePublishFailed:
		return http.StatusBadGateway
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidInput         = New(CodeInvalidInput, "invalid input")
	ErrMissingRequiredField = New(CodeMissingRequiredField, "missing required field")
	ErrInvalidStage         = New(CodeInvalidStage, "invalid generation stage")

	ErrUnauthorized = New(CodeUnauthorized, "unauthorized")
	ErrTokenExpired = New(CodeTokenExpired, "token expired")
	ErrTokenInvalid = New(CodeTokenInvalid, "token invalid")
	ErrTokenMissing = New(CodeTokenMissing, "token missing")
	ErrForbidden    = New(CodeForbidden, "forbidden")

	ErrInsufficientCredits = New(CodeInsufficientCredits, "insufficient credits")

	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrArticleNotFound    = New(CodeArticleNotFound, "article not found")
	ErrConnectionNotFound = New(CodeConnectionNotFound, "cms connection not found")
	ErrSessionNotFound    = New(CodeSessionNotFound, "generation session not found")

	ErrAlreadyGenerating = New(CodeAlreadyGenerating, "a generation is already running for this session")
	ErrInvalidTransition = New(CodeInvalidTransition, "operation not allowed in the current generation stage")
	ErrConflict          = New(CodeConflict, "resource conflict")

	ErrRateLimited     = New(CodeRateLimited, "the AI provider is rate limiting requests, please try again later")
	ErrTooManyRequests = New(CodeTooManyRequests, "too many requests")

	ErrPartialSectionFailure = New(CodePartialSectionFailure, "some sections could not be enhanced")

	ErrInternalError       = New(CodeInternalError, "internal error")
	ErrDatabaseError       = New(CodeDatabaseError, "database error")
	ErrProviderUnavailable = New(CodeProviderUnavailable, "the upstream provider is unavailable, please retry")
	ErrEmptyResponse       = New(CodeEmptyResponse, "the AI provider returned an empty response")
	ErrPublishFailed       = New(CodePublishFailed, "publishing to the CMS failed")
	ErrProviderRejected    = New(CodeProviderRejected, "the AI provider rejected the request")
	ErrServiceUnavailable  = New(CodeServiceUnavailable, "service unavailable")
)

// IsAppError 检查错误链上是否存在 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError，未知错误归为内部错误
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeInternalError, "internal error")
}

// Is 透传标准库 errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
