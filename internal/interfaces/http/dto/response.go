// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
)

// Response 统一响应结构
type Response[T any] struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Data    T         `json:"data,omitempty"`
	Meta    *PageMeta `json:"meta,omitempty"`
}

// PageMeta 分页元数据
type PageMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Success 返回成功响应
func Success[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, Response[T]{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithPage 返回带分页的成功响应
func SuccessWithPage[T any](c *gin.Context, data T, meta *PageMeta) {
	c.JSON(http.StatusOK, Response[T]{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
		Meta:    meta,
	})
}

// Created 返回创建成功响应 (201)
func Created[T any](c *gin.Context, data T) {
	c.JSON(http.StatusCreated, Response[T]{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

// Accepted 返回接受处理响应 (202)
func Accepted[T any](c *gin.Context, data T) {
	c.JSON(http.StatusAccepted, Response[T]{
		Code:    http.StatusAccepted,
		Message: "accepted",
		Data:    data,
	})
}

// NoContent 返回无内容响应 (204)
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// NewErrorResponse 由应用错误构造错误体
func NewErrorResponse(c *gin.Context, appErr *apperrors.AppError) ErrorResponse {
	return ErrorResponse{
		Error:   appErr.Message,
		Code:    string(appErr.Code),
		Detail:  appErr.Detail,
		TraceID: c.GetString("trace_id"),
	}
}

// Fail 把任意错误翻译为错误响应
//
// 未知错误统一返回 500 internal error，原始错误只进日志。
func Fail(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", err,
			"method", c.Request.Method, "path", c.FullPath(), "code", string(appErr.Code))
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, NewErrorResponse(c, appErr))
}

// BadRequest 返回 400 错误
func BadRequest(c *gin.Context, detail string) {
	Fail(c, apperrors.ErrInvalidInput.WithDetail(detail))
}

// NotFound 返回 404 错误
func NotFound(c *gin.Context, detail string) {
	Fail(c, apperrors.ErrNotFound.WithDetail(detail))
}

// NewPageMeta 创建分页元数据
func NewPageMeta(page, pageSize int, total int64) *PageMeta {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	return &PageMeta{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}
