// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"articleforge-api/internal/interfaces/http/dto"
	"articleforge-api/internal/interfaces/http/middleware"
	apperrors "articleforge-api/pkg/errors"
)

// SessionIDHeader 流式接口通过该响应头返回会话 ID
const SessionIDHeader = "X-Session-ID"

// bindJSON 绑定请求体，失败时写出 400 并返回 false
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		dto.Fail(c, apperrors.ErrInvalidInput.WithDetail("invalid request body: "+err.Error()))
		return false
	}
	return true
}

// currentUser 读取认证中间件注入的用户 ID
func currentUser(c *gin.Context) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		dto.Fail(c, apperrors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}
