// Package middleware 提供 HTTP 中间件
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"articleforge-api/internal/interfaces/http/dto"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
)

// Recovery Panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					fmt.Errorf("%v", err),
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				// 流式响应已写出头部时无法再返回 JSON
				if c.Writer.Written() {
					c.Abort()
					return
				}
				c.AbortWithStatusJSON(500, dto.NewErrorResponse(c, apperrors.ErrInternalError))
			}
		}()

		c.Next()
	}
}
