// Package middleware 提供 HTTP 中间件
package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"articleforge-api/pkg/logger"
)

// AccessLog 请求日志中间件，skipPaths 按前缀匹配
func AccessLog(skipPaths ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range skipPaths {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				c.Next()
				return
			}
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
			"body_size", c.Writer.Size(),
		}
		switch {
		case status >= 500:
			logger.Warn(c.Request.Context(), "api request failed", fields...)
		default:
			logger.Info(c.Request.Context(), "api request", fields...)
		}
	}
}
