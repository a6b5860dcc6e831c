// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"articleforge-api/internal/interfaces/http/dto"
	redisinfra "articleforge-api/internal/infrastructure/persistence/redis"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// Enabled 是否启用限流
	Enabled bool
	// RequestsPerWindow 窗口内允许的请求数
	RequestsPerWindow int
	// Window 滑动窗口长度
	Window time.Duration
}

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (redisinfra.Decision, error)
}

// RateLimit 按用户的滑动窗口限流，需放在 Auth 之后
func RateLimit(cfg RateLimitConfig, limiter RateLimiter) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return func(c *gin.Context) {
		subject := GetUserID(c)
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}
		key := redisinfra.BuildUserRateLimitKey(subject, "api")

		decision, err := limiter.Allow(c.Request.Context(), key, cfg.RequestsPerWindow, cfg.Window)
		if err != nil {
			// 限流器故障时放行
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
		if !decision.Allowed {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
			dto.Fail(c, apperrors.ErrTooManyRequests)
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Next()
	}
}
