// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"articleforge-api/internal/interfaces/http/dto"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/utils"
)

const (
	// ContextUserID Gin Context 中的用户 ID
	ContextUserID = "user_id"
	// ContextUserEmail Gin Context 中的邮箱
	ContextUserEmail = "user_email"
)

// AuthConfig 认证配置
type AuthConfig struct {
	// Enabled 是否启用认证；关闭时所有请求以 LocalUserID 身份执行，仅用于本地调试
	Enabled bool
	// LocalUserID 关闭认证时使用的用户 ID
	LocalUserID string
	// Secret JWT 密钥
	Secret string
	// Issuer JWT 签发者，为空时不校验
	Issuer string
	// Audience JWT 受众，为空时不校验
	Audience string
	// SkipPaths 跳过认证的路径前缀
	SkipPaths []string
}

// AccountProvisioner 首次访问时创建用户资料
type AccountProvisioner interface {
	EnsureAccount(ctx context.Context, userID, email string) error
}

// Auth 认证中间件
//
// 校验 Bearer Token，把 sub 作为用户 ID 注入 Gin 与日志上下文。accounts 非空时确保资料存在。
func Auth(cfg AuthConfig, accounts AccountProvisioner) gin.HandlerFunc {
	jwtManager := utils.NewJWTManager(cfg.Secret, cfg.Issuer, cfg.Audience)
	if cfg.LocalUserID == "" {
		cfg.LocalUserID = "local-user"
	}

	return func(c *gin.Context) {
		if !cfg.Enabled {
			setUser(c, accounts, cfg.LocalUserID, "")
			return
		}
		for _, path := range cfg.SkipPaths {
			if strings.HasPrefix(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			dto.Fail(c, apperrors.ErrTokenMissing)
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			dto.Fail(c, apperrors.ErrTokenInvalid.WithDetail("invalid authorization format"))
			return
		}

		claims, err := jwtManager.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, utils.ErrExpiredToken) {
				dto.Fail(c, apperrors.ErrTokenExpired)
				return
			}
			dto.Fail(c, apperrors.ErrTokenInvalid)
			return
		}

		setUser(c, accounts, claims.UserID(), claims.Email)
	}
}

func setUser(c *gin.Context, accounts AccountProvisioner, userID, email string) {
	c.Set(ContextUserID, userID)
	c.Set(ContextUserEmail, email)
	ctx := logger.WithContext(c.Request.Context(), logger.UserIDKey, userID)
	c.Request = c.Request.WithContext(ctx)

	if accounts != nil {
		if err := accounts.EnsureAccount(ctx, userID, email); err != nil {
			dto.Fail(c, err)
			return
		}
	}
	c.Next()
}

// GetUserID 从 Gin Context 中获取用户 ID
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// DefaultSkipPaths 默认跳过认证的路径
var DefaultSkipPaths = []string{
	"/health",
	"/ready",
	"/metrics",
}
