// Package postgres 提供 PostgreSQL 数据库访问层实现
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// OwnerScope 用户归属上下文，为行级安全策略设置 app.current_user_id
type OwnerScope struct {
	client *Client
	tx     *TxManager
}

// NewOwnerScope 创建归属上下文管理器
func NewOwnerScope(client *Client, tx *TxManager) *OwnerScope {
	return &OwnerScope{client: client, tx: tx}
}

// WithOwner 在事务内设置当前用户并执行操作；set_config 的第三个参数为 true，作用域限于本事务
func (s *OwnerScope) WithOwner(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		db := getDB(txCtx, s.client.db)
		if err := db.Exec("SELECT set_config('app.current_user_id', ?, TRUE)", userID).Error; err != nil {
			return fmt.Errorf("failed to set owner context: %w", err)
		}
		return fn(txCtx)
	})
}

// CurrentOwner 读取当前事务中的用户 ID
func (s *OwnerScope) CurrentOwner(ctx context.Context) (string, error) {
	db := getDB(ctx, s.client.db)
	var userID sql.NullString
	if err := db.Raw("SELECT current_setting('app.current_user_id', TRUE)").Scan(&userID).Error; err != nil {
		return "", fmt.Errorf("failed to get owner context: %w", err)
	}
	return userID.String, nil
}
