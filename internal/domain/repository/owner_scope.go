// Package repository 定义数据访问层接口
package repository

import "context"

// OwnerScope 数据归属上下文（用于 PostgreSQL 行级安全策略）
type OwnerScope interface {
	// WithOwner 在事务内设置当前用户后执行操作
	WithOwner(ctx context.Context, userID string, fn func(ctx context.Context) error) error
}
