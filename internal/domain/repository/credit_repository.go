// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"articleforge-api/internal/domain/entity"
)

// ProfileRepository 用户资料与积分余额仓储接口
type ProfileRepository interface {
	// GetByUserID 获取用户资料，不存在时返回 nil, nil
	GetByUserID(ctx context.Context, userID string) (*entity.Profile, error)

	// EnsureCreated 不存在时创建资料，返回是否新建
	EnsureCreated(ctx context.Context, profile *entity.Profile) (bool, error)

	// TryDebit 条件扣减：仅当余额 >= amount 时原子扣减并返回新余额；余额不足时 ok=false 且不修改
	TryDebit(ctx context.Context, userID string, amount int) (balance int, ok bool, err error)

	// Credit 增加余额并返回新余额
	Credit(ctx context.Context, userID string, amount int) (int, error)
}

// CreditTransactionRepository 积分流水仓储接口
type CreditTransactionRepository interface {
	// Append 追加流水
	Append(ctx context.Context, tx *entity.CreditTransaction) error

	// ListByUser 按时间倒序分页获取用户流水
	ListByUser(ctx context.Context, userID string, pagination Pagination) (*PagedResult[*entity.CreditTransaction], error)
}
