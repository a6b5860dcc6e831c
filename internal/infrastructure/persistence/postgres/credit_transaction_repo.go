// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/domain/repository"
)

// CreditTransactionRepository 积分流水仓储实现
type CreditTransactionRepository struct {
	client *Client
}

// NewCreditTransactionRepository 创建积分流水仓储
func NewCreditTransactionRepository(client *Client) *CreditTransactionRepository {
	return &CreditTransactionRepository{client: client}
}

// Append 追加流水
func (r *CreditTransactionRepository) Append(ctx context.Context, tx *entity.CreditTransaction) error {
	ctx, span := tracer.Start(ctx, "postgres.CreditTransactionRepository.Append")
	defer span.End()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	db := getDB(ctx, r.client.db)
	if err := db.Create(tx).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append credit transaction: %w", err)
	}
	return nil
}

// ListByUser 分页获取用户流水
func (r *CreditTransactionRepository) ListByUser(ctx context.Context, userID string, pagination repository.Pagination) (*repository.PagedResult[*entity.CreditTransaction], error) {
	ctx, span := tracer.Start(ctx, "postgres.CreditTransactionRepository.ListByUser")
	defer span.End()

	query := getDB(ctx, r.client.db).Model(&entity.CreditTransaction{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count credit transactions: %w", err)
	}

	var txs []*entity.CreditTransaction
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&txs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	return repository.NewPagedResult(txs, total, pagination), nil
}
