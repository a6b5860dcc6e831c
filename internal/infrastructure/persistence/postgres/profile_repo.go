// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"articleforge-api/internal/domain/entity"
)

// ProfileRepository 用户资料仓储实现
type ProfileRepository struct {
	client *Client
}

// NewProfileRepository 创建用户资料仓储
func NewProfileRepository(client *Client) *ProfileRepository {
	return &ProfileRepository{client: client}
}

// GetByUserID 获取用户资料
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID string) (*entity.Profile, error) {
	ctx, span := tracer.Start(ctx, "postgres.ProfileRepository.GetByUserID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var profile entity.Profile
	if err := db.First(&profile, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

// EnsureCreated 不存在时创建资料
func (r *ProfileRepository) EnsureCreated(ctx context.Context, profile *entity.Profile) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.ProfileRepository.EnsureCreated")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(profile)
	if res.Error != nil {
		span.RecordError(res.Error)
		return false, fmt.Errorf("failed to create profile: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// TryDebit 单条条件 UPDATE 完成检查与扣减，并发请求由行锁串行化
func (r *ProfileRepository) TryDebit(ctx context.Context, userID string, amount int) (int, bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.ProfileRepository.TryDebit")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var balance int
	res := db.Raw(
		`UPDATE profiles SET credits = credits - ?, updated_at = NOW()
		 WHERE user_id = ? AND credits >= ?
		 RETURNING credits`,
		amount, userID, amount,
	).Scan(&balance)
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, false, fmt.Errorf("failed to debit credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, false, nil
	}
	return balance, true, nil
}

// Credit 增加余额
func (r *ProfileRepository) Credit(ctx context.Context, userID string, amount int) (int, error) {
	ctx, span := tracer.Start(ctx, "postgres.ProfileRepository.Credit")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var balance int
	res := db.Raw(
		`UPDATE profiles SET credits = credits + ?, updated_at = NOW()
		 WHERE user_id = ?
		 RETURNING credits`,
		amount, userID,
	).Scan(&balance)
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, fmt.Errorf("failed to credit balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("profile %s not found", userID)
	}
	return balance, nil
}
