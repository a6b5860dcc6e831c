// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"articleforge-api/internal/domain/entity"
)

// CMSConnectionRepository CMS 连接仓储实现
type CMSConnectionRepository struct {
	client *Client
}

// NewCMSConnectionRepository 创建 CMS 连接仓储
func NewCMSConnectionRepository(client *Client) *CMSConnectionRepository {
	return &CMSConnectionRepository{client: client}
}

// Create 创建连接
func (r *CMSConnectionRepository) Create(ctx context.Context, conn *entity.CMSConnection) error {
	ctx, span := tracer.Start(ctx, "postgres.CMSConnectionRepository.Create")
	defer span.End()

	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if err := getDB(ctx, r.client.db).Create(conn).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create cms connection: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取连接
func (r *CMSConnectionRepository) GetByID(ctx context.Context, id string) (*entity.CMSConnection, error) {
	ctx, span := tracer.Start(ctx, "postgres.CMSConnectionRepository.GetByID")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	var conn entity.CMSConnection
	if err := getDB(ctx, r.client.db).First(&conn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get cms connection: %w", err)
	}
	return &conn, nil
}

// ListByUser 获取用户全部连接
func (r *CMSConnectionRepository) ListByUser(ctx context.Context, userID string) ([]*entity.CMSConnection, error) {
	ctx, span := tracer.Start(ctx, "postgres.CMSConnectionRepository.ListByUser")
	defer span.End()

	var conns []*entity.CMSConnection
	if err := getDB(ctx, r.client.db).Where("user_id = ?", userID).Order("created_at ASC").Find(&conns).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list cms connections: %w", err)
	}
	return conns, nil
}

// Update 更新连接
func (r *CMSConnectionRepository) Update(ctx context.Context, conn *entity.CMSConnection) error {
	ctx, span := tracer.Start(ctx, "postgres.CMSConnectionRepository.Update")
	defer span.End()

	conn.UpdatedAt = time.Now()
	if err := getDB(ctx, r.client.db).Save(conn).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update cms connection: %w", err)
	}
	return nil
}

// Delete 删除连接
func (r *CMSConnectionRepository) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.CMSConnectionRepository.Delete")
	defer span.End()

	if err := getDB(ctx, r.client.db).Delete(&entity.CMSConnection{}, "id = ?", id).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete cms connection: %w", err)
	}
	return nil
}
