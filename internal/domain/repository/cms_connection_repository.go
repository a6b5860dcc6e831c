// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"articleforge-api/internal/domain/entity"
)

// CMSConnectionRepository CMS 连接仓储接口
type CMSConnectionRepository interface {
	Create(ctx context.Context, conn *entity.CMSConnection) error
	GetByID(ctx context.Context, id string) (*entity.CMSConnection, error)
	ListByUser(ctx context.Context, userID string) ([]*entity.CMSConnection, error)
	Update(ctx context.Context, conn *entity.CMSConnection) error
	Delete(ctx context.Context, id string) error
}
