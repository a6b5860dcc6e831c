// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"time"

	"articleforge-api/internal/domain/entity"
)

// ArticleFilter 文章过滤条件
type ArticleFilter struct {
	Status entity.ArticleStatus
	Query  string
}

// ArticleRepository 文章仓储接口
type ArticleRepository interface {
	// Create 创建文章
	Create(ctx context.Context, article *entity.Article) error

	// GetByID 根据 ID 获取文章，不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*entity.Article, error)

	// Update 更新文章
	Update(ctx context.Context, article *entity.Article) error

	// Delete 软删除文章
	Delete(ctx context.Context, id string) error

	// ListByUser 获取用户文章列表
	ListByUser(ctx context.Context, userID string, filter *ArticleFilter, pagination Pagination) (*PagedResult[*entity.Article], error)

	// ListDueScheduled 获取到期的定时发布文章
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*entity.Article, error)
}
