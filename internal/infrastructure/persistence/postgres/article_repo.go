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
	"articleforge-api/internal/domain/repository"
)

// ArticleRepository 文章仓储实现
type ArticleRepository struct {
	client *Client
}

// NewArticleRepository 创建文章仓储
func NewArticleRepository(client *Client) *ArticleRepository {
	return &ArticleRepository{client: client}
}

// Create 创建文章
func (r *ArticleRepository) Create(ctx context.Context, article *entity.Article) error {
	ctx, span := tracer.Start(ctx, "postgres.ArticleRepository.Create")
	defer span.End()

	if article.ID == "" {
		article.ID = uuid.NewString()
	}
	db := getDB(ctx, r.client.db)
	if err := db.Create(article).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create article: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取文章
func (r *ArticleRepository) GetByID(ctx context.Context, id string) (*entity.Article, error) {
	ctx, span := tracer.Start(ctx, "postgres.ArticleRepository.GetByID")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	db := getDB(ctx, r.client.db)
	var article entity.Article
	if err := db.First(&article, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return &article, nil
}

// Update 更新文章
func (r *ArticleRepository) Update(ctx context.Context, article *entity.Article) error {
	ctx, span := tracer.Start(ctx, "postgres.ArticleRepository.Update")
	defer span.End()

	article.UpdatedAt = time.Now()
	db := getDB(ctx, r.client.db)
	if err := db.Save(article).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update article: %w", err)
	}
	return nil
}

// Delete 软删除文章
func (r *ArticleRepository) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.ArticleRepository.Delete")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Delete(&entity.Article{}, "id = ?", id).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete article: %w", err)
	}
	return nil
}

// ListByUser 获取用户文章列表
func (r *ArticleRepository) ListByUser(ctx context.Context, userID string, filter *repository.ArticleFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.Article], error) {
	ctx, span := tracer.Start(ctx, "postgres.ArticleRepository.ListByUser")
	defer span.End()

	query := getDB(ctx, r.client.db).Model(&entity.Article{}).Where("user_id = ?", userID)
	if filter != nil {
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.Query != "" {
			query = query.Where("title ILIKE ?", "%"+filter.Query+"%")
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count articles: %w", err)
	}

	var articles []*entity.Article
	if err := query.Order("updated_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&articles).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}

	return repository.NewPagedResult(articles, total, pagination), nil
}

// ListDueScheduled 获取到期的定时发布文章
func (r *ArticleRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*entity.Article, error) {
	ctx, span := tracer.Start(ctx, "postgres.ArticleRepository.ListDueScheduled")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var articles []*entity.Article
	if err := db.Where("status = ? AND scheduled_date <= ?", entity.ArticleStatusScheduled, now).
		Order("scheduled_date ASC").
		Limit(limit).
		Find(&articles).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list scheduled articles: %w", err)
	}
	return articles, nil
}
