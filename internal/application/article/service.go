// Package article 提供文章的增删改查
package article

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch"

	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/domain/repository"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/metrics"
)

const maxTitleLength = 300

// Fields 可由用户编辑的文章字段，也是合并补丁作用的文档
type Fields struct {
	Title           string               `json:"title"`
	Content         string               `json:"content"`
	MetaDescription string               `json:"meta_description"`
	Keywords        []string             `json:"keywords"`
	Status          entity.ArticleStatus `json:"status"`
	ScheduledDate   *time.Time           `json:"scheduled_date"`
	ContentType     string               `json:"content_type"`
	Tone            string               `json:"tone"`
	TargetAudience  string               `json:"target_audience"`
	CMSConnectionID *string              `json:"cms_connection_id"`
	CollectionID    *string              `json:"collection_id"`
}

func fieldsOf(a *entity.Article) Fields {
	keywords := []string(a.Keywords)
	if keywords == nil {
		keywords = []string{}
	}
	return Fields{
		Title:           a.Title,
		Content:         a.Content,
		MetaDescription: a.MetaDescription,
		Keywords:        keywords,
		Status:          a.Status,
		ScheduledDate:   a.ScheduledDate,
		ContentType:     a.ContentType,
		Tone:            string(a.Tone),
		TargetAudience:  a.TargetAudience,
		CMSConnectionID: a.CMSConnectionID,
		CollectionID:    a.CollectionID,
	}
}

// validate 校验字段；published 只能由发布流程写入
func (f *Fields) validate(current entity.ArticleStatus) (entity.Tone, error) {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return "", apperrors.ErrMissingRequiredField.WithDetail("title is required")
	}
	if len([]rune(f.Title)) > maxTitleLength {
		return "", apperrors.ErrInvalidInput.WithDetail("title is too long")
	}
	if f.Status == "" {
		f.Status = entity.ArticleStatusDraft
	}
	if !f.Status.Valid() {
		return "", apperrors.ErrInvalidInput.WithDetail("unknown status " + string(f.Status))
	}
	if f.Status == entity.ArticleStatusPublished && current != entity.ArticleStatusPublished {
		return "", apperrors.ErrInvalidInput.WithDetail("use the publish endpoint to publish an article")
	}
	if f.Status == entity.ArticleStatusScheduled && f.ScheduledDate == nil {
		return "", apperrors.ErrMissingRequiredField.WithDetail("scheduled_date is required for scheduled articles")
	}
	tone, err := entity.ParseTone(f.Tone)
	if err != nil {
		return "", apperrors.ErrInvalidInput.WithDetail(err.Error())
	}
	return tone, nil
}

func (f *Fields) applyTo(a *entity.Article, tone entity.Tone) {
	a.Title = f.Title
	a.Content = f.Content
	a.MetaDescription = strings.TrimSpace(f.MetaDescription)
	a.SetKeywords(f.Keywords)
	a.Status = f.Status
	a.ScheduledDate = f.ScheduledDate
	if ct := strings.TrimSpace(f.ContentType); ct != "" {
		a.ContentType = ct
	}
	a.Tone = tone
	a.TargetAudience = strings.TrimSpace(f.TargetAudience)
	a.CMSConnectionID = nonEmpty(f.CMSConnectionID)
	a.CollectionID = nonEmpty(f.CollectionID)
	a.RefreshStats()
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// Service 文章服务
type Service struct {
	owner    repository.OwnerScope
	articles repository.ArticleRepository
}

// NewService 创建文章服务
func NewService(owner repository.OwnerScope, articles repository.ArticleRepository) *Service {
	return &Service{owner: owner, articles: articles}
}

// Create 创建文章并计算字数与阅读时长
func (s *Service) Create(ctx context.Context, userID string, in Fields) (*entity.Article, error) {
	tone, err := in.validate("")
	if err != nil {
		return nil, err
	}
	a := entity.NewArticle(userID, in.Title)
	in.applyTo(a, tone)

	if err := s.owner.WithOwner(ctx, userID, func(ctx context.Context) error {
		return s.articles.Create(ctx, a)
	}); err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	metrics.ArticleWordCount.Observe(float64(a.WordCount))
	logger.Info(ctx, "article created", "article_id", a.ID, "word_count", a.WordCount)
	return a, nil
}

// Get 读取文章，其他用户的文章视为不存在
func (s *Service) Get(ctx context.Context, userID, id string) (*entity.Article, error) {
	var a *entity.Article
	if err := s.owner.WithOwner(ctx, userID, func(ctx context.Context) error {
		var err error
		a, err = s.articles.GetByID(ctx, id)
		return err
	}); err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	if a == nil || a.UserID != userID {
		return nil, apperrors.ErrArticleNotFound
	}
	return a, nil
}

// List 分页列出文章
func (s *Service) List(ctx context.Context, userID string, filter *repository.ArticleFilter, p repository.Pagination) (*repository.PagedResult[*entity.Article], error) {
	if filter != nil && filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.ErrInvalidInput.WithDetail("unknown status " + string(filter.Status))
	}
	var out *repository.PagedResult[*entity.Article]
	if err := s.owner.WithOwner(ctx, userID, func(ctx context.Context) error {
		var err error
		out, err = s.articles.ListByUser(ctx, userID, filter, p)
		return err
	}); err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	return out, nil
}

// Update 整体替换可编辑字段
func (s *Service) Update(ctx context.Context, userID, id string, in Fields) (*entity.Article, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, userID, a, in)
}

// Patch 按 RFC 7386 合并补丁更新文章
func (s *Service) Patch(ctx context.Context, userID, id string, patch []byte) (*entity.Article, error) {
	patch = bytes.TrimSpace(patch)
	if len(patch) == 0 || patch[0] != '{' {
		return nil, apperrors.ErrInvalidInput.WithDetail("merge patch must be a JSON object")
	}
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	doc, err := json.Marshal(fieldsOf(a))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternalError, "failed to encode article")
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return nil, apperrors.ErrInvalidInput.WithDetail("invalid merge patch: " + err.Error())
	}

	var in Fields
	if err := json.Unmarshal(merged, &in); err != nil {
		return nil, apperrors.ErrInvalidInput.WithDetail("patched article is invalid: " + err.Error())
	}
	return s.save(ctx, userID, a, in)
}

func (s *Service) save(ctx context.Context, userID string, a *entity.Article, in Fields) (*entity.Article, error) {
	tone, err := in.validate(a.Status)
	if err != nil {
		return nil, err
	}
	in.applyTo(a, tone)
	if err := s.owner.WithOwner(ctx, userID, func(ctx context.Context) error {
		return s.articles.Update(ctx, a)
	}); err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	return a, nil
}

// Delete 软删除文章
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.owner.WithOwner(ctx, userID, func(ctx context.Context) error {
		return s.articles.Delete(ctx, id)
	}); err != nil {
		return apperrors.ErrDatabaseError.WithError(err)
	}
	logger.Info(ctx, "article deleted", "article_id", id)
	return nil
}
