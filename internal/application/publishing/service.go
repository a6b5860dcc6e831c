// Package publishing 把文章发布到用户配置的 CMS
package publishing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/domain/repository"
	"articleforge-api/internal/infrastructure/messaging"
	"articleforge-api/internal/infrastructure/publishing/webflow"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/metrics"
)

// Publisher CMS 发布适配器
type Publisher interface {
	Publish(ctx context.Context, article *entity.Article, conn *entity.CMSConnection, collectionID string, mapping map[string]string, opts webflow.PublishOptions) (*webflow.PublishResult, error)
	GetCollection(ctx context.Context, token, collectionID string) (*webflow.Collection, error)
}

// Enqueuer 异步发布队列
type Enqueuer interface {
	EnqueuePublish(ctx context.Context, job *messaging.PublishJob) (string, error)
}

// Request 发布请求
type Request struct {
	UserID       string
	ArticleID    string
	ConnectionID string
	CollectionID string
	FieldMapping map[string]string
	PublishLive  bool
}

// Service 发布服务
type Service struct {
	owner       repository.OwnerScope
	articles    repository.ArticleRepository
	connections repository.CMSConnectionRepository
	publisher   Publisher
	queue       Enqueuer
	now         func() time.Time
}

// NewService 创建发布服务；queue 为 nil 时不支持异步发布
func NewService(owner repository.OwnerScope, articles repository.ArticleRepository, connections repository.CMSConnectionRepository, publisher Publisher, queue Enqueuer) *Service {
	return &Service{
		owner:       owner,
		articles:    articles,
		connections: connections,
		publisher:   publisher,
		queue:       queue,
		now:         time.Now,
	}
}

// Publish 同步发布并记录外部 ID 与链接
func (s *Service) Publish(ctx context.Context, req Request) (result *webflow.PublishResult, err error) {
	ctx = logger.WithContext(ctx, logger.ArticleIDKey, req.ArticleID)
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.PublishTotal.WithLabelValues(string(entity.CMSProviderWebflow), "sync", status).Inc()
	}()

	article, conn, err := s.load(ctx, req.UserID, req.ArticleID, req.ConnectionID)
	if err != nil {
		return nil, err
	}
	collectionID := strings.TrimSpace(req.CollectionID)
	if collectionID == "" {
		collectionID = conn.DefaultCollectionID
	}

	result, err = s.publisher.Publish(ctx, article, conn, collectionID, conn.ResolveFieldMapping(req.FieldMapping), webflow.PublishOptions{PublishLive: req.PublishLive})
	if err != nil {
		return nil, err
	}

	article.MarkPublished(conn.ID, collectionID, result.ExternalID, result.ExternalURL, s.now())
	if err := s.owner.WithOwner(ctx, req.UserID, func(ctx context.Context) error {
		return s.articles.Update(ctx, article)
	}); err != nil {
		// 远端已发布，本地记录失败需要人工关注
		logger.Error(ctx, "failed to record publish result", err, "external_id", result.ExternalID)
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	logger.Info(ctx, "article published", "external_id", result.ExternalID, "external_url", result.ExternalURL)
	return result, nil
}

// Enqueue 校验归属后投递异步发布任务，返回消息 ID
func (s *Service) Enqueue(ctx context.Context, req Request) (string, error) {
	if s.queue == nil {
		return "", apperrors.ErrServiceUnavailable.WithDetail("async publishing is not configured")
	}
	if _, _, err := s.load(ctx, req.UserID, req.ArticleID, req.ConnectionID); err != nil {
		return "", err
	}
	id, err := s.queue.EnqueuePublish(ctx, &messaging.PublishJob{
		ArticleID:    req.ArticleID,
		UserID:       req.UserID,
		ConnectionID: req.ConnectionID,
		CollectionID: req.CollectionID,
		Live:         req.PublishLive,
		Trigger:      "api",
		RequestedAt:  s.now(),
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeCacheError, "failed to enqueue publish job")
	}
	metrics.PublishTotal.WithLabelValues(string(entity.CMSProviderWebflow), "async", "queued").Inc()
	return id, nil
}

// HandleMessage 队列消费入口
//
// 文章或连接已不存在时直接确认消息，不再重试。
func (s *Service) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	var job messaging.PublishJob
	if err := msg.UnmarshalPayload(&job); err != nil {
		logger.Warn(ctx, "malformed publish job dropped", "message_id", msg.ID, "error", err)
		return nil
	}
	_, err := s.Publish(ctx, Request{
		UserID:       job.UserID,
		ArticleID:    job.ArticleID,
		ConnectionID: job.ConnectionID,
		CollectionID: job.CollectionID,
		PublishLive:  job.Live,
	})
	if errors.Is(err, apperrors.ErrArticleNotFound) || errors.Is(err, apperrors.ErrConnectionNotFound) {
		logger.Warn(ctx, "publish job target gone", "article_id", job.ArticleID, "error", err)
		return nil
	}
	return err
}

// PublishDue 发布到期的定时文章，返回成功与失败数量
//
// 没有记录连接的文章无法发布，计为失败并保持 scheduled 状态。
func (s *Service) PublishDue(ctx context.Context, limit int) (published, failed int, err error) {
	due, err := s.articles.ListDueScheduled(ctx, s.now(), limit)
	if err != nil {
		return 0, 0, apperrors.ErrDatabaseError.WithError(err)
	}
	for _, a := range due {
		if ctx.Err() != nil {
			return published, failed, ctx.Err()
		}
		if a.CMSConnectionID == nil || *a.CMSConnectionID == "" {
			logger.Warn(ctx, "scheduled article has no cms connection", "article_id", a.ID)
			failed++
			continue
		}
		req := Request{UserID: a.UserID, ArticleID: a.ID, ConnectionID: *a.CMSConnectionID, PublishLive: true}
		if a.CollectionID != nil {
			req.CollectionID = *a.CollectionID
		}
		if _, err := s.Publish(ctx, req); err != nil {
			logger.Error(ctx, "scheduled publish failed", err, "article_id", a.ID)
			failed++
			continue
		}
		published++
	}
	return published, failed, nil
}

// load 读取文章与连接并校验归属，其他用户的数据视为不存在
func (s *Service) load(ctx context.Context, userID, articleID, connectionID string) (*entity.Article, *entity.CMSConnection, error) {
	if articleID == "" {
		return nil, nil, apperrors.ErrMissingRequiredField.WithDetail("article id is required")
	}
	if connectionID == "" {
		return nil, nil, apperrors.ErrMissingRequiredField.WithDetail("connection_id is required")
	}

	var (
		article *entity.Article
		conn    *entity.CMSConnection
	)
	err := s.owner.WithOwner(ctx, userID, func(ctx context.Context) error {
		var err error
		if article, err = s.articles.GetByID(ctx, articleID); err != nil {
			return err
		}
		conn, err = s.connections.GetByID(ctx, connectionID)
		return err
	})
	if err != nil {
		return nil, nil, apperrors.ErrDatabaseError.WithError(err)
	}
	if article == nil || article.UserID != userID {
		return nil, nil, apperrors.ErrArticleNotFound
	}
	if conn == nil || conn.UserID != userID {
		return nil, nil, apperrors.ErrConnectionNotFound
	}
	return article, conn, nil
}

// ConnectionInput 新建连接参数
type ConnectionInput struct {
	Name                string
	SiteID              string
	APIToken            string
	DefaultCollectionID string
	FieldMapping        map[string]string
}

// CreateConnection 保存 Webflow 连接
func (s *Service) CreateConnection(ctx context.Context, userID string, in ConnectionInput) (*entity.CMSConnection, error) {
	if strings.TrimSpace(in.SiteID) == "" || strings.TrimSpace(in.APIToken) == "" {
		return nil, apperrors.ErrMissingRequiredField.WithDetail("site_id and api_token are required")
	}
	conn := entity.NewCMSConnection(userID, entity.CMSProviderWebflow, strings.TrimSpace(in.Name), strings.TrimSpace(in.SiteID), strings.TrimSpace(in.APIToken))
	conn.ID = uuid.NewString()
	conn.DefaultCollectionID = strings.TrimSpace(in.DefaultCollectionID)
	if len(in.FieldMapping) > 0 {
		conn.SetFieldMapping(in.FieldMapping)
	}
	if err := s.owner.WithOwner(ctx, userID, func(ctx context.Context) error {
		return s.connections.Create(ctx, conn)
	}); err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	return conn, nil
}

// ListConnections 列出用户的连接
func (s *Service) ListConnections(ctx context.Context, userID string) ([]*entity.CMSConnection, error) {
	var out []*entity.CMSConnection
	err := s.owner.WithOwner(ctx, userID, func(ctx context.Context) error {
		var err error
		out, err = s.connections.ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	return out, nil
}

// GetConnection 读取单个连接
func (s *Service) GetConnection(ctx context.Context, userID, id string) (*entity.CMSConnection, error) {
	var conn *entity.CMSConnection
	err := s.owner.WithOwner(ctx, userID, func(ctx context.Context) error {
		var err error
		conn, err = s.connections.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	if conn == nil || conn.UserID != userID {
		return nil, apperrors.ErrConnectionNotFound
	}
	return conn, nil
}

// DeleteConnection 删除连接
func (s *Service) DeleteConnection(ctx context.Context, userID, id string) error {
	if _, err := s.GetConnection(ctx, userID, id); err != nil {
		return err
	}
	if err := s.owner.WithOwner(ctx, userID, func(ctx context.Context) error {
		return s.connections.Delete(ctx, id)
	}); err != nil {
		return apperrors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// CollectionSchema 读取集合字段，结构缓存在 Redis
func (s *Service) CollectionSchema(ctx context.Context, userID, connectionID, collectionID string) (*webflow.Collection, error) {
	conn, err := s.GetConnection(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	return s.publisher.GetCollection(ctx, conn.APIToken, collectionID)
}
