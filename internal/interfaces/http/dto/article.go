package dto

import (
	"time"

	"articleforge-api/internal/application/article"
	"articleforge-api/internal/domain/entity"
)

// ArticleRequest 创建与整体更新文章请求
type ArticleRequest struct {
	Title           string     `json:"title" binding:"required"`
	Content         string     `json:"content"`
	MetaDescription string     `json:"meta_description"`
	Keywords        []string   `json:"keywords"`
	Status          string     `json:"status"`
	ScheduledDate   *time.Time `json:"scheduled_date"`
	ContentType     string     `json:"content_type"`
	Tone            string     `json:"tone"`
	TargetAudience  string     `json:"target_audience"`
	CMSConnectionID *string    `json:"cms_connection_id"`
	CollectionID    *string    `json:"collection_id"`
}

// ToFields 转换为可编辑字段
func (r *ArticleRequest) ToFields() article.Fields {
	return article.Fields{
		Title:           r.Title,
		Content:         r.Content,
		MetaDescription: r.MetaDescription,
		Keywords:        r.Keywords,
		Status:          entity.ArticleStatus(r.Status),
		ScheduledDate:   r.ScheduledDate,
		ContentType:     r.ContentType,
		Tone:            r.Tone,
		TargetAudience:  r.TargetAudience,
		CMSConnectionID: r.CMSConnectionID,
		CollectionID:    r.CollectionID,
	}
}

// ArticleResponse 文章响应
type ArticleResponse struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Content         string     `json:"content"`
	MetaDescription string     `json:"meta_description"`
	Keywords        []string   `json:"keywords"`
	Status          string     `json:"status"`
	ScheduledDate   *time.Time `json:"scheduled_date,omitempty"`
	ContentType     string     `json:"content_type"`
	Tone            string     `json:"tone"`
	TargetAudience  string     `json:"target_audience"`
	WordCount       int        `json:"word_count"`
	ReadingTime     int        `json:"reading_time"`
	CMSConnectionID *string    `json:"cms_connection_id,omitempty"`
	CollectionID    *string    `json:"collection_id,omitempty"`
	ExternalID      *string    `json:"external_id,omitempty"`
	ExternalURL     *string    `json:"external_url,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ToArticleResponse 实体转响应
func ToArticleResponse(a *entity.Article) *ArticleResponse {
	keywords := []string(a.Keywords)
	if keywords == nil {
		keywords = []string{}
	}
	return &ArticleResponse{
		ID:              a.ID,
		Title:           a.Title,
		Content:         a.Content,
		MetaDescription: a.MetaDescription,
		Keywords:        keywords,
		Status:          string(a.Status),
		ScheduledDate:   a.ScheduledDate,
		ContentType:     a.ContentType,
		Tone:            string(a.Tone),
		TargetAudience:  a.TargetAudience,
		WordCount:       a.WordCount,
		ReadingTime:     a.ReadingTime,
		CMSConnectionID: a.CMSConnectionID,
		CollectionID:    a.CollectionID,
		ExternalID:      a.ExternalID,
		ExternalURL:     a.ExternalURL,
		PublishedAt:     a.PublishedAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// ToArticleListResponse 批量转换
func ToArticleListResponse(items []*entity.Article) []*ArticleResponse {
	out := make([]*ArticleResponse, 0, len(items))
	for _, a := range items {
		out = append(out, ToArticleResponse(a))
	}
	return out
}

// PublishRequest 发布请求
type PublishRequest struct {
	ConnectionID string            `json:"connection_id" binding:"required"`
	CollectionID string            `json:"collection_id"`
	FieldMapping map[string]string `json:"field_mapping"`
	PublishLive  bool              `json:"publish_live"`
	Async        bool              `json:"async"`
}

// PublishResponse 同步发布结果
type PublishResponse struct {
	ExternalID  string `json:"external_id"`
	ExternalURL string `json:"external_url"`
}

// PublishAcceptedResponse 异步发布受理结果
type PublishAcceptedResponse struct {
	MessageID string `json:"message_id"`
}
