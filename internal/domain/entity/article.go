// Package entity 定义领域实体
package entity

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ArticleStatus 文章状态
type ArticleStatus string

const (
	ArticleStatusDraft     ArticleStatus = "draft"
	ArticleStatusScheduled ArticleStatus = "scheduled"
	ArticleStatusPublished ArticleStatus = "published"
)

// Valid 检查状态是否合法
func (s ArticleStatus) Valid() bool {
	switch s {
	case ArticleStatusDraft, ArticleStatusScheduled, ArticleStatusPublished:
		return true
	}
	return false
}

// Article 文章实体
type Article struct {
	ID              string         `json:"id" gorm:"primaryKey;type:uuid"`
	UserID          string         `json:"user_id" gorm:"not null;index"`
	Title           string         `json:"title" gorm:"not null"`
	Content         string         `json:"content" gorm:"type:text"`
	MetaDescription string         `json:"meta_description"`
	Keywords        pq.StringArray `json:"keywords" gorm:"type:text[]"`
	Status          ArticleStatus  `json:"status" gorm:"not null;default:draft;index"`
	ScheduledDate   *time.Time     `json:"scheduled_date,omitempty" gorm:"index"`
	ContentType     string         `json:"content_type"`
	Tone            Tone           `json:"tone"`
	TargetAudience  string         `json:"target_audience"`
	WordCount       int            `json:"word_count"`
	ReadingTime     int            `json:"reading_time"`

	// 发布目标与结果
	CMSConnectionID *string    `json:"cms_connection_id,omitempty" gorm:"type:uuid"`
	CollectionID    *string    `json:"collection_id,omitempty"`
	ExternalID      *string    `json:"external_id,omitempty"`
	ExternalURL     *string    `json:"external_url,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// NewArticle 创建草稿文章
func NewArticle(userID, title string) *Article {
	now := time.Now()
	return &Article{
		UserID:      userID,
		Title:       title,
		Status:      ArticleStatusDraft,
		ContentType: "blog_post",
		Tone:        ToneProfessional,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetKeywords 设置关键词，忽略大小写去重并保留首次出现顺序
func (a *Article) SetKeywords(keywords []string) {
	a.Keywords = pq.StringArray(NormalizeKeywords(keywords))
}

// RefreshStats 根据正文重新计算字数与阅读时长
func (a *Article) RefreshStats() {
	a.WordCount = CountWords(a.Content)
	a.ReadingTime = ReadingMinutes(a.WordCount)
}

// IsDueForPublish 是否到达定时发布时间
func (a *Article) IsDueForPublish(now time.Time) bool {
	return a.Status == ArticleStatusScheduled && a.ScheduledDate != nil && !a.ScheduledDate.After(now)
}

// PublishedInto 文章是否已发布到指定集合，用于决定创建还是更新
func (a *Article) PublishedInto(collectionID string) bool {
	return a.ExternalID != nil && *a.ExternalID != "" &&
		a.CollectionID != nil && *a.CollectionID == collectionID
}

// MarkPublished 记录发布结果
func (a *Article) MarkPublished(connectionID, collectionID, externalID, externalURL string, at time.Time) {
	a.Status = ArticleStatusPublished
	a.CMSConnectionID = &connectionID
	a.CollectionID = &collectionID
	a.ExternalID = &externalID
	a.ExternalURL = &externalURL
	a.PublishedAt = &at
	a.UpdatedAt = at
}

// NormalizeKeywords 清理关键词列表
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// CountWords 按空白切分统计字数
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// ReadingMinutes 按每分钟 200 词计算阅读时长（向上取整）
func ReadingMinutes(words int) int {
	if words <= 0 {
		return 0
	}
	return (words + 199) / 200
}
