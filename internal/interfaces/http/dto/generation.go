package dto

import (
	"articleforge-api/internal/domain/entity"
)

// GenerationRequest 生成请求字段
type GenerationRequest struct {
	SessionID  string                  `json:"session_id"`
	Topic      string                  `json:"topic"`
	Keywords   []string                `json:"keywords"`
	Audience   string                  `json:"audience"`
	Tone       string                  `json:"tone"`
	TitleCount int                     `json:"title_count"`
	Title      string                  `json:"title"`
	Outline    []entity.OutlineSection `json:"outline"`
}

// ToEntity 转换为领域请求
func (r *GenerationRequest) ToEntity() entity.GenerationRequest {
	return entity.GenerationRequest{
		Topic:      r.Topic,
		Keywords:   r.Keywords,
		Audience:   r.Audience,
		Tone:       entity.Tone(r.Tone),
		TitleCount: r.TitleCount,
		Title:      r.Title,
		Outline:    r.Outline,
	}
}

// ArticleStreamRequest 流式文章生成请求
//
// 请求字段全部为空时沿用会话中已保存的请求。
type ArticleStreamRequest struct {
	GenerationRequest
	Enhance bool `json:"enhance"`
}

// HasRequest 是否携带了请求字段
func (r *ArticleStreamRequest) HasRequest() bool {
	return r.Topic != "" || r.Title != "" || len(r.Keywords) > 0 || r.Audience != "" || r.Tone != "" || len(r.Outline) > 0
}

// EnhanceStreamRequest 增强请求
type EnhanceStreamRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// KeywordsResponse 关键词生成响应
type KeywordsResponse struct {
	Keywords []string `json:"keywords"`
}

// AudienceResponse 受众生成响应
type AudienceResponse struct {
	Audiences []string `json:"audiences"`
}

// OutlineSectionRequest 大纲段落请求
type OutlineSectionRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content"`
	// Position 插入位置，省略时追加到末尾
	Position *int `json:"position"`
}

// ToEntity 转换为大纲段落
func (r *OutlineSectionRequest) ToEntity() entity.OutlineSection {
	return entity.OutlineSection{Title: r.Title, Content: r.Content}
}

// CancelResponse 取消结果
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}
