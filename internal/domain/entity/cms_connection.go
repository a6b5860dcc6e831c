// Package entity 定义领域实体
package entity

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// CMSProvider CMS 提供商
type CMSProvider string

const (
	CMSProviderWebflow CMSProvider = "webflow"
)

// 文章字段名，字段映射的键
const (
	FieldTitle           = "title"
	FieldSlug            = "slug"
	FieldContent         = "content"
	FieldMetaDescription = "metaDescription"
	FieldKeywords        = "keywords"
	FieldTargetAudience  = "targetAudience"
	FieldPublishedAt     = "publishedAt"
)

// DefaultWebflowFieldMapping Webflow 博客模板的默认字段映射
func DefaultWebflowFieldMapping() map[string]string {
	return map[string]string{
		FieldTitle:           "name",
		FieldSlug:            "slug",
		FieldContent:         "post-body",
		FieldMetaDescription: "post-summary",
		FieldKeywords:        "tags",
	}
}

// CMSConnection CMS 连接配置
type CMSConnection struct {
	ID                  string            `json:"id" gorm:"primaryKey;type:uuid"`
	UserID              string            `json:"user_id" gorm:"not null;index"`
	Provider            CMSProvider       `json:"provider" gorm:"not null"`
	Name                string            `json:"name"`
	SiteID              string            `json:"site_id" gorm:"not null"`
	APIToken            string            `json:"-" gorm:"not null"`
	DefaultCollectionID string            `json:"default_collection_id"`
	FieldMapping        datatypes.JSONMap `json:"field_mapping" gorm:"type:jsonb"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// NewCMSConnection 创建 CMS 连接
func NewCMSConnection(userID string, provider CMSProvider, name, siteID, apiToken string) *CMSConnection {
	now := time.Now()
	return &CMSConnection{
		UserID:    userID,
		Provider:  provider,
		Name:      name,
		SiteID:    siteID,
		APIToken:  apiToken,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetFieldMapping 写入字段映射
func (c *CMSConnection) SetFieldMapping(mapping map[string]string) {
	m := make(datatypes.JSONMap, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}
	c.FieldMapping = m
}

// ResolveFieldMapping 合并默认映射、连接级映射与调用级覆盖，后者优先
func (c *CMSConnection) ResolveFieldMapping(override map[string]string) map[string]string {
	out := DefaultWebflowFieldMapping()
	for k, v := range c.FieldMapping {
		if s, ok := v.(string); ok {
			out[k] = s
		} else if v != nil {
			out[k] = fmt.Sprint(v)
		}
	}
	for k, v := range override {
		out[k] = v
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out
}
