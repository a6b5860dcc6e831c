package dto

import (
	"time"

	"articleforge-api/internal/application/publishing"
	"articleforge-api/internal/domain/entity"
)

// CMSConnectionRequest 新建连接请求
type CMSConnectionRequest struct {
	Name                string            `json:"name"`
	SiteID              string            `json:"site_id" binding:"required"`
	APIToken            string            `json:"api_token" binding:"required"`
	DefaultCollectionID string            `json:"default_collection_id"`
	FieldMapping        map[string]string `json:"field_mapping"`
}

// ToInput 转换为服务参数
func (r *CMSConnectionRequest) ToInput() publishing.ConnectionInput {
	return publishing.ConnectionInput{
		Name:                r.Name,
		SiteID:              r.SiteID,
		APIToken:            r.APIToken,
		DefaultCollectionID: r.DefaultCollectionID,
		FieldMapping:        r.FieldMapping,
	}
}

// CMSConnectionResponse 连接响应，不回显 API Token
type CMSConnectionResponse struct {
	ID                  string            `json:"id"`
	Provider            string            `json:"provider"`
	Name                string            `json:"name"`
	SiteID              string            `json:"site_id"`
	DefaultCollectionID string            `json:"default_collection_id"`
	FieldMapping        map[string]string `json:"field_mapping"`
	CreatedAt           time.Time         `json:"created_at"`
}

// ToCMSConnectionResponse 实体转响应
func ToCMSConnectionResponse(c *entity.CMSConnection) *CMSConnectionResponse {
	return &CMSConnectionResponse{
		ID:                  c.ID,
		Provider:            string(c.Provider),
		Name:                c.Name,
		SiteID:              c.SiteID,
		DefaultCollectionID: c.DefaultCollectionID,
		FieldMapping:        c.ResolveFieldMapping(nil),
		CreatedAt:           c.CreatedAt,
	}
}
