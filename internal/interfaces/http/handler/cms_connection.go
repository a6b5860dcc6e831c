package handler

import (
	"github.com/gin-gonic/gin"

	"articleforge-api/internal/application/publishing"
	"articleforge-api/internal/interfaces/http/dto"
)

// CMSConnectionHandler CMS 连接处理器
type CMSConnectionHandler struct {
	svc *publishing.Service
}

// NewCMSConnectionHandler 创建 CMS 连接处理器
func NewCMSConnectionHandler(svc *publishing.Service) *CMSConnectionHandler {
	return &CMSConnectionHandler{svc: svc}
}

// CreateConnection 新建连接
func (h *CMSConnectionHandler) CreateConnection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.CMSConnectionRequest
	if !bindJSON(c, &req) {
		return
	}
	conn, err := h.svc.CreateConnection(c.Request.Context(), userID, req.ToInput())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Created(c, dto.ToCMSConnectionResponse(conn))
}

// ListConnections 列出连接
func (h *CMSConnectionHandler) ListConnections(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conns, err := h.svc.ListConnections(c.Request.Context(), userID)
	if err != nil {
		dto.Fail(c, err)
		return
	}
	out := make([]*dto.CMSConnectionResponse, 0, len(conns))
	for _, conn := range conns {
		out = append(out, dto.ToCMSConnectionResponse(conn))
	}
	dto.Success(c, out)
}

// GetConnection 读取连接
func (h *CMSConnectionHandler) GetConnection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conn, err := h.svc.GetConnection(c.Request.Context(), userID, dto.BindID(c))
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, dto.ToCMSConnectionResponse(conn))
}

// DeleteConnection 删除连接
func (h *CMSConnectionHandler) DeleteConnection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteConnection(c.Request.Context(), userID, dto.BindID(c)); err != nil {
		dto.Fail(c, err)
		return
	}
	dto.NoContent(c)
}

// GetCollection 读取 Webflow 集合字段
// @Summary 集合结构
// @Description 字段结构缓存在 Redis 中
// @Tags CMS
// @Produce json
// @Router /api/v1/cms-connections/{id}/collections/{collectionId} [get]
func (h *CMSConnectionHandler) GetCollection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	col, err := h.svc.CollectionSchema(c.Request.Context(), userID, dto.BindID(c), c.Param("collectionId"))
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, col)
}
