package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"articleforge-api/internal/application/generation"
	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/interfaces/http/dto"
	"articleforge-api/internal/interfaces/http/sse"
	apperrors "articleforge-api/pkg/errors"
)

// GenerationHandler 内容生成处理器
type GenerationHandler struct {
	orch         *generation.Orchestrator
	streamBuffer int
}

// NewGenerationHandler 创建内容生成处理器
func NewGenerationHandler(orch *generation.Orchestrator, streamBuffer int) *GenerationHandler {
	return &GenerationHandler{orch: orch, streamBuffer: streamBuffer}
}

// GenerateTitles 生成候选标题
// @Summary 生成候选标题
// @Tags Generation
// @Accept json
// @Produce json
// @Param body body dto.GenerationRequest true "生成请求"
// @Success 200 {object} dto.Response[generation.TitlesResult]
// @Failure 402 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /api/v1/generation/titles [post]
func (h *GenerationHandler) GenerateTitles(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.GenerationRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.orch.GenerateTitles(c.Request.Context(), userID, req.SessionID, req.ToEntity())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	c.Header(SessionIDHeader, res.SessionID)
	dto.Success(c, res)
}

// GenerateOutline 生成大纲
// @Summary 生成大纲
// @Tags Generation
// @Accept json
// @Produce json
// @Param body body dto.GenerationRequest true "生成请求"
// @Success 200 {object} dto.Response[generation.OutlineResult]
// @Router /api/v1/generation/outline [post]
func (h *GenerationHandler) GenerateOutline(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.GenerationRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.orch.GenerateOutline(c.Request.Context(), userID, req.SessionID, req.ToEntity())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	c.Header(SessionIDHeader, res.SessionID)
	dto.Success(c, res)
}

// GenerateKeywords 生成关键词
func (h *GenerationHandler) GenerateKeywords(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.GenerationRequest
	if !bindJSON(c, &req) {
		return
	}
	keywords, err := h.orch.GenerateKeywords(c.Request.Context(), userID, req.ToEntity())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, dto.KeywordsResponse{Keywords: keywords})
}

// GenerateAudience 生成目标读者候选
func (h *GenerationHandler) GenerateAudience(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.GenerationRequest
	if !bindJSON(c, &req) {
		return
	}
	audiences, err := h.orch.GenerateAudience(c.Request.Context(), userID, req.ToEntity())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, dto.AudienceResponse{Audiences: audiences})
}

// StreamArticle 流式生成文章
// @Summary 流式生成文章
// @Description 以 SSE 推送初稿片段，enhance 为 true 时在同一流内继续逐段增强
// @Tags Generation
// @Accept json
// @Produce text/event-stream
// @Param body body dto.ArticleStreamRequest true "生成请求"
// @Success 200 "SSE stream"
// @Router /api/v1/generation/article/stream [post]
func (h *GenerationHandler) StreamArticle(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.ArticleStreamRequest
	if !bindJSON(c, &req) {
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if !h.precheck(c, userID, sessionID, generation.OpArticle, true) {
		return
	}

	var genReq *entity.GenerationRequest
	if req.HasRequest() {
		r := req.ToEntity()
		genReq = &r
	}

	c.Header(SessionIDHeader, sessionID)
	sse.Serve(c, h.streamBuffer, func(ctx context.Context, sink generation.Sink) error {
		return h.orch.GenerateArticle(ctx, userID, sessionID, genReq, req.Enhance, sink)
	})
}

// StreamEnhance 流式增强已有初稿
// @Summary 段落增强
// @Tags Generation
// @Accept json
// @Produce text/event-stream
// @Param body body dto.EnhanceStreamRequest true "会话"
// @Success 200 "SSE stream"
// @Router /api/v1/generation/enhance/stream [post]
func (h *GenerationHandler) StreamEnhance(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.EnhanceStreamRequest
	if !bindJSON(c, &req) {
		return
	}
	if !h.precheck(c, userID, req.SessionID, generation.OpEnhance, false) {
		return
	}

	c.Header(SessionIDHeader, req.SessionID)
	sse.Serve(c, h.streamBuffer, func(ctx context.Context, sink generation.Sink) error {
		return h.orch.Enhance(ctx, userID, req.SessionID, sink)
	})
}

// precheck 打开流之前检查会话状态与余额，使明显非法的请求得到普通的 JSON 错误
//
// 状态机和扣费在运行开始时会再次校验，这里只是提前失败。
func (h *GenerationHandler) precheck(c *gin.Context, userID, sessionID string, op generation.Operation, allowMissing bool) bool {
	snap, err := h.orch.Snapshot(userID, sessionID)
	switch {
	case err == nil:
		if err := generation.CheckEntry(snap.Stage, snap.FailedAt, op); err != nil {
			dto.Fail(c, err)
			return false
		}
	case allowMissing && errors.Is(err, apperrors.ErrSessionNotFound):
	default:
		dto.Fail(c, err)
		return false
	}

	if err := h.orch.CheckCredits(c.Request.Context(), userID, op); err != nil {
		dto.Fail(c, err)
		return false
	}
	return true
}

// GetSession 读取会话快照
func (h *GenerationHandler) GetSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	snap, err := h.orch.Snapshot(userID, dto.BindSessionID(c))
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, snap)
}

// DeleteSession 取消并删除会话
func (h *GenerationHandler) DeleteSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.orch.Remove(userID, dto.BindSessionID(c)); err != nil {
		dto.Fail(c, err)
		return
	}
	dto.NoContent(c)
}

// UpdateRequest 整体替换会话请求，会话不存在时创建
func (h *GenerationHandler) UpdateRequest(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.GenerationRequest
	if !bindJSON(c, &req) {
		return
	}
	snap, err := h.orch.UpdateRequest(userID, dto.BindSessionID(c), req.ToEntity())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, snap)
}

// CancelSession 取消进行中的运行
func (h *GenerationHandler) CancelSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	cancelled, err := h.orch.Cancel(userID, dto.BindSessionID(c))
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, dto.CancelResponse{Cancelled: cancelled})
}

// ResetSession 回到 Idle
func (h *GenerationHandler) ResetSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	snap, err := h.orch.Reset(userID, dto.BindSessionID(c))
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, snap)
}

// AddSection 新增大纲段落
func (h *GenerationHandler) AddSection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.OutlineSectionRequest
	if !bindJSON(c, &req) {
		return
	}
	position := -1
	if req.Position != nil {
		position = *req.Position
	}
	snap, err := h.orch.AddSection(userID, dto.BindSessionID(c), req.ToEntity(), position)
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Created(c, snap)
}

// ReplaceSection 替换大纲段落
func (h *GenerationHandler) ReplaceSection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.OutlineSectionRequest
	if !bindJSON(c, &req) {
		return
	}
	snap, err := h.orch.ReplaceSection(userID, dto.BindSessionID(c), dto.BindID(c), req.ToEntity())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, snap)
}

// DeleteSection 删除大纲段落
func (h *GenerationHandler) DeleteSection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	snap, err := h.orch.DeleteSection(userID, dto.BindSessionID(c), dto.BindID(c))
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, snap)
}
