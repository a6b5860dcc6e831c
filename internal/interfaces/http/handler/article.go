package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"articleforge-api/internal/application/article"
	"articleforge-api/internal/application/publishing"
	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/domain/repository"
	"articleforge-api/internal/interfaces/http/dto"
	apperrors "articleforge-api/pkg/errors"
)

const maxPatchBytes = 4 << 20

// ArticleHandler 文章处理器
type ArticleHandler struct {
	articles   *article.Service
	publishing *publishing.Service
}

// NewArticleHandler 创建文章处理器
func NewArticleHandler(articles *article.Service, publishing *publishing.Service) *ArticleHandler {
	return &ArticleHandler{articles: articles, publishing: publishing}
}

// ListArticles 获取文章列表
// @Summary 获取文章列表
// @Tags Articles
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Param status query string false "draft / scheduled / published"
// @Success 200 {object} dto.Response[[]dto.ArticleResponse]
// @Router /api/v1/articles [get]
func (h *ArticleHandler) ListArticles(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	pageReq := dto.BindPage(c)
	filter := &repository.ArticleFilter{
		Status: entity.ArticleStatus(c.Query("status")),
		Query:  c.Query("q"),
	}

	result, err := h.articles.List(c.Request.Context(), userID, filter, pageReq.Pagination())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.SuccessWithPage(c, dto.ToArticleListResponse(result.Items), dto.NewPageMeta(result.Page, result.PageSize, result.Total))
}

// CreateArticle 创建文章
// @Summary 创建文章
// @Tags Articles
// @Accept json
// @Produce json
// @Param body body dto.ArticleRequest true "文章"
// @Success 201 {object} dto.Response[dto.ArticleResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /api/v1/articles [post]
func (h *ArticleHandler) CreateArticle(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.ArticleRequest
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.articles.Create(c.Request.Context(), userID, req.ToFields())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Created(c, dto.ToArticleResponse(a))
}

// GetArticle 获取文章
func (h *ArticleHandler) GetArticle(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	a, err := h.articles.Get(c.Request.Context(), userID, dto.BindID(c))
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, dto.ToArticleResponse(a))
}

// UpdateArticle 整体更新文章
func (h *ArticleHandler) UpdateArticle(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.ArticleRequest
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.articles.Update(c.Request.Context(), userID, dto.BindID(c), req.ToFields())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, dto.ToArticleResponse(a))
}

// PatchArticle 按 JSON Merge Patch 更新文章
// @Summary 部分更新文章
// @Description 请求体为 RFC 7386 合并补丁，null 表示清空字段
// @Tags Articles
// @Accept application/merge-patch+json
// @Produce json
// @Success 200 {object} dto.Response[dto.ArticleResponse]
// @Router /api/v1/articles/{id} [patch]
func (h *ArticleHandler) PatchArticle(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPatchBytes))
	if err != nil {
		dto.Fail(c, apperrors.ErrInvalidInput.WithDetail("failed to read request body"))
		return
	}
	a, err := h.articles.Patch(c.Request.Context(), userID, dto.BindID(c), body)
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, dto.ToArticleResponse(a))
}

// DeleteArticle 软删除文章
func (h *ArticleHandler) DeleteArticle(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.articles.Delete(c.Request.Context(), userID, dto.BindID(c)); err != nil {
		dto.Fail(c, err)
		return
	}
	dto.NoContent(c)
}

// PublishArticle 发布文章到 CMS
// @Summary 发布文章
// @Description async 为 true 时投递到发布队列并返回 202
// @Tags Articles
// @Accept json
// @Produce json
// @Param body body dto.PublishRequest true "发布参数"
// @Success 200 {object} dto.Response[dto.PublishResponse]
// @Success 202 {object} dto.Response[dto.PublishAcceptedResponse]
// @Failure 502 {object} dto.ErrorResponse
// @Router /api/v1/articles/{id}/publish [post]
func (h *ArticleHandler) PublishArticle(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.PublishRequest
	if !bindJSON(c, &req) {
		return
	}
	in := publishing.Request{
		UserID:       userID,
		ArticleID:    dto.BindID(c),
		ConnectionID: req.ConnectionID,
		CollectionID: req.CollectionID,
		FieldMapping: req.FieldMapping,
		PublishLive:  req.PublishLive,
	}

	if req.Async {
		messageID, err := h.publishing.Enqueue(c.Request.Context(), in)
		if err != nil {
			dto.Fail(c, err)
			return
		}
		dto.Accepted(c, dto.PublishAcceptedResponse{MessageID: messageID})
		return
	}

	res, err := h.publishing.Publish(c.Request.Context(), in)
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, dto.PublishResponse{ExternalID: res.ExternalID, ExternalURL: res.ExternalURL})
}
