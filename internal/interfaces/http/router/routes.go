package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, h *Handlers) {
	// 生成流程
	gen := v1.Group("/generation")
	{
		gen.POST("/titles", h.Generation.GenerateTitles)
		gen.POST("/outline", h.Generation.GenerateOutline)
		gen.POST("/keywords", h.Generation.GenerateKeywords)
		gen.POST("/audience", h.Generation.GenerateAudience)
		gen.POST("/article/stream", h.Generation.StreamArticle)
		gen.POST("/enhance/stream", h.Generation.StreamEnhance)

		sessions := gen.Group("/sessions/:sid")
		{
			sessions.GET("", h.Generation.GetSession)
			sessions.DELETE("", h.Generation.DeleteSession)
			sessions.PUT("/request", h.Generation.UpdateRequest)
			sessions.POST("/cancel", h.Generation.CancelSession)
			sessions.POST("/reset", h.Generation.ResetSession)
			sessions.POST("/outline/sections", h.Generation.AddSection)
			sessions.PUT("/outline/sections/:id", h.Generation.ReplaceSection)
			sessions.DELETE("/outline/sections/:id", h.Generation.DeleteSection)
		}
	}

	// 文章管理
	articles := v1.Group("/articles")
	{
		articles.GET("", h.Article.ListArticles)
		articles.POST("", h.Article.CreateArticle)
		articles.GET("/:id", h.Article.GetArticle)
		articles.PUT("/:id", h.Article.UpdateArticle)
		articles.PATCH("/:id", h.Article.PatchArticle)
		articles.DELETE("/:id", h.Article.DeleteArticle)
		articles.POST("/:id/publish", h.Article.PublishArticle)
	}

	// CMS 连接
	connections := v1.Group("/cms-connections")
	{
		connections.GET("", h.CMSConnection.ListConnections)
		connections.POST("", h.CMSConnection.CreateConnection)
		connections.GET("/:id", h.CMSConnection.GetConnection)
		connections.DELETE("/:id", h.CMSConnection.DeleteConnection)
		connections.GET("/:id/collections/:collectionId", h.CMSConnection.GetCollection)
	}

	// 积分
	credits := v1.Group("/credits")
	{
		credits.GET("", h.Credit.GetBalance)
		credits.GET("/transactions", h.Credit.ListTransactions)
	}
}
