package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hoa-nexus-rag/internal/middleware"
	"hoa-nexus-rag/pkg/token"
)

// Handlers groups everything NewRouter mounts.
type Handlers struct {
	Indexing *IndexingHandler
	Chat     *ChatHandler
	Health   *HealthHandler
}

// NewRouter builds the gin engine with the /api/v1/ai routes.
func NewRouter(mode string, jwtManager *token.JWTManager, h Handlers) *gin.Engine {
	gin.SetMode(mode)
	r := gin.New()
	r.Use(middleware.Metrics(), middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", h.Health.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ai := r.Group("/api/v1/ai")
	{
		// verifies the token from the path itself
		ai.GET("/chat/ws/:token", h.Chat.Stream)

		authed := ai.Group("")
		authed.Use(middleware.AuthMiddleware(jwtManager))
		{
			authed.POST("/chat", h.Chat.Chat)
			authed.GET("/search", h.Chat.Search)
		}

		admin := ai.Group("")
		admin.Use(middleware.AuthMiddleware(jwtManager), middleware.AdminAuthMiddleware())
		{
			admin.POST("/index-documents", h.Indexing.IndexDocuments)
			admin.POST("/index-file/:fileId", h.Indexing.IndexFile)
			admin.POST("/reset-failed-indexes", h.Indexing.ResetFailedIndexes)
			admin.GET("/vector-stats", h.Indexing.VectorStats)
			admin.GET("/index-runs/:runId", h.Indexing.GetRun)
			admin.DELETE("/index/:fileId", h.Indexing.DeleteIndex)
		}
	}
	return r
}
