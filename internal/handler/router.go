package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mdraft/internal/middleware"
)

type RouterDeps struct {
	Documents *DocumentHandler
	Versions  *VersionHandler
	Sessions  *SessionHandler
	AI        *AIHandler
	JWTSecret []byte
	// AIRateLimit is the per-user minimum interval between AI calls; zero
	// disables the limit.
	AIRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))

	authGroup.POST("/documents", deps.Documents.Create)
	authGroup.GET("/documents", deps.Documents.List)
	authGroup.GET("/documents/:id", deps.Documents.Get)
	authGroup.PUT("/documents/:id", deps.Documents.UpdateMeta)
	authGroup.DELETE("/documents/:id", deps.Documents.Delete)
	authGroup.POST("/documents/:id/rollback", deps.Documents.Rollback)
	authGroup.POST("/paste", deps.Documents.Paste)

	authGroup.GET("/documents/:id/versions", deps.Versions.List)
	authGroup.GET("/documents/:id/versions/:version", deps.Versions.Get)
	authGroup.GET("/documents/:id/versions/:version/diff", deps.Versions.Diff)
	authGroup.POST("/documents/:id/fork", deps.Versions.Fork)

	authGroup.POST("/documents/:id/edits", deps.Sessions.Edit)
	authGroup.GET("/documents/:id/state", deps.Sessions.State)
	authGroup.POST("/documents/:id/flush", deps.Sessions.Flush)
	authGroup.POST("/documents/:id/preview", deps.Sessions.Preview)
	authGroup.POST("/documents/:id/preview/cancel", deps.Sessions.PreviewCancel)
	authGroup.POST("/documents/:id/apply", deps.Sessions.Apply)
	authGroup.POST("/documents/:id/close", deps.Sessions.Close)

	// AI endpoints fan out to a paid upstream; they carry a rate limit the
	// plain CRUD surface does not need.
	aiLimit := middleware.RateLimit(deps.AIRateLimit)
	authGroup.POST("/documents/:id/ai/write", aiLimit, deps.AI.Write)
	authGroup.POST("/documents/:id/ai/polish", aiLimit, deps.AI.Polish)
}
