// Package httpapi exposes ingest, query, settings, schema and diff review
// over HTTP with gin.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/mesh-intelligence/memorykit/internal/logging"
)

// NewRouter registers every route on a new engine.
func NewRouter(h *Handler, logger *logging.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logging.OrNop(logger).With("component", "http")))

	r.GET("/healthz", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/ingest", h.Ingest)
		v1.POST("/query", h.Query)
		v1.GET("/types", h.ListTypes)

		v1.GET("/settings", h.ListSettings)
		v1.GET("/settings/export", h.ExportSettings)
		v1.POST("/settings/import", h.ImportSettings)
		v1.PUT("/settings/time-mode", h.SetTimeMode)
		v1.POST("/settings/truncate", h.TruncateSetting)
		v1.PUT("/settings/:key", h.SetSetting)

		v1.GET("/diffs", h.ListDiffs)
		v1.POST("/diffs/:id/apply", h.ApplyDiff)
		v1.POST("/diffs/:id/reject", h.RejectDiff)
	}
	return r
}
