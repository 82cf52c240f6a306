package api

import (
	"github.com/gin-gonic/gin"

	"github.com/marketmind-ai/marketmind/internal/metrics"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/analyze", s.handleAnalyze)
		v1.GET("/snapshot/:kind", s.handleSnapshot)

		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/stats", s.handleRunStats)

		v1.GET("/sources/health", s.handleSourcesHealth)
	}
}
