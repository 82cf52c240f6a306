package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/session"
	"github.com/marketmind-ai/marketmind/internal/store"
	"github.com/marketmind-ai/marketmind/internal/validation"
)

var startTime = time.Now()

// Root handler
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "MarketMind Advisor API",
		"status":  "running",
		"uptime":  time.Since(startTime).Seconds(),
		"time":    time.Now().UTC(),
	})
}

// handleHealth is the load balancer check: process up, decision log
// reachable when one is configured.
func (s *Server) handleHealth(c *gin.Context) {
	if s.store != nil {
		if err := s.store.Health(c.Request.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed on decision log")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "decision log unavailable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

// handleAnalyze runs the full pipeline synchronously and returns the
// decision log row: the verdict in typed fields plus the artifact slots and
// source status as raw JSON.
func (s *Server) handleAnalyze(c *gin.Context) {
	var req session.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := s.engine.Analyze(c.Request.Context(), req)
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, ve := range verrs {
				fields[ve.Field] = ve.Message
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
			return
		}

		log.Error().Err(err).Str("symbol", req.Symbol).Msg("Analysis request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
		return
	}

	c.JSON(http.StatusOK, res.Run)
}

// handleSnapshot serves the cached morning or closing market snapshot.
func (s *Server) handleSnapshot(c *gin.Context) {
	if s.snaps == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot engine not configured"})
		return
	}

	kind := session.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown session kind %q", c.Param("kind"))})
		return
	}

	snap, err := s.snaps.Build(c.Request.Context(), kind)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Snapshot build failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot unavailable"})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// handleListRuns lists recent decision log rows, optionally filtered by
// symbol and session kind.
func (s *Server) handleListRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not configured"})
		return
	}

	var limit int
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(c.Request.Context(), store.RunFilter{
		Symbol:      c.Query("symbol"),
		SessionKind: c.Query("session"),
		Limit:       limit,
	})
	if err != nil {
		log.Error().Err(err).Msg("Run listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetRun fetches one decision log row by run id.
func (s *Server) handleGetRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not configured"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := s.store.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		log.Error().Err(err).Str("run_id", id.String()).Msg("Run fetch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch run"})
		return
	}

	c.JSON(http.StatusOK, run)
}

// handleRunStats returns the windowed decision log aggregate.
func (s *Server) handleRunStats(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not configured"})
		return
	}

	hours := 24
	if raw := c.Query("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		hours = n
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	stats, err := s.store.GetRunStats(c.Request.Context(), since)
	if err != nil {
		log.Error().Err(err).Msg("Run stats query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"window_hours": hours,
		"stats":        stats,
	})
}

// handleSourcesHealth reports the health registry's view of every source.
func (s *Server) handleSourcesHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health registry not configured"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": s.health.Snapshot(),
		"time":    time.Now().UTC(),
	})
}
