// Package api exposes the analysis pipeline over REST: trigger a run, read
// session snapshots, browse the decision log and inspect source health.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/health"
	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/orchestrator"
	"github.com/marketmind-ai/marketmind/internal/session"
	"github.com/marketmind-ai/marketmind/internal/snapshot"
	"github.com/marketmind-ai/marketmind/internal/store"
)

// Analyzer runs one analysis request. *orchestrator.Engine satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, req session.Request) (*orchestrator.Result, error)
}

// SnapshotBuilder serves session snapshots. *snapshot.Engine satisfies it.
type SnapshotBuilder interface {
	Build(ctx context.Context, kind session.Kind) (snapshot.Snapshot, error)
}

// Config contains server configuration
type Config struct {
	Host string
	Port int
}

// Deps carries the handlers' collaborators. Engine is required; the rest
// answer 503 on their endpoints when nil.
type Deps struct {
	Engine    Analyzer
	Store     *store.Store
	Snapshots SnapshotBuilder
	Health    *health.Registry
}

// Server is the REST API server.
type Server struct {
	router *gin.Engine
	engine Analyzer
	store  *store.Store
	snaps  SnapshotBuilder
	health *health.Registry
	addr   string
	server *http.Server
}

// NewServer creates the API server with routes and middleware wired.
func NewServer(cfg Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(MetricsMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router: router,
		engine: deps.Engine,
		store:  deps.Store,
		snaps:  deps.Snapshots,
		health: deps.Health,
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	s.setupRoutes()
	return s
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // analyze runs synchronously
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware logs one line per request.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}

// MetricsMiddleware records the request counter and latency histogram under
// normalized path labels.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		metrics.RecordAPIRequest(
			c.Request.Method,
			metrics.NormalizePath(c.Request.URL.Path),
			strconv.Itoa(c.Writer.Status()),
			float64(time.Since(start).Milliseconds()),
		)
	}
}
