// Package toolserver exposes the knowledge base's public tool surface
// (store, store_batch, search, get, ask, summarize) and its
// administrative tools (ingest_file, stats, doctor) over HTTP.
package toolserver

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kbgraph/kbd/internal/embed"
	"github.com/kbgraph/kbd/internal/enrich"
	"github.com/kbgraph/kbd/internal/graphbuild"
	"github.com/kbgraph/kbd/internal/graphquery"
	"github.com/kbgraph/kbd/internal/ingest"
	"github.com/kbgraph/kbd/internal/llmprovider"
	"github.com/kbgraph/kbd/internal/logging"
	"github.com/kbgraph/kbd/internal/planner"
	"github.com/kbgraph/kbd/internal/ranker"
	"github.com/kbgraph/kbd/internal/ratelimit"
	"github.com/kbgraph/kbd/internal/store"
	"github.com/kbgraph/kbd/pkg/config"
)

// Server hosts the tool transport.
type Server struct {
	router     *gin.Engine
	store      *store.Store
	builder    *graphbuild.Builder
	enricher   *enrich.Enricher
	embedder   *embed.Client
	llm        llmprovider.Provider
	ranker     *ranker.Ranker
	graph      *graphquery.Query
	planner    *planner.Planner
	ingest     *ingest.Pipeline
	limiter    *ratelimit.Limiter
	sessionID  string
	config     *config.Config
	httpServer *http.Server
	log        *logging.Logger
}

// Deps bundles the constructed components a Server dispatches to.
type Deps struct {
	Store     *store.Store
	Builder   *graphbuild.Builder
	Enricher  *enrich.Enricher
	Embedder  *embed.Client
	LLM       llmprovider.Provider
	Ranker    *ranker.Ranker
	Graph     *graphquery.Query
	Planner   *planner.Planner
	Ingest    *ingest.Pipeline
	SessionID string
}

// NewServer constructs a Server and wires its routes.
func NewServer(d Deps, cfg *config.Config) *Server {
	log := logging.GetLogger("toolserver")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.RestAPI.CORS {
		router.Use(cors.New(cors.Config{
			AllowMethods:    []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:   []string{"Content-Length"},
			AllowAllOrigins: true,
			MaxAge:          12 * time.Hour,
		}))
	}

	s := &Server{
		router:   router,
		store:    d.Store,
		builder:  d.Builder,
		enricher: d.Enricher,
		embedder: d.Embedder,
		llm:      d.LLM,
		ranker:   d.Ranker,
		graph:    d.Graph,
		planner:   d.Planner,
		ingest:    d.Ingest,
		limiter:   ratelimit.NewLimiter(&cfg.RateLimit),
		sessionID: d.SessionID,
		config:    cfg,
		log:       log,
	}

	if s.sessionID != "" {
		if err := s.store.EnsureSession(s.sessionID); err != nil {
			s.log.Warn("failed to record session start", "error", err)
		}
	}

	router.Use(s.rateLimitMiddleware)
	if s.sessionID != "" {
		router.Use(s.sessionMiddleware)
	}
	s.setupRoutes()
	return s
}

// sessionMiddleware bumps the process-lifetime session row's
// last_seen_at/operation_count on every tool call. Purely observational;
// failures are logged and never affect the response.
func (s *Server) sessionMiddleware(c *gin.Context) {
	if err := s.store.EnsureSession(s.sessionID); err != nil {
		s.log.Warn("failed to update session", "error", err)
	}
	c.Next()
}

// rateLimitMiddleware enforces the global and per-tool token buckets
// configured under rate_limit. The tool name is the last path segment,
// e.g. "/tools/search" is limited as "search".
func (s *Server) rateLimitMiddleware(c *gin.Context) {
	tool := path.Base(c.Request.URL.Path)
	result := s.limiter.Allow(tool)
	if !result.Allowed {
		c.Header("Retry-After", fmt.Sprintf("%.0f", result.RetryAfter.Seconds()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate limit exceeded",
			"limit_type":  result.LimitType,
			"retry_after": result.RetryAfter.String(),
		})
		return
	}
	c.Next()
}

func (s *Server) setupRoutes() {
	tools := s.router.Group("/tools")
	{
		tools.POST("/store", s.handleStore)
		tools.POST("/store_batch", s.handleStoreBatch)
		tools.POST("/search", s.handleSearch)
		tools.POST("/get", s.handleGet)
		tools.POST("/ask", s.handleAsk)
		tools.POST("/summarize", s.handleSummarize)

		admin := tools.Group("", s.requireManagerMode)
		admin.POST("/ingest_file", s.handleIngestFile)
		admin.GET("/stats", s.handleStats)
		admin.GET("/doctor", s.handleDoctor)
	}
	s.router.GET("/health", s.handleHealth)
}

// requireManagerMode gates the administrative tools (ingest_file, stats,
// doctor) behind rest_api.manager_mode; the core tool surface is never
// gated by it.
func (s *Server) requireManagerMode(c *gin.Context) {
	if !s.config.RestAPI.ManagerMode {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrative tools require manager mode"})
		return
	}
	c.Next()
}

// Router exposes the underlying engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.config.RestAPI.Host, s.config.RestAPI.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting tool server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("tool server error: %w", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
