// Package api exposes the decision-support pipeline over HTTP: question
// submission with Server-Sent Events progress streaming, run cancellation,
// data-load cache invalidation, and operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/events"
	"github.com/qnwis/qnwis/pkg/pipeline"
)

// Runner drives decision-support runs. Implemented by pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, task pipeline.Task, stream *events.Stream) (*pipeline.BriefingResult, error)
	Cancel(requestID string) bool
	ActiveRuns() int
}

// Invalidator drops cached results for a registered query.
// Implemented by dataaccess.CachedClient.
type Invalidator interface {
	Invalidate(ctx context.Context, queryID string) (int, error)
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	cfg      *config.Config
	registry *catalog.Registry
	runner   Runner
	cache    Invalidator
	pool     *pgxpool.Pool

	httpServer *http.Server
}

// Option customizes optional server dependencies.
type Option func(*Server)

// WithCache wires the cache invalidation endpoint. Without it the endpoint
// reports the cache layer as disabled.
func WithCache(inv Invalidator) Option {
	return func(s *Server) { s.cache = inv }
}

// WithPool enables database connectivity checks on the readiness endpoint.
func WithPool(pool *pgxpool.Pool) Option {
	return func(s *Server) { s.pool = pool }
}

// NewServer creates the API server over the assembled components.
func NewServer(cfg *config.Config, registry *catalog.Registry, runner Runner, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		runner:   runner,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), securityHeaders())

	router.GET("/healthz", s.healthHandler)
	router.GET("/readyz", s.readyHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/questions", s.submitQuestionHandler)
		v1.POST("/questions/:id/cancel", s.cancelQuestionHandler)
		v1.POST("/data-loads", s.dataLoadHandler)
		v1.GET("/intents", s.listIntentsHandler)
		v1.GET("/catalog", s.listCatalogHandler)
	}
	return router
}

// Start begins serving on addr. Blocks until the listener fails or the
// server is shut down.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within ctx's budget.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
