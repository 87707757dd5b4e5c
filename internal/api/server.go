package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/pipec/internal/auth"
	"github.com/mattjoyce/pipec/internal/cache"
	"github.com/mattjoyce/pipec/internal/compiler"
	"github.com/mattjoyce/pipec/internal/events"
	"github.com/mattjoyce/pipec/internal/gpu"
	"github.com/mattjoyce/pipec/internal/pipeline"
)

// PipelineCompiler is the compiler surface the API serves.
type PipelineCompiler interface {
	BuildShaderModule(code []byte) (*pipeline.ShaderModule, error)
	GraphicsPipelineHash(info *pipeline.GraphicsPipelineBuildInfo) (uint64, error)
	ComputePipelineHash(info *pipeline.ComputePipelineBuildInfo) (uint64, error)
	BuildGraphicsPipeline(ctx context.Context, info *pipeline.GraphicsPipelineBuildInfo) (*compiler.BuildOutput, error)
	BuildComputePipeline(ctx context.Context, info *pipeline.ComputePipelineBuildInfo) (*compiler.BuildOutput, error)
	GfxIP() gpu.GfxIPVersion
	Cache() *cache.Cache
	PoolSize() int
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxConcurrentBuilds bounds in-flight build requests; excess requests
	// get 503.
	MaxConcurrentBuilds int
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
	// Gatherer backs /metrics. Defaults to the default registry.
	Gatherer prometheus.Gatherer
}

// Server represents the HTTP API server
type Server struct {
	config         Config
	compiler       PipelineCompiler
	logger         *slog.Logger
	server         *http.Server
	startedAt      time.Time
	buildSemaphore chan struct{}
	events         *events.Hub
}

// New creates a new API server instance
func New(config Config, c PipelineCompiler, logger *slog.Logger) *Server {
	if config.MaxConcurrentBuilds <= 0 {
		config.MaxConcurrentBuilds = 4
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 64 << 20
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		config:         config,
		compiler:       c,
		logger:         logger,
		startedAt:      time.Now(),
		buildSemaphore: make(chan struct{}, config.MaxConcurrentBuilds),
		events:         events.NewHub(256),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", !s.open())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeMetrics)).Handle("/metrics",
			promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))

		r.Route("/v1", func(r chi.Router) {
			r.With(s.requireScopes(auth.ScopePipelineHash)).Post("/pipelines/hash", s.handleHash)
			r.With(s.requireScopes(auth.ScopeBuild)).Post("/pipelines/build", s.handleBuild)

			r.With(s.requireScopes(auth.ScopeCacheRead)).Get("/cache/stats", s.handleCacheStats)
			r.With(s.requireScopes(auth.ScopeCacheRead)).Get("/cache/export", s.handleCacheExport)
			r.With(s.requireScopes(auth.ScopeCacheWrite)).Post("/cache/import", s.handleCacheImport)
			r.With(s.requireScopes(auth.ScopeCacheWrite)).Delete("/cache", s.handleCacheClear)

			r.With(s.requireScopes(auth.ScopeEvents)).Get("/events", s.handleEvents)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
