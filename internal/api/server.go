// Package api exposes ingestion and retrieval over HTTP. Routes live
// under /api/v1; ingest runs in the background and is polled through
// sessions.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/repoqa/repoqa/internal/answer"
	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/ingest"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/search"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/telemetry"
)

// DefaultShutdownTimeout bounds the drain of in-flight requests.
const DefaultShutdownTimeout = 10 * time.Second

// Deps are the wired components the server serves.
type Deps struct {
	Metadata  store.MetadataStore
	Registry  *registry.Registry
	Runner    *ingest.Runner
	Engine    *search.Engine
	Answerer  answer.Answerer // nil forces plugin mode
	Collector *telemetry.Collector
	Logger    *slog.Logger

	// AnswerMode is the default generation mode when a query does not
	// pick one.
	AnswerMode string
}

// Server is the HTTP API server.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the server and its routes.
func NewServer(cfg config.APIConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", "api")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(deps.Logger))
	engine.Use(CORS(cfg.CORSOrigins))

	h := &handlers{deps: deps}

	engine.GET("/health", h.health)

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/repositories", h.createRepository)
		v1.GET("/repositories", h.listRepositories)
		v1.DELETE("/repositories/:id", h.deleteRepository)
		v1.GET("/sessions/:id", h.getSession)
		v1.POST("/query", h.query)
		v1.GET("/metrics", h.metrics)
	}

	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  config.Duration(cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: config.Duration(cfg.WriteTimeout, 120*time.Second),
	}

	return &Server{engine: engine, http: srv, logger: deps.Logger}
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api_listening", slog.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("api_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
