// Package server provides the HTTP API for daisy.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Brandon-orbit/PSA-daisy/internal/auth"
	"github.com/Brandon-orbit/PSA-daisy/internal/config"
	"github.com/Brandon-orbit/PSA-daisy/internal/metrics"
	"github.com/Brandon-orbit/PSA-daisy/internal/models"
	"github.com/Brandon-orbit/PSA-daisy/internal/storage"
)

// Pipeline runs one extraction for a dataset.
type Pipeline interface {
	Run(ctx context.Context, datasetID string, queries models.QuerySet) (*models.PipelineRunResult, error)
}

// Searcher answers retrieval queries against the index.
type Searcher interface {
	Search(ctx context.Context, q models.SearchQuery) (*models.SearchResponse, error)
}

// DatasetLister lists the datasets of the configured workspace.
type DatasetLister interface {
	// ListWorkspaceDatasets lists workspaceID, or the configured workspace when it is empty.
	ListWorkspaceDatasets(ctx context.Context, workspaceID string, cred auth.Credential) ([]models.Dataset, error)
}

// CredentialSource hands out bearer credentials for the reporting service.
type CredentialSource interface {
	Acquire(ctx context.Context) (auth.Credential, error)
}

// UsageReporter reports bytes held in local storage.
type UsageReporter interface {
	Usage() (int64, error)
}

// Deps are the components the API serves. Nil fields disable their routes with 501.
type Deps struct {
	Pipeline    Pipeline
	Searcher    Searcher
	Datasets    DatasetLister
	Credentials CredentialSource
	Runs        storage.RunStore
	Chat        http.Handler
	Metrics     *metrics.Metrics
	// Usage, when set, adds local storage usage to /health.
	Usage UsageReporter
}

// ServiceName is reported by the health endpoint.
const ServiceName = "Power BI RAG Extraction API"

// Server is the HTTP server for the daisy API.
type Server struct {
	deps   Deps
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	// Streaming routes must not be buffered or cut short.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}))
		for _, p := range []string{"/chat", "/api/chat"} {
			r.Post(p, s.handleChat)
			r.Options(p, s.handleChat)
		}
	})

	r.Group(func(r chi.Router) {
		if s.config.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.config.RequestTimeout))
		}
		r.Use(middleware.Compress(5))

		r.Post("/extract-and-index", s.handleExtractAndIndex)
		r.Post("/api/v1/extract-and-index", s.handleExtractAndIndex)
		r.Get("/api/v1/datasets", s.handleListDatasets)
		r.Get("/api/v1/datasets/{workspaceID}", s.handleListDatasets)
		r.Post("/api/v1/search", s.handleSearch)
		r.Get("/api/v1/runs", s.handleListRuns)
		r.Get("/api/v1/runs/{id}", s.handleGetRun)
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.deps.Metrics.Handler())
	})
	return r
}

// observe records request latency by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.ObserveHTTP(route, status, time.Since(start))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) addr() string {
	return (&config.Config{Server: *s.config}).Addr()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
