// Package server exposes the workflow engine over HTTP.
//
// Routes:
//
//	GET    /                       service status
//	GET    /api/health             health check
//	GET    /api/nodes              node palette grouped by category
//	POST   /api/upload             store a PDF or image for input nodes
//	POST   /api/execute            run a workflow
//	POST   /api/validate           check a workflow without running it
//	POST   /api/workflows/save     save a workflow
//	GET    /api/workflows          list saved workflows
//	GET    /api/workflows/{id}     fetch a saved workflow
//	DELETE /api/workflows/{id}     delete a saved workflow
//	GET    /api/runs               list run summaries
//	GET    /api/runs/{id}          fetch a stored run
//	GET    /metrics                Prometheus metrics
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/nodes"
	"github.com/dshills/agentflow/graph/store"
)

// Version is reported by GET /.
const Version = "1.0"

// DefaultMaxUploadBytes bounds a single upload.
const DefaultMaxUploadBytes = 50 << 20

// Options configures a Server. Engine, Registry and Store are required.
type Options struct {
	Engine   *graph.Engine
	Registry *nodes.Registry
	Store    store.Store

	// UploadDir receives uploaded files. Default "uploads".
	UploadDir      string
	MaxUploadBytes int64

	// Provider is reported by the health check.
	Provider string

	// Gatherer backs /metrics. Nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server handles the HTTP API.
type Server struct {
	engine    *graph.Engine
	registry  *nodes.Registry
	store     store.Store
	uploadDir string
	maxUpload int64
	provider  string
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	handler   http.Handler
	startTime time.Time
}

// New creates a Server and its upload directory.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil || opts.Registry == nil || opts.Store == nil {
		return nil, errors.New("server: engine, registry and store are required")
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.UploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	s := &Server{
		engine:    opts.Engine,
		registry:  opts.Registry,
		store:     opts.Store,
		uploadDir: opts.UploadDir,
		maxUpload: opts.MaxUploadBytes,
		provider:  opts.Provider,
		gatherer:  opts.Gatherer,
		logger:    opts.Logger,
		startTime: time.Now(),
	}
	s.handler = otelhttp.NewHandler(s.withCORS(s.withLogging(s.routes())), "agentflow-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/nodes", s.handleNodes)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/execute", s.handleExecute)
	mux.HandleFunc("POST /api/validate", s.handleValidate)
	mux.HandleFunc("POST /api/workflows/save", s.handleSaveWorkflow)
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// Handler returns the root handler with tracing, CORS and request logging
// applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting api server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down api server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
