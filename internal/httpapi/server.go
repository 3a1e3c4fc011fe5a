// Package httpapi exposes conversion, validation and saved graphs over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rendis/flowos/internal/converter"
	"github.com/rendis/flowos/internal/graphs"
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/logging"
	"github.com/rendis/flowos/internal/streaming"
)

const (
	defaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 5 * time.Second
)

// Deps holds the dependencies for the API server.
type Deps struct {
	Service      *converter.Service
	Graphs       *graphs.Manager
	Hub          streaming.EventHub
	Defaults     layout.Options
	MaxBodyBytes int64
	// Metrics, when set, is served at GET /debug/metrics.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server serves the JSON API and the SSE event stream.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Conversion.
	mux.HandleFunc("POST /api/parse", s.handleParse)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/import", s.handleImport)
	mux.HandleFunc("POST /api/validate", s.handleValidate)
	mux.HandleFunc("POST /api/diagram", s.handleDiagram)

	// Saved graphs.
	mux.HandleFunc("POST /api/graphs", s.handleSaveGraph)
	mux.HandleFunc("GET /api/graphs", s.handleListGraphs)
	mux.HandleFunc("GET /api/graphs/{id}", s.handleGetGraph)
	mux.HandleFunc("DELETE /api/graphs/{id}", s.handleDeleteGraph)
	mux.HandleFunc("GET /api/graphs/{id}/positions", s.handleGetPositions)
	mux.HandleFunc("PUT /api/graphs/{id}/positions/{nodeId}", s.handleSetPosition)
	mux.HandleFunc("GET /api/graphs/{id}/events", s.handleGraphEvents)
	mux.HandleFunc("GET /api/graphs/{id}/diagram", s.handleGraphDiagram)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/graphs/{id}", s.handleSSEGraph)

	if s.deps.Metrics != nil {
		mux.Handle("GET /debug/metrics", s.deps.Metrics)
	}

	return s.withRequestID(mux)
}

// Serve runs h on addr until ctx is cancelled, then shuts down gracefully.
// Request contexts derive from ctx so open event streams end on shutdown.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", slog.String("address", addr))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// withRequestID propagates or assigns X-Request-ID and logs each request.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx = logging.WithRequestID(ctx, id)
		} else {
			ctx = logging.EnsureRequestID(ctx)
		}
		w.Header().Set("X-Request-ID", logging.RequestID(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		logging.LogWith(ctx, s.deps.Logger).Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
