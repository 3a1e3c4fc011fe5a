package main

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rendis/flowos/internal/config"
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/logging"
)

// swappableHandler serves whichever handler was stored last.
type swappableHandler struct {
	current atomic.Pointer[http.Handler]
}

func newSwappableHandler(h http.Handler) *swappableHandler {
	s := &swappableHandler{}
	s.Swap(h)
	return s
}

func (s *swappableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.current.Load()).ServeHTTP(w, r)
}

// Swap replaces the handler for subsequent requests.
func (s *swappableHandler) Swap(h http.Handler) {
	s.current.Store(&h)
}

// reloader applies a freshly loaded config to a running server. Log level
// and layout defaults change in place; everything else needs a restart.
type reloader struct {
	mu      sync.Mutex
	current config.Config
	level   *slog.LevelVar
	handler *swappableHandler
	build   func(layout.Options) http.Handler
	logger  *slog.Logger
}

// Apply compares next with the running config and applies what it can.
func (r *reloader) Apply(next config.Config) config.Diff {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := config.Compare(r.current, next)
	if d.LogLevelChanged {
		r.level.Set(logging.ParseLevel(next.LogLevel))
		r.current.LogLevel = next.LogLevel
	}
	if d.LayoutChanged {
		r.handler.Swap(r.build(next.Layout))
		r.current.Layout = next.Layout
	}
	if !d.Reloadable() {
		r.logger.Warn("config changes need a restart", slog.Any("fields", d.RestartNeeded))
	}
	r.logger.Info("config reloaded",
		slog.Bool("log_level_changed", d.LogLevelChanged),
		slog.Bool("layout_changed", d.LayoutChanged),
	)
	return d
}
