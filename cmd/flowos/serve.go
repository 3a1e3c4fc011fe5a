package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rendis/flowos/internal/config"
	"github.com/rendis/flowos/internal/httpapi"
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/logging"
	"github.com/rendis/flowos/internal/scheduler"
)

func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	var cf configFlags
	cf.register(fs)
	addr := fs.String("addr", "", "listen address (overrides listen_addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewLeveled(stderr, level, cfg.LogFormat)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Retention.Enabled {
		sched, err := scheduler.NewScheduler(a.store, scheduler.Config{
			Cron:   cfg.Retention.Cron,
			MaxAge: cfg.Retention.MaxAge.Std(),
		}, a.hub, logger)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if err := writePID(config.PIDPath()); err != nil {
		logger.Warn("cannot write pidfile", slog.String("error", err.Error()))
	} else {
		defer os.Remove(config.PIDPath())
	}

	build := func(defaults layout.Options) http.Handler {
		var metrics http.Handler
		if a.telemetry.Enabled() {
			metrics = a.telemetry.Handler()
		}
		return httpapi.NewServer(httpapi.Deps{
			Service:      a.service,
			Graphs:       a.graphs,
			Hub:          a.hub,
			Defaults:     defaults,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Metrics:      metrics,
			Logger:       logger,
		}).Handler()
	}
	handler := newSwappableHandler(build(cfg.Layout))
	r := &reloader{current: cfg, level: level, handler: handler, build: build, logger: logger}
	go watchReload(ctx, r, cf.options(), logger)

	return httpapi.Serve(ctx, cfg.ListenAddr, handler, logger)
}

// watchReload reloads the config on SIGHUP until ctx is cancelled.
func watchReload(ctx context.Context, r *reloader, opts config.LoadOptions, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next, err := config.Load(opts)
			if err != nil {
				logger.Error("config reload failed", slog.String("error", err.Error()))
				continue
			}
			r.Apply(next)
		}
	}
}

func writePID(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// readPID returns the pid recorded at path.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pidfile %s: %w", path, err)
	}
	return pid, nil
}
