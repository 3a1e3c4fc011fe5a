package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/flowos/internal/cache"
	"github.com/rendis/flowos/internal/classifier"
	"github.com/rendis/flowos/internal/config"
	"github.com/rendis/flowos/internal/converter"
	"github.com/rendis/flowos/internal/expressions"
	"github.com/rendis/flowos/internal/graphs"
	"github.com/rendis/flowos/internal/llm"
	"github.com/rendis/flowos/internal/observability"
	"github.com/rendis/flowos/internal/store"
	"github.com/rendis/flowos/internal/streaming"
)

// app holds the wired components shared by serve and mcp.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	telemetry *observability.Telemetry
	service   *converter.Service
	graphs    *graphs.Manager
	closers   []func() error
}

// newApp opens the store and wires the conversion service and graph manager.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		hub:       streaming.NewMemoryHub(),
		telemetry: observability.Setup(cfg.Metrics),
	}
	a.closers = append(a.closers,
		func() error { return a.telemetry.Shutdown(context.Background()) },
		a.hub.Close,
	)

	svc, closeCache, err := newService(ctx, cfg, logger, a.hub, a.telemetry, true)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service = svc
	if closeCache != nil {
		a.closers = append(a.closers, closeCache)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		a.Close()
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	if err := s.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.graphs = graphs.NewManager(graphs.Deps{
		Store:   s,
		History: store.NewEventLog(s),
		Hub:     a.hub,
		Logger:  logger,
	})
	return a, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown step failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

// newService builds the conversion service. The cache is skipped for one-shot
// CLI runs; the returned closer releases it when non-nil.
func newService(ctx context.Context, cfg config.Config, logger *slog.Logger, hub streaming.EventHub, tel *observability.Telemetry, withCache bool) (*converter.Service, func() error, error) {
	cls, err := newClassifier(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	deps := converter.Deps{
		Pipeline: converter.NewPipeline(cls, tel.Spans),
		Hub:      hub,
		Metrics:  tel.Metrics,
		Spans:    tel.Spans,
		Logger:   logger,
	}

	var closeCache func() error
	if withCache {
		switch cfg.Cache.Backend {
		case "memory":
			mc, err := cache.NewMemoryCache(cfg.Cache.Size)
			if err != nil {
				return nil, nil, err
			}
			deps.Cache = mc
		case "redis":
			rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL.Std())
			if err != nil {
				return nil, nil, err
			}
			deps.Cache = rc
			closeCache = rc.Close
		}
	}

	llmCfg := llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout.Std(),
	}
	if llmCfg.Enabled() {
		gen, err := llm.NewOpenAIGenerator(ctx, llmCfg, logger)
		if err != nil {
			if closeCache != nil {
				_ = closeCache()
			}
			return nil, nil, err
		}
		deps.Generator = gen
	}

	svc, err := converter.NewService(deps)
	if err != nil {
		if closeCache != nil {
			_ = closeCache()
		}
		return nil, nil, err
	}
	return svc, closeCache, nil
}

// newClassifier returns the rule classifier when a rules file is configured,
// nil (the keyword table) otherwise.
func newClassifier(cfg config.Config, logger *slog.Logger) (classifier.Classifier, error) {
	if cfg.RulesFile == "" {
		return nil, nil
	}
	rs, err := classifier.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	engines, err := expressions.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	return classifier.NewRuleClassifier(rs, engines, nil, logger)
}
