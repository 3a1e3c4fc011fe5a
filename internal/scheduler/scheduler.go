package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowos/internal/store"
	"github.com/rendis/flowos/internal/streaming"
	"github.com/rendis/flowos/pkg/schema"
)

const (
	DefaultCron   = "0 3 * * *"
	DefaultMaxAge = 30 * 24 * time.Hour
)

// Purger is the subset of store.Store the retention job needs.
type Purger interface {
	PurgeGraphsBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	Vacuum(ctx context.Context) error
}

var _ Purger = (store.Store)(nil)

// Config controls when and what the retention job purges.
type Config struct {
	Cron   string
	MaxAge time.Duration
}

// PurgeResult is the payload of a graphs.purged event.
type PurgeResult struct {
	Cutoff time.Time `json:"cutoff"`
	Purged int64     `json:"purged"`
	IDs    []string  `json:"ids"`
}

// Scheduler runs the saved-graph retention purge on a cron schedule.
type Scheduler struct {
	store    Purger
	hub      streaming.EventHub
	schedule cron.Schedule
	expr     string
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   bool
}

// NewScheduler creates a Scheduler. hub may be nil.
func NewScheduler(s Purger, cfg Config, hub streaming.EventHub, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	sched, err := parser.Parse(cfg.Cron)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid retention cron %q", cfg.Cron).WithCause(err)
	}
	return &Scheduler{
		store:    s,
		hub:      hub,
		schedule: sched,
		expr:     cfg.Cron,
		maxAge:   cfg.MaxAge,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CalculateNextRun computes the next run time for a cron expression.
func CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Start launches the background purge loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx, s.done)
	s.logger.Info("retention scheduler started",
		slog.String("cron", s.expr),
		slog.Duration("max_age", s.maxAge),
	)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		now := s.now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("retention purge failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce purges graphs not updated within the max age, publishes
// graph.deleted for each of them and a graphs.purged summary, then vacuums
// the store. A purge already in flight makes RunOnce return zero without
// touching the store.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	if !s.tryAcquire() {
		return 0, nil
	}
	defer s.release()

	cutoff := s.now().Add(-s.maxAge)
	ids, err := s.store.PurgeGraphsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge graphs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	n := int64(len(ids))

	s.logger.Info("retention purge completed",
		slog.Int64("purged", n),
		slog.Time("cutoff", cutoff),
	)
	if n == 0 {
		return 0, nil
	}

	if s.hub != nil {
		for _, id := range ids {
			_ = s.hub.Publish(ctx, streaming.StreamEvent{GraphID: id, EventType: schema.EventGraphDeleted})
		}
		_ = s.hub.Publish(ctx, streaming.StreamEvent{
			EventType: schema.EventGraphsPurged,
			Payload:   PurgeResult{Cutoff: cutoff, Purged: n, IDs: ids},
		})
	}

	// Reclaim the pages freed by the purge. Failure leaves the purge intact.
	if err := s.store.Vacuum(ctx); err != nil {
		s.logger.Warn("vacuum after purge failed", slog.String("error", err.Error()))
	}
	return n, nil
}

func (s *Scheduler) tryAcquire() bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *Scheduler) release() {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	s.inflight = false
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("retention scheduler stopped")
	return nil
}
