// Package scheduler decides, per worker poll, whether a match game or a
// self-play game is handed out. It owns the match queue and the fast-client
// set, and keeps both fresh from storage on fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/metrics"
	"github.com/rchs819/leela-zero-server/internal/retry"
	"github.com/rchs819/leela-zero-server/internal/sprt"
	"github.com/rchs819/leela-zero-server/internal/store"
)

// Config tunes the scheduler.
type Config struct {
	Queue QueueConfig

	FastClientWindow   time.Duration
	FastClientMinGames int
	FastClientRefresh  time.Duration
	RebuildInterval    time.Duration

	// RebuildPolicy retries a rebuild that raced with result submissions.
	RebuildPolicy retry.Policy
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Queue: QueueConfig{
			Buffer:          25,
			PessimisticRate: 0.2,
			RequestExpiry:   30 * time.Minute,
			SPRT:            sprt.DefaultConfig(),
		},
		FastClientWindow:   time.Hour,
		FastClientMinGames: 4,
		FastClientRefresh:  10 * time.Minute,
		RebuildInterval:    10 * time.Minute,
		RebuildPolicy: retry.Policy{
			Attempts:   5,
			Initial:    50 * time.Millisecond,
			Max:        time.Second,
			Multiplier: 2,
		},
	}
}

// Scheduler is constructed once at startup and shared by every handler and
// background task.
type Scheduler struct {
	cfg     Config
	queue   *Queue
	fast    *FastClients
	matches store.MatchRepository
	games   store.GameRepository
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a scheduler with an empty queue. Call Rebuild and
// RefreshFastClients, or Run, to load state from storage.
func New(cfg Config, matches store.MatchRepository, games store.GameRepository, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		queue:   NewQueue(cfg.Queue),
		fast:    NewFastClients(),
		matches: matches,
		games:   games,
		logger:  logger.With("component", "scheduler"),
		now:     time.Now,
	}
}

// Queue returns the match queue.
func (s *Scheduler) Queue() *Queue {
	return s.queue
}

// FastClients returns the fast-client set.
func (s *Scheduler) FastClients() *FastClients {
	return s.fast
}

// SPRT returns the test configuration used for queue decisions.
func (s *Scheduler) SPRT() sprt.Config {
	return s.cfg.Queue.SPRT
}

// NextMatch returns a match game for the polling client, or nil when the
// client should play self-play. Version 0 clients and clients outside the
// fast set never get matches.
func (s *Scheduler) NextMatch(clientID string, clientVersion int, seed string) *Reservation {
	if clientVersion == 0 || !s.fast.Contains(clientID) {
		return nil
	}
	return s.queue.Reserve(seed)
}

// RefreshFastClients recomputes the fast-client set from recent games.
func (s *Scheduler) RefreshFastClients(ctx context.Context) error {
	now := s.now()
	ids, err := s.games.ActiveClients(ctx, now.Add(-s.cfg.FastClientWindow), s.cfg.FastClientMinGames)
	if err != nil {
		return fmt.Errorf("load active clients: %w", err)
	}
	s.fast.Replace(ids, now)
	metrics.FastClients.Set(float64(len(ids)))
	s.logger.Debug("fast clients refreshed", "count", len(ids))
	return nil
}

// Rebuild reloads the queue from storage. A rebuild that raced with a result
// submission is retried against a fresh read.
func (s *Scheduler) Rebuild(ctx context.Context) error {
	start := time.Now()
	err := retry.Do(ctx, s.cfg.RebuildPolicy, func(ctx context.Context) error {
		version := s.queue.Version()
		pending, err := s.matches.Pending(ctx)
		if err != nil {
			return fmt.Errorf("load pending matches: %w", err)
		}
		return s.queue.Swap(pending, version)
	})
	metrics.QueueRebuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QueueRebuildErrors.Inc()
		return err
	}
	expired := s.queue.ExpireAll()
	s.logger.Info("match queue rebuilt",
		"queued", s.queue.Len(),
		"outstanding", s.queue.Outstanding(),
		"expired", expired,
	)
	return nil
}

// Run loads state once and then refreshes the fast-client set and the queue
// on their own intervals until ctx is cancelled. Refresh failures are logged
// and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"fast_client_refresh", s.cfg.FastClientRefresh,
		"rebuild_interval", s.cfg.RebuildInterval,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.every(gctx, s.cfg.FastClientRefresh, "fast_clients", s.RefreshFastClients)
	})
	g.Go(func() error {
		return s.every(gctx, s.cfg.RebuildInterval, "queue_rebuild", s.Rebuild)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		s.logger.Info("scheduler stopping")
	}
	return err
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) error {
	run := func() {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("scheduled refresh failed", "task", name, "error", err)
		}
	}

	run()
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

// Admit queues a newly created match.
func (s *Scheduler) Admit(m model.Match) {
	s.queue.Add(m)
}
