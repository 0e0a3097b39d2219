// Package syncer implements the background hydrator that keeps the data
// plane's decision cache warm, so request paths rarely pay a rule store
// round-trip when the TTL expires.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// minInterval is the shortest accepted refresh interval.
const minInterval = 100 * time.Millisecond

// Refresher reloads cached decision data from the rule store.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Config holds the configuration for the Syncer service.
type Config struct {
	// Interval is the duration between refresh cycles. It should be shorter
	// than the cache TTL.
	Interval time.Duration
}

// Service runs refresh cycles on a ticker.
type Service struct {
	logger    *slog.Logger
	config    Config
	refresher Refresher
}

// New creates a new Syncer service.
func New(logger *slog.Logger, cfg Config, refresher Refresher) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertNotNilInterface(refresher, "refresher")

	if cfg.Interval < minInterval {
		cfg.Interval = minInterval
	}

	return &Service{
		logger:    logger.With(slog.String("component", "syncer")),
		config:    cfg,
		refresher: refresher,
	}
}

// Run starts the refresh loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service", slog.String("interval", s.config.Interval.String()))

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Warm the cache before the first request arrives.
	if err := s.cycle(ctx); err != nil {
		s.logger.Error("initial refresh failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			return nil
		case <-ticker.C:
			if err := s.cycle(ctx); err != nil {
				// Retry on next tick. Requests keep filling the cache themselves.
				s.logger.Error("refresh cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cycle performs a single refresh and records its outcome.
func (s *Service) cycle(ctx context.Context) error {
	start := time.Now()
	err := s.refresher.Refresh(ctx)
	elapsed := time.Since(start)

	observability.SyncerCycleDuration.Observe(elapsed.Seconds())
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the cycle.
			return nil
		}
		observability.SyncerCyclesTotal.WithLabelValues("fail").Inc()
		return err
	}

	observability.SyncerCyclesTotal.WithLabelValues("success").Inc()
	s.logger.Debug("refresh cycle completed", slog.String("duration", elapsed.String()))
	return nil
}
