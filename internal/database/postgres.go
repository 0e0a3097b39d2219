// Package database provides the PostgreSQL connection factory and pool telemetry.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
)

// NewPostgresPool builds a pgx pool from cfg and pings it with exponential
// backoff. The caller owns the pool and must Close it.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	// 1. Parse the configuration string
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// 2. Configure settings (Pool Tuning)
	// MaxConns caps the load one replica puts on the rule store.
	// MinConns keeps connections warm for cache-miss fetches.
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	// 3. Create the pool
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// 4. Verify connection (Ping) with retries before serving
	if err := pingWithRetry(ctx, pool, cfg.PingMaxRetries, cfg.PingBackoff); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, maxRetries int, backoff time.Duration) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = pool.Ping(pingCtx)
		cancel()

		if lastErr == nil {
			log.Info("postgres ping successful", slog.Int("attempt", attempt))
			return nil
		}

		log.Warn("postgres ping failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.Any("error", lastErr),
		)
		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping aborted: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("failed to connect to postgres after %d retries: %w", maxRetries, lastErr)
}

// RunPoolMonitor exports pool statistics every interval until ctx is done.
// pgxpool reports cumulative counts, so counters advance by the delta
// since the previous sample.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastAcquire, lastWait int64
	for {
		stat := pool.Stat()

		observability.DatabasePoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
		observability.DatabasePoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
		observability.DatabasePoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
		observability.DatabasePoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))

		// Counters only move forward
		if d := stat.AcquireCount() - lastAcquire; d > 0 {
			observability.DatabasePoolAcquireCount.Add(float64(d))
		}
		if d := stat.EmptyAcquireCount() - lastWait; d > 0 {
			observability.DatabasePoolWaitCount.Add(float64(d))
		}
		lastAcquire, lastWait = stat.AcquireCount(), stat.EmptyAcquireCount()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
