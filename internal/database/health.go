package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNilPool is returned by Check when the checker has no pool.
var ErrNilPool = errors.New("postgres pool is nil")

// schemaTables must exist for the rule store to serve reads.
var schemaTables = []string{"gray_rules", "gray_whitelist"}

// HealthChecker reports whether the rule store is usable: the pool answers
// and the migrated schema is in place.
type HealthChecker struct {
	pool *pgxpool.Pool
}

// NewHealthChecker returns a checker for pool.
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

// Name returns the readiness component name.
func (h *HealthChecker) Name() string {
	return "postgres"
}

// Check pings the pool, then probes every rule store table with a
// zero-row select so an unmigrated database reports down.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return ErrNilPool
	}

	if err := h.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}

	for _, table := range schemaTables {
		// Table names are constants, never caller input
		if _, err := h.pool.Exec(ctx, "SELECT 1 FROM "+table+" LIMIT 0"); err != nil {
			return fmt.Errorf("rule store table %s unavailable: %w", table, err)
		}
	}
	return nil
}
