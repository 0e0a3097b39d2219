package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time checks.
var (
	_ RuleReader     = (*PostgresStore)(nil)
	_ RuleRepository = (*PostgresStore)(nil)
)

// RuleReader is the read side consumed by the decision cache.
type RuleReader interface {
	// ListEnabledRules returns enabled rules ordered by priority DESC, id ASC.
	ListEnabledRules(ctx context.Context) ([]*Rule, error)

	// ListWhitelist returns the enabled entries of one rule.
	ListWhitelist(ctx context.Context, ruleID int64) ([]*WhitelistEntry, error)
}

// RuleRepository is the full set of operations used by the admin API.
type RuleRepository interface {
	RuleReader

	ListRules(ctx context.Context, filter RuleFilter) ([]*Rule, int64, error)
	GetRule(ctx context.Context, id int64) (*Rule, error)
	// CreateRule inserts r and populates its ID and timestamps.
	CreateRule(ctx context.Context, r *Rule) error
	// UpdateRule loads the rule under a row lock, lets mutate edit it and
	// writes the result back in the same transaction. An error from mutate
	// aborts the update and is returned unchanged.
	UpdateRule(ctx context.Context, id int64, mutate func(*Rule) error) (*Rule, error)
	// DeleteRule removes the rule and, by cascade, its whitelist entries.
	DeleteRule(ctx context.Context, id int64) error
	ToggleRule(ctx context.Context, id int64) (*Rule, error)

	// ListRuleWhitelist returns every entry of a rule, newest first.
	ListRuleWhitelist(ctx context.Context, ruleID int64) ([]*WhitelistEntry, error)
	CreateWhitelistEntry(ctx context.Context, e *WhitelistEntry) error
	// BatchCreateWhitelist inserts values for a rule, skipping values already present.
	BatchCreateWhitelist(ctx context.Context, ruleID int64, values []string, valueType string) (BatchResult, error)
	DeleteWhitelistEntry(ctx context.Context, id int64) error
	ToggleWhitelistEntry(ctx context.Context, id int64) (*WhitelistEntry, error)
}

// PostgreSQL error codes handled explicitly.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements RuleRepository on a pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore returns a store backed by db.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresStore{db: db}
}

// translateError maps driver errors onto the package sentinels.
// subject names the record for the error message ("rule 42").
func translateError(err error, subject string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", subject, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s already exists (%s): %w", subject, pgErr.ConstraintName, ErrConflict)
		case pgForeignKeyViolation:
			// The only foreign key is gray_whitelist.rule_id.
			return fmt.Errorf("%s references a missing rule: %w", subject, ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", subject, err)
}
