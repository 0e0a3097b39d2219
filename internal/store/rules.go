package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const ruleColumns = `
	id, name, description, enabled, priority, match_type,
	COALESCE(match_key, ''), match_values, target_version,
	COALESCE(target_upstream, ''), created_at, updated_at`

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	if err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Description,
		&r.Enabled,
		&r.Priority,
		&r.MatchType,
		&r.MatchKey,
		&r.MatchValues,
		&r.TargetVersion,
		&r.TargetUpstream,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if r.MatchValues == nil {
		r.MatchValues = []string{}
	}
	return &r, nil
}

func collectRules(rows pgx.Rows, capacity int) ([]*Rule, error) {
	defer rows.Close()

	rules := make([]*Rule, 0, capacity)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rules, nil
}

// ListEnabledRules returns every enabled rule in evaluation order.
func (s *PostgresStore) ListEnabledRules(ctx context.Context) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM gray_rules
		WHERE enabled = TRUE
		ORDER BY priority DESC, id ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	return collectRules(rows, 16)
}

// ListRules returns one page of rules and the total count matching filter.
func (s *PostgresStore) ListRules(ctx context.Context, filter RuleFilter) ([]*Rule, int64, error) {
	var total int64
	countQuery := `SELECT count(*) FROM gray_rules WHERE ($1::boolean IS NULL OR enabled = $1)`
	if err := s.db.QueryRow(ctx, countQuery, filter.Enabled).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count rules: %w", err)
	}

	if total == 0 {
		return []*Rule{}, 0, nil
	}

	query := `SELECT ` + ruleColumns + `
		FROM gray_rules
		WHERE ($1::boolean IS NULL OR enabled = $1)
		ORDER BY priority DESC, id ASC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, filter.Enabled, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list rules: %w", err)
	}
	rules, err := collectRules(rows, filter.Limit)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// GetRule returns the rule with the given id.
func (s *PostgresStore) GetRule(ctx context.Context, id int64) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM gray_rules WHERE id = $1`

	r, err := scanRule(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("rule %d", id))
	}
	return r, nil
}

// CreateRule inserts r. The RETURNING clause fills the generated columns.
func (s *PostgresStore) CreateRule(ctx context.Context, r *Rule) error {
	query := `
		INSERT INTO gray_rules (
			name, description, enabled, priority, match_type,
			match_key, match_values, target_version, target_upstream
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, NULLIF($9, ''))
		RETURNING id, created_at, updated_at`

	if r.MatchValues == nil {
		r.MatchValues = []string{}
	}

	err := s.db.QueryRow(ctx, query,
		r.Name,
		r.Description,
		r.Enabled,
		r.Priority,
		r.MatchType,
		r.MatchKey,
		r.MatchValues,
		r.TargetVersion,
		r.TargetUpstream,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return translateError(err, fmt.Sprintf("rule %q", r.Name))
	}
	return nil
}

// UpdateRule applies mutate to the locked row and persists the result.
func (s *PostgresStore) UpdateRule(ctx context.Context, id int64, mutate func(*Rule) error) (*Rule, error) {
	var updated *Rule

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		selectQuery := `SELECT ` + ruleColumns + ` FROM gray_rules WHERE id = $1 FOR UPDATE`

		r, err := scanRule(tx.QueryRow(ctx, selectQuery, id))
		if err != nil {
			return translateError(err, fmt.Sprintf("rule %d", id))
		}

		if err := mutate(r); err != nil {
			return err
		}
		r.ID = id

		updateQuery := `
			UPDATE gray_rules SET
				name = $2,
				description = $3,
				enabled = $4,
				priority = $5,
				match_type = $6,
				match_key = NULLIF($7, ''),
				match_values = $8,
				target_version = $9,
				target_upstream = NULLIF($10, ''),
				updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at`

		if r.MatchValues == nil {
			r.MatchValues = []string{}
		}

		if err := tx.QueryRow(ctx, updateQuery,
			r.ID,
			r.Name,
			r.Description,
			r.Enabled,
			r.Priority,
			r.MatchType,
			r.MatchKey,
			r.MatchValues,
			r.TargetVersion,
			r.TargetUpstream,
		).Scan(&r.UpdatedAt); err != nil {
			return translateError(err, fmt.Sprintf("rule %q", r.Name))
		}

		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRule removes a rule. Its whitelist entries go with it (ON DELETE CASCADE).
func (s *PostgresStore) DeleteRule(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM gray_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return nil
}

// ToggleRule flips the enabled flag and returns the updated rule.
func (s *PostgresStore) ToggleRule(ctx context.Context, id int64) (*Rule, error) {
	query := `
		UPDATE gray_rules
		SET enabled = NOT enabled, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + ruleColumns

	r, err := scanRule(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("rule %d", id))
	}
	return r, nil
}
