package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const whitelistColumns = `id, rule_id, value, value_type, remark, enabled, created_at`

func scanWhitelistEntry(row rowScanner) (*WhitelistEntry, error) {
	var e WhitelistEntry
	if err := row.Scan(
		&e.ID,
		&e.RuleID,
		&e.Value,
		&e.ValueType,
		&e.Remark,
		&e.Enabled,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectWhitelist(rows pgx.Rows) ([]*WhitelistEntry, error) {
	defer rows.Close()

	entries := make([]*WhitelistEntry, 0, 8)
	for rows.Next() {
		e, err := scanWhitelistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan whitelist row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}

// ListWhitelist returns the enabled entries of a rule, oldest first.
// An unknown rule yields an empty slice.
func (s *PostgresStore) ListWhitelist(ctx context.Context, ruleID int64) ([]*WhitelistEntry, error) {
	query := `SELECT ` + whitelistColumns + `
		FROM gray_whitelist
		WHERE rule_id = $1 AND enabled = TRUE
		ORDER BY id ASC`

	rows, err := s.db.Query(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list whitelist for rule %d: %w", ruleID, err)
	}
	return collectWhitelist(rows)
}

// ListRuleWhitelist returns every entry of a rule, newest first.
func (s *PostgresStore) ListRuleWhitelist(ctx context.Context, ruleID int64) ([]*WhitelistEntry, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM gray_rules WHERE id = $1)`, ruleID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check rule %d: %w", ruleID, err)
	}
	if !exists {
		return nil, fmt.Errorf("rule %d: %w", ruleID, ErrNotFound)
	}

	query := `SELECT ` + whitelistColumns + `
		FROM gray_whitelist
		WHERE rule_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list whitelist for rule %d: %w", ruleID, err)
	}
	return collectWhitelist(rows)
}

// CreateWhitelistEntry inserts e and fills its ID and CreatedAt.
func (s *PostgresStore) CreateWhitelistEntry(ctx context.Context, e *WhitelistEntry) error {
	query := `
		INSERT INTO gray_whitelist (rule_id, value, value_type, remark, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := s.db.QueryRow(ctx, query,
		e.RuleID,
		e.Value,
		e.ValueType,
		e.Remark,
		e.Enabled,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return translateError(err, fmt.Sprintf("whitelist value %q for rule %d", e.Value, e.RuleID))
	}
	return nil
}

// BatchCreateWhitelist inserts every value in one statement. Values that
// already exist for the rule, or repeat inside the batch, are skipped.
func (s *PostgresStore) BatchCreateWhitelist(ctx context.Context, ruleID int64, values []string, valueType string) (BatchResult, error) {
	var result BatchResult

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		// Holds the rule row so a concurrent delete cannot interleave.
		var locked int64
		if err := tx.QueryRow(ctx,
			`SELECT id FROM gray_rules WHERE id = $1 FOR SHARE`, ruleID,
		).Scan(&locked); err != nil {
			return translateError(err, fmt.Sprintf("rule %d", ruleID))
		}

		query := `
			INSERT INTO gray_whitelist (rule_id, value, value_type)
			SELECT $1, v, $3 FROM unnest($2::text[]) AS v
			ON CONFLICT (rule_id, value) DO NOTHING`

		tag, err := tx.Exec(ctx, query, ruleID, values, valueType)
		if err != nil {
			return translateError(err, fmt.Sprintf("whitelist batch for rule %d", ruleID))
		}

		result.Added = int(tag.RowsAffected())
		result.Skipped = len(values) - result.Added
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	return result, nil
}

// DeleteWhitelistEntry removes one entry.
func (s *PostgresStore) DeleteWhitelistEntry(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM gray_whitelist WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete whitelist entry %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("whitelist entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// ToggleWhitelistEntry flips the enabled flag of one entry.
func (s *PostgresStore) ToggleWhitelistEntry(ctx context.Context, id int64) (*WhitelistEntry, error) {
	query := `
		UPDATE gray_whitelist
		SET enabled = NOT enabled
		WHERE id = $1
		RETURNING ` + whitelistColumns

	e, err := scanWhitelistEntry(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("whitelist entry %d", id))
	}
	return e, nil
}
