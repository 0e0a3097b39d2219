// Package store provides the Data Access Layer for gray-release rules and
// their whitelist entries. It talks to PostgreSQL through pgx.
package store

import (
	"errors"
	"time"
)

// Sentinel errors returned (wrapped) by every repository method.
var (
	// ErrNotFound reports a missing rule or whitelist entry.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a unique constraint violation (duplicate rule name,
	// duplicate whitelist value for a rule).
	ErrConflict = errors.New("conflict")
)

// Rule mirrors the gray_rules table.
// MatchKey and TargetUpstream are NULL in the database when empty.
type Rule struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"`
	Description    string    `db:"description"`
	Enabled        bool      `db:"enabled"`
	Priority       int       `db:"priority"`
	MatchType      string    `db:"match_type"`
	MatchKey       string    `db:"match_key"`
	MatchValues    []string  `db:"match_values"`
	TargetVersion  string    `db:"target_version"`
	TargetUpstream string    `db:"target_upstream"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// WhitelistEntry mirrors the gray_whitelist table.
type WhitelistEntry struct {
	ID        int64     `db:"id"`
	RuleID    int64     `db:"rule_id"`
	Value     string    `db:"value"`
	ValueType string    `db:"value_type"`
	Remark    string    `db:"remark"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
}

// RuleFilter narrows and paginates ListRules.
type RuleFilter struct {
	// Enabled restricts the result to enabled (true) or disabled (false)
	// rules. Nil lists both.
	Enabled *bool
	Limit   int
	Offset  int
}

// BatchResult reports the outcome of BatchCreateWhitelist.
type BatchResult struct {
	Added   int
	Skipped int
}
