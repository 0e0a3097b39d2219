//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/store"
	"github.com/rafaeljc/bifrost/internal/testsupport"
)

// TestPostgresStore_Integration runs every repository scenario against one
// PostgreSQL container. Scenarios share state and run sequentially.
func TestPostgresStore_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err, "failed to start postgres container")
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	repo := store.NewPostgresStore(pgContainer.DB)

	newRule := func(t *testing.T, name string, priority int, enabled bool) *store.Rule {
		t.Helper()
		r := &store.Rule{
			Name:          name,
			Enabled:       enabled,
			Priority:      priority,
			MatchType:     "ip",
			MatchValues:   []string{"10.0.0.5"},
			TargetVersion: "gray",
		}
		require.NoError(t, repo.CreateRule(ctx, r))
		return r
	}

	t.Run("CreateRule_PopulatesGeneratedColumns", func(t *testing.T) {
		r := &store.Rule{
			Name:           "header-beta",
			Description:    "beta testers",
			Enabled:        true,
			Priority:       10,
			MatchType:      "header",
			MatchKey:       "X-Beta",
			MatchValues:    []string{"1", "yes"},
			TargetVersion:  "gray",
			TargetUpstream: "http://gray:8080",
		}

		require.NoError(t, repo.CreateRule(ctx, r))
		assert.NotZero(t, r.ID)
		assert.False(t, r.CreatedAt.IsZero())

		got, err := repo.GetRule(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, "X-Beta", got.MatchKey)
		assert.Equal(t, []string{"1", "yes"}, got.MatchValues)
		assert.Equal(t, "http://gray:8080", got.TargetUpstream)
	})

	t.Run("CreateRule_StoresEmptyOptionalsAsNull", func(t *testing.T) {
		r := newRule(t, "ip-no-upstream", 1, true)

		var upstreamIsNull, keyIsNull bool
		err := pgContainer.DB.QueryRow(ctx,
			`SELECT target_upstream IS NULL, match_key IS NULL FROM gray_rules WHERE id = $1`, r.ID,
		).Scan(&upstreamIsNull, &keyIsNull)
		require.NoError(t, err)
		assert.True(t, upstreamIsNull)
		assert.True(t, keyIsNull)
	})

	t.Run("CreateRule_DuplicateName_ReturnsConflict", func(t *testing.T) {
		newRule(t, "dup-name", 1, true)

		err := repo.CreateRule(ctx, &store.Rule{Name: "dup-name", MatchType: "ip", TargetVersion: "gray"})
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("GetRule_Missing_ReturnsNotFound", func(t *testing.T) {
		_, err := repo.GetRule(ctx, 999999)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ListEnabledRules_OrdersByPriorityThenID", func(t *testing.T) {
		require.NoError(t, pgContainer.Reset(ctx))

		low := newRule(t, "low", 5, true)
		highFirst := newRule(t, "high-first", 50, true)
		highSecond := newRule(t, "high-second", 50, true)
		newRule(t, "disabled", 100, false)

		rules, err := repo.ListEnabledRules(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 3, "disabled rules must be excluded")
		assert.Equal(t, highFirst.ID, rules[0].ID)
		assert.Equal(t, highSecond.ID, rules[1].ID)
		assert.Equal(t, low.ID, rules[2].ID)
	})

	t.Run("ListRules_PaginatesAndFilters", func(t *testing.T) {
		rules, total, err := repo.ListRules(ctx, store.RuleFilter{Limit: 2, Offset: 0})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		require.Len(t, rules, 2)
		assert.Equal(t, "disabled", rules[0].Name)

		enabled := false
		rules, total, err = repo.ListRules(ctx, store.RuleFilter{Enabled: &enabled, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, rules, 1)
		assert.False(t, rules[0].Enabled)
	})

	t.Run("UpdateRule_AppliesMutation", func(t *testing.T) {
		r := newRule(t, "to-update", 1, true)

		got, err := repo.UpdateRule(ctx, r.ID, func(cur *store.Rule) error {
			cur.Priority = 77
			cur.TargetUpstream = "http://canary:9000"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 77, got.Priority)
		assert.Equal(t, "to-update", got.Name)
		assert.True(t, got.UpdatedAt.After(r.UpdatedAt) || got.UpdatedAt.Equal(r.UpdatedAt))

		persisted, err := repo.GetRule(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, "http://canary:9000", persisted.TargetUpstream)
	})

	t.Run("UpdateRule_MutationError_RollsBack", func(t *testing.T) {
		r := newRule(t, "rollback", 3, true)
		boom := errors.New("rejected")

		_, err := repo.UpdateRule(ctx, r.ID, func(cur *store.Rule) error {
			cur.Priority = 1000
			return boom
		})
		assert.ErrorIs(t, err, boom)

		persisted, err := repo.GetRule(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, persisted.Priority)
	})

	t.Run("UpdateRule_RenameToExisting_ReturnsConflict", func(t *testing.T) {
		r := newRule(t, "rename-me", 1, true)

		_, err := repo.UpdateRule(ctx, r.ID, func(cur *store.Rule) error {
			cur.Name = "low"
			return nil
		})
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("UpdateRule_Missing_ReturnsNotFound", func(t *testing.T) {
		_, err := repo.UpdateRule(ctx, 999999, func(*store.Rule) error { return nil })
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ToggleRule_FlipsEnabled", func(t *testing.T) {
		r := newRule(t, "toggle-me", 1, true)

		got, err := repo.ToggleRule(ctx, r.ID)
		require.NoError(t, err)
		assert.False(t, got.Enabled)

		got, err = repo.ToggleRule(ctx, r.ID)
		require.NoError(t, err)
		assert.True(t, got.Enabled)

		_, err = repo.ToggleRule(ctx, 999999)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Whitelist_Lifecycle", func(t *testing.T) {
		r := newRule(t, "wl-owner", 1, true)

		alice := &store.WhitelistEntry{RuleID: r.ID, Value: "alice", ValueType: "user_id", Enabled: true}
		require.NoError(t, repo.CreateWhitelistEntry(ctx, alice))
		assert.NotZero(t, alice.ID)

		err := repo.CreateWhitelistEntry(ctx, &store.WhitelistEntry{RuleID: r.ID, Value: "alice", ValueType: "user_id", Enabled: true})
		assert.ErrorIs(t, err, store.ErrConflict)

		err = repo.CreateWhitelistEntry(ctx, &store.WhitelistEntry{RuleID: 999999, Value: "x", ValueType: "user_id"})
		assert.ErrorIs(t, err, store.ErrNotFound)

		res, err := repo.BatchCreateWhitelist(ctx, r.ID, []string{"alice", "bob", "carol", "bob"}, "user_id")
		require.NoError(t, err)
		assert.Equal(t, store.BatchResult{Added: 2, Skipped: 2}, res)

		_, err = repo.BatchCreateWhitelist(ctx, 999999, []string{"x"}, "user_id")
		assert.ErrorIs(t, err, store.ErrNotFound)

		toggled, err := repo.ToggleWhitelistEntry(ctx, alice.ID)
		require.NoError(t, err)
		assert.False(t, toggled.Enabled)

		enabled, err := repo.ListWhitelist(ctx, r.ID)
		require.NoError(t, err)
		values := make([]string, 0, len(enabled))
		for _, e := range enabled {
			values = append(values, e.Value)
		}
		assert.ElementsMatch(t, []string{"bob", "carol"}, values, "disabled entries must be excluded")

		all, err := repo.ListRuleWhitelist(ctx, r.ID)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, alice.ID, all[len(all)-1].ID, "oldest entry comes last")

		_, err = repo.ListRuleWhitelist(ctx, 999999)
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, repo.DeleteWhitelistEntry(ctx, alice.ID))
		assert.ErrorIs(t, repo.DeleteWhitelistEntry(ctx, alice.ID), store.ErrNotFound)
	})

	t.Run("DeleteRule_CascadesWhitelist", func(t *testing.T) {
		r := newRule(t, "cascade", 1, true)
		_, err := repo.BatchCreateWhitelist(ctx, r.ID, []string{"u1", "u2"}, "user_id")
		require.NoError(t, err)

		require.NoError(t, repo.DeleteRule(ctx, r.ID))

		var remaining int
		require.NoError(t, pgContainer.DB.QueryRow(ctx,
			`SELECT count(*) FROM gray_whitelist WHERE rule_id = $1`, r.ID,
		).Scan(&remaining))
		assert.Zero(t, remaining)

		assert.ErrorIs(t, repo.DeleteRule(ctx, r.ID), store.ErrNotFound)
	})
}
