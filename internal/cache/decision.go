// Package cache holds the decision cache that sits in front of the rule
// store, and the invalidation plumbing that keeps it consistent with
// admin mutations across processes.
package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
)

// DefaultTTL is used when NewDecisionCache receives a non-positive ttl.
const DefaultTTL = 60 * time.Second

// rulesSnapshot is published atomically; readers never see a partial set.
type rulesSnapshot struct {
	rules    []*ruleengine.Rule
	storedAt time.Time
	gen      uint64
}

type whitelistItem struct {
	values   []string
	storedAt time.Time
	gen      uint64
}

// Option customises a DecisionCache.
type Option func(*DecisionCache)

// WithClock replaces time.Now as the freshness clock.
func WithClock(now func() time.Time) Option {
	return func(c *DecisionCache) { c.now = now }
}

// DecisionCache caches the ordered enabled-rule set and per-rule whitelist
// values, each with a TTL.
//
// Every entry is stamped with the generation it was fetched under.
// InvalidateAll only advances the generation, so once it returns no read
// can observe data stored under an older generation, even when a fill that
// started earlier lands afterwards. Stale whitelist entries stay in otter
// until they are overwritten or evicted by capacity. Reads take no locks.
type DecisionCache struct {
	ttl time.Duration
	now func() time.Time

	gen        atomic.Uint64
	rules      atomic.Pointer[rulesSnapshot]
	whitelists otter.Cache[int64, whitelistItem]
}

// NewDecisionCache builds a cache holding at most capacity whitelist sets.
// The caller must Close it.
func NewDecisionCache(ttl time.Duration, capacity int, opts ...Option) (*DecisionCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	whitelists, err := otter.MustBuilder[int64, whitelistItem](capacity).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build whitelist cache: %w", err)
	}

	c := &DecisionCache{
		ttl:        ttl,
		now:        time.Now,
		whitelists: whitelists,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the freshness window.
func (c *DecisionCache) TTL() time.Duration {
	return c.ttl
}

// Generation returns the current invalidation generation. Capture it before
// fetching from the store and pass it to the *At writers.
func (c *DecisionCache) Generation() uint64 {
	return c.gen.Load()
}

func (c *DecisionCache) fresh(storedAt time.Time, gen uint64) bool {
	return gen == c.gen.Load() && c.now().Sub(storedAt) < c.ttl
}

// GetEnabledRules returns the cached rule set when it is present, fresh and
// of the current generation. The slice is shared; callers must not modify it.
func (c *DecisionCache) GetEnabledRules() ([]*ruleengine.Rule, bool) {
	snap := c.rules.Load()
	if snap == nil || !c.fresh(snap.storedAt, snap.gen) {
		observability.CacheMisses.WithLabelValues(observability.CacheKindRules).Inc()
		return nil, false
	}
	observability.CacheHits.WithLabelValues(observability.CacheKindRules).Inc()
	return snap.rules, true
}

// PutEnabledRules stores rules under the current generation, replacing any
// previous set.
func (c *DecisionCache) PutEnabledRules(rules []*ruleengine.Rule) {
	c.PutEnabledRulesAt(c.gen.Load(), rules)
}

// PutEnabledRulesAt stores rules fetched under gen. It reports false and
// stores nothing when an invalidation happened since.
func (c *DecisionCache) PutEnabledRulesAt(gen uint64, rules []*ruleengine.Rule) bool {
	if gen != c.gen.Load() {
		return false
	}
	c.rules.Store(&rulesSnapshot{rules: rules, storedAt: c.now(), gen: gen})
	return true
}

// GetWhitelist returns the cached whitelist values of one rule.
func (c *DecisionCache) GetWhitelist(ruleID int64) ([]string, bool) {
	item, ok := c.whitelists.Get(ruleID)
	if !ok || !c.fresh(item.storedAt, item.gen) {
		observability.CacheMisses.WithLabelValues(observability.CacheKindWhitelist).Inc()
		return nil, false
	}
	observability.CacheHits.WithLabelValues(observability.CacheKindWhitelist).Inc()
	return item.values, true
}

// PutWhitelist stores the whitelist values of one rule under the current generation.
func (c *DecisionCache) PutWhitelist(ruleID int64, values []string) {
	c.PutWhitelistAt(c.gen.Load(), ruleID, values)
}

// PutWhitelistAt stores values fetched under gen, unless an invalidation
// happened since.
func (c *DecisionCache) PutWhitelistAt(gen uint64, ruleID int64, values []string) bool {
	if gen != c.gen.Load() {
		return false
	}
	c.whitelists.Set(ruleID, whitelistItem{values: values, storedAt: c.now(), gen: gen})
	observability.CacheWhitelistItems.Set(float64(c.whitelists.Size()))
	return true
}

// InvalidateAll retires the rule set and every whitelist. Reads issued
// after it returns miss until a new fill completes. It is safe to call
// concurrently with itself and with any reader or writer.
func (c *DecisionCache) InvalidateAll() {
	// otter's Clear must not race other calls, so old entries are
	// hidden by generation instead of removed.
	c.gen.Add(1)
	c.rules.Store(nil)

	observability.CacheInvalidations.Inc()
}

// Close releases the whitelist cache's background resources.
func (c *DecisionCache) Close() {
	c.whitelists.Close()
}
