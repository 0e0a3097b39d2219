package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
	"github.com/rafaeljc/bifrost/internal/store"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// DefaultStoreTimeout bounds one store read when none is configured.
const DefaultStoreTimeout = 500 * time.Millisecond

// Service is the decision engine. It is safe for concurrent use.
type Service struct {
	reader       store.RuleReader
	cache        *cache.DecisionCache
	engine       *ruleengine.Engine
	storeTimeout time.Duration

	// fills collapses concurrent cache fills. Keys carry the cache
	// generation, so a caller arriving after an invalidation never joins a
	// fetch that started before it.
	fills singleflight.Group
}

// NewService wires the engine. reader, c and engine are mandatory.
func NewService(reader store.RuleReader, c *cache.DecisionCache, engine *ruleengine.Engine, storeTimeout time.Duration) *Service {
	validation.AssertNotNilInterface(reader, "rule reader")
	validation.AssertNotNil(c, "decision cache")
	validation.AssertNotNil(engine, "rule engine")

	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}

	return &Service{
		reader:       reader,
		cache:        c,
		engine:       engine,
		storeTimeout: storeTimeout,
	}
}

// Decide returns the decision for req. An error means the rule store could
// not be consulted (ErrStoreUnavailable, ErrTimeout) or ctx was cancelled;
// it is never returned for a request that matched no rule.
func (s *Service) Decide(ctx context.Context, req ruleengine.RequestContext) (Decision, error) {
	start := time.Now()
	defer func() { observability.DecisionDuration.Observe(time.Since(start).Seconds()) }()

	rules, err := s.enabledRules(ctx)
	if err != nil {
		observability.DecisionsTotal.WithLabelValues(observability.OutcomeError).Inc()
		return Decision{}, err
	}

	matched, err := s.engine.Evaluate(rules, req, func(r *ruleengine.Rule) ([]string, error) {
		return s.whitelist(ctx, r.ID)
	})
	if err != nil {
		observability.DecisionsTotal.WithLabelValues(observability.OutcomeError).Inc()
		return Decision{}, err
	}

	if matched == nil {
		observability.DecisionsTotal.WithLabelValues(observability.OutcomeStable).Inc()
		return Default(), nil
	}

	logger.FromContext(ctx).Debug("rule matched",
		slog.String("rule", matched.Name),
		slog.String("type", matched.Type),
	)
	observability.DecisionsTotal.WithLabelValues(observability.OutcomeGray).Inc()
	return fromRule(matched), nil
}

// Refresh reloads the rule set and the whitelist of every whitelist rule
// into the cache, regardless of freshness.
func (s *Service) Refresh(ctx context.Context) error {
	gen := s.cache.Generation()

	rules, err := s.loadRules(ctx)
	if err != nil {
		return err
	}

	for _, r := range rules {
		if r.Type != ruleengine.MatchTypeWhitelist {
			continue
		}
		values, err := s.loadWhitelist(ctx, r.ID)
		if err != nil {
			return err
		}
		s.cache.PutWhitelistAt(gen, r.ID, values)
	}

	// Rules last: a reader that sees the new set also finds its whitelists warm.
	s.cache.PutEnabledRulesAt(gen, rules)
	return nil
}

func (s *Service) enabledRules(ctx context.Context) ([]*ruleengine.Rule, error) {
	if rules, ok := s.cache.GetEnabledRules(); ok {
		return rules, nil
	}

	gen := s.cache.Generation()
	v, err := s.fill(ctx, "rules:"+strconv.FormatUint(gen, 10), func(fctx context.Context) (any, error) {
		rules, err := s.loadRules(fctx)
		if err != nil {
			return nil, err
		}
		s.cache.PutEnabledRulesAt(gen, rules)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*ruleengine.Rule), nil
}

func (s *Service) whitelist(ctx context.Context, ruleID int64) ([]string, error) {
	if values, ok := s.cache.GetWhitelist(ruleID); ok {
		return values, nil
	}

	gen := s.cache.Generation()
	key := "whitelist:" + strconv.FormatUint(gen, 10) + ":" + strconv.FormatInt(ruleID, 10)
	v, err := s.fill(ctx, key, func(fctx context.Context) (any, error) {
		values, err := s.loadWhitelist(fctx, ruleID)
		if err != nil {
			return nil, err
		}
		s.cache.PutWhitelistAt(gen, ruleID, values)
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// fill runs fetch at most once per key at a time. The fetch is detached
// from the caller's cancellation and bounded by the store timeout; each
// caller still returns as soon as its own ctx is done.
func (s *Service) fill(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	ch := s.fills.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
		defer cancel()
		return fetch(fctx)
	})

	select {
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (s *Service) loadRules(ctx context.Context) ([]*ruleengine.Rule, error) {
	start := time.Now()
	rows, err := s.reader.ListEnabledRules(ctx)
	observeQuery("list_enabled_rules", start, err)
	if err != nil {
		return nil, storeError(ctx, err)
	}

	rules := make([]*ruleengine.Rule, 0, len(rows))
	for _, row := range rows {
		if !row.Enabled {
			continue
		}
		rules = append(rules, toEngineRule(row))
	}
	ruleengine.CompileRules(rules)
	ruleengine.SortRules(rules)
	return rules, nil
}

func (s *Service) loadWhitelist(ctx context.Context, ruleID int64) ([]string, error) {
	start := time.Now()
	entries, err := s.reader.ListWhitelist(ctx, ruleID)
	observeQuery("list_whitelist", start, err)
	if err != nil {
		return nil, storeError(ctx, err)
	}

	values := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Enabled {
			values = append(values, e.Value)
		}
	}
	return values, nil
}

func toEngineRule(r *store.Rule) *ruleengine.Rule {
	return &ruleengine.Rule{
		ID:             r.ID,
		Name:           r.Name,
		Priority:       r.Priority,
		Type:           r.MatchType,
		Key:            r.MatchKey,
		Values:         r.MatchValues,
		TargetVersion:  r.TargetVersion,
		TargetUpstream: r.TargetUpstream,
	}
}

func observeQuery(query string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "fail"
	}
	observability.StoreQueryDuration.WithLabelValues(query, status).Observe(time.Since(start).Seconds())
}

// storeError classifies a failed store read. ctx is the fetch context.
func storeError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// contextError maps the caller's context error.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
