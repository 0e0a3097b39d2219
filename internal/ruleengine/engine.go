package ruleengine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rafaeljc/bifrost/internal/identity"
)

// Engine dispatches a rule to the strategy named by its match type.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	strategies map[string]Evaluator
	logger     *slog.Logger
}

// New returns an Engine with the four built-in strategies.
// A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		logger: logger,
		strategies: map[string]Evaluator{
			MatchTypeWhitelist: &WhitelistEvaluator{},
			MatchTypeHeader:    &HeaderEvaluator{},
			MatchTypeCookie:    &CookieEvaluator{},
			MatchTypeIP:        &IPEvaluator{},
		},
	}
}

// Match reports whether rule matches input. It never fails: unknown match
// types and strategy errors count as no match.
func (e *Engine) Match(rule *Rule, input Input) bool {
	strategy, exists := e.strategies[rule.Type]
	if !exists {
		e.logger.Warn("skipping unknown rule type",
			slog.String("type", rule.Type),
			slog.Int64("rule_id", rule.ID),
			slog.String("rule", rule.Name),
		)
		return false
	}

	matched, err := strategy.Eval(rule, input)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, identity.ErrMalformedToken) {
			// Client-supplied data; expected noise.
			level = slog.LevelDebug
		}
		e.logger.Log(context.Background(), level, "rule evaluation failed",
			slog.Any("error", err),
			slog.Int64("rule_id", rule.ID),
			slog.String("type", rule.Type),
		)
		return false
	}

	return matched
}

// Evaluate returns the first rule in rules that matches req, or nil.
// whitelist supplies the entry values of a whitelist rule and is only
// invoked for whitelist rules actually reached. rules must already be in
// evaluation order (see SortRules).
func (e *Engine) Evaluate(rules []*Rule, req RequestContext, whitelist func(*Rule) ([]string, error)) (*Rule, error) {
	for _, rule := range rules {
		input := Input{Request: req}

		if rule.Type == MatchTypeWhitelist && whitelist != nil {
			values, err := whitelist(rule)
			if err != nil {
				return nil, err
			}
			input.Whitelist = values
		}

		if e.Match(rule, input) {
			return rule, nil
		}
	}
	return nil, nil
}
