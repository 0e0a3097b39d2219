package ruleengine

import "errors"

// ErrMissingMatchKey is returned by the header and cookie strategies when
// the rule has no key configured.
var ErrMissingMatchKey = errors.New("rule has no match key")

// Evaluator is implemented by every match strategy.
//
// Eval reports whether rule matches input. A non-nil error always comes
// with false; the Engine logs it and moves on to the next rule.
type Evaluator interface {
	Eval(rule *Rule, input Input) (bool, error)
}
