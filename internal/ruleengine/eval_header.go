package ruleengine

// HeaderEvaluator matches when the header named by the rule key carries
// one of the rule's values. Header names are case-insensitive, values are not.
type HeaderEvaluator struct{}

func (e *HeaderEvaluator) Eval(rule *Rule, input Input) (bool, error) {
	if rule.Key == "" {
		return false, ErrMissingMatchKey
	}

	v, ok := input.Request.Header(rule.Key)
	if !ok || v == "" {
		return false, nil
	}
	return rule.Contains(v), nil
}
