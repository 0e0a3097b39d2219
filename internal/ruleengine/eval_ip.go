package ruleengine

// IPEvaluator matches the client IP literally against the rule's values.
// There is no CIDR or range support.
type IPEvaluator struct{}

func (e *IPEvaluator) Eval(rule *Rule, input Input) (bool, error) {
	ip := input.Request.IP()
	if ip == "" {
		return false, nil
	}
	return rule.Contains(ip), nil
}
