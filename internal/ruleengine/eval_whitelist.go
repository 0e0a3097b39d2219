package ruleengine

// WhitelistEvaluator matches when the caller identity or IP belongs to the
// union of the rule's inline values and its whitelist entries.
//
// Entry value types are not consulted: a user_id entry may match an IP and
// the other way round.
type WhitelistEvaluator struct{}

func (e *WhitelistEvaluator) Eval(rule *Rule, input Input) (bool, error) {
	if len(rule.Values) == 0 && len(input.Whitelist) == 0 {
		return false, nil
	}

	candidates := make([]string, 0, 2)
	if id := input.Request.UserID(); id != "" {
		candidates = append(candidates, id)
	}
	if ip := input.Request.IP(); ip != "" {
		candidates = append(candidates, ip)
	}
	if len(candidates) == 0 {
		return false, nil
	}

	for _, c := range candidates {
		if rule.Contains(c) {
			return true, nil
		}
	}
	for _, v := range input.Whitelist {
		for _, c := range candidates {
			if v == c {
				return true, nil
			}
		}
	}
	return false, nil
}
