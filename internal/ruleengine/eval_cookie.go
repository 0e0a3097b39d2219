package ruleengine

import (
	"fmt"
	"net/url"

	"github.com/rafaeljc/bifrost/internal/identity"
)

// CookieEvaluator reads the identity token stored in the cookie named by
// the rule key and matches its data.cname or data.name against the rule's
// values.
//
// The cookie value is percent-decoded first. Values without a recognised
// scheme prefix never match. The token signature is not verified.
type CookieEvaluator struct{}

func (e *CookieEvaluator) Eval(rule *Rule, input Input) (bool, error) {
	if rule.Key == "" {
		return false, ErrMissingMatchKey
	}

	raw, ok := input.Request.Cookie(rule.Key)
	if !ok || raw == "" {
		return false, nil
	}

	// PathUnescape keeps '+' literal, unlike QueryUnescape.
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return false, fmt.Errorf("%w: cookie %q is not valid percent-encoding", identity.ErrMalformedToken, rule.Key)
	}

	token, ok := identity.StripBearerPrefix(decoded)
	if !ok {
		return false, nil
	}

	claims, err := identity.DecodeUnverified(token)
	if err != nil {
		return false, err
	}

	for _, v := range claims.Values() {
		if rule.Contains(v) {
			return true, nil
		}
	}
	return false, nil
}
