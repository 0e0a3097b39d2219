// Package decision produces the gray-release routing decision for one
// request: cached rules are scanned in priority order and the first match
// wins.
package decision

import (
	"errors"
	"fmt"

	"github.com/rafaeljc/bifrost/internal/ruleengine"
)

// Errors surfaced when the rule store cannot be consulted. They are never
// returned for a request that simply matched no rule.
var (
	ErrStoreUnavailable = errors.New("rule store unavailable")
	ErrTimeout          = errors.New("decision timed out")
)

const (
	// StableVersion is the target version of the default decision.
	StableVersion = "stable"
	// NoMatchReason is the reason of the default decision.
	NoMatchReason = "No rule matched, default to stable"
)

// Decision is the routing verdict for one request.
// TargetUpstream and MatchedRule are nil when not applicable.
type Decision struct {
	ShouldGray     bool
	TargetVersion  string
	TargetUpstream *string
	MatchedRule    *string
	Reason         string
}

// Default returns the decision for a request that matched no rule.
func Default() Decision {
	return Decision{
		ShouldGray:    false,
		TargetVersion: StableVersion,
		Reason:        NoMatchReason,
	}
}

// fromRule returns the decision for a request matched by r.
func fromRule(r *ruleengine.Rule) Decision {
	name := r.Name
	d := Decision{
		ShouldGray:    true,
		TargetVersion: r.TargetVersion,
		MatchedRule:   &name,
		Reason:        fmt.Sprintf("Matched rule: %s (%s)", r.Name, r.Type),
	}
	if r.TargetUpstream != "" {
		upstream := r.TargetUpstream
		d.TargetUpstream = &upstream
	}
	return d
}
