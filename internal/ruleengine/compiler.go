package ruleengine

import (
	"cmp"
	"slices"
)

// Compile builds the lookup set for r.Values. It is idempotent.
func (r *Rule) Compile() {
	set := make(map[string]struct{}, len(r.Values))
	for _, v := range r.Values {
		set[v] = struct{}{}
	}
	r.set = set
}

// Contains reports whether v is one of the rule's match values.
func (r *Rule) Contains(v string) bool {
	if r.set == nil {
		return slices.Contains(r.Values, v)
	}
	_, ok := r.set[v]
	return ok
}

// CompileRules compiles every rule in place.
func CompileRules(rules []*Rule) {
	for _, r := range rules {
		r.Compile()
	}
}

// SortRules orders rules for evaluation: priority descending, then id
// ascending. Ids are unique, so the order is total.
func SortRules(rules []*Rule) {
	slices.SortStableFunc(rules, func(a, b *Rule) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
