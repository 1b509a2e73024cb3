package engine

import (
	"fmt"
	"sort"

	"dataherd/internal/types"
)

// TieBreak orders rules that target the same field so exactly one mutation
// wins per record field. The policy is an engine option, not a constant.
type TieBreak string

const (
	// TieBreakPriority applies rules in ascending priority order; rules
	// without a priority fall behind prioritized ones and are ordered
	// newest-created first among themselves.
	TieBreakPriority TieBreak = "priority"
	// TieBreakNewest ignores priorities and always lets the most recently
	// created rule win.
	TieBreakNewest TieBreak = "newest"
)

// ParseTieBreak validates a tie-break policy name.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case TieBreakPriority, "":
		return TieBreakPriority, nil
	case TieBreakNewest:
		return TieBreakNewest, nil
	}
	return "", fmt.Errorf("unknown tie-break policy %q", s)
}

// orderRules returns a copy of rules sorted by the tie-break policy. The
// sort is stable so equal rules keep their given order and previews stay
// deterministic.
func orderRules(rules []types.Rule, policy TieBreak) []types.Rule {
	ordered := make([]types.Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if policy == TieBreakPriority {
			switch {
			case a.Priority > 0 && b.Priority > 0:
				return a.Priority < b.Priority
			case a.Priority > 0:
				return true
			case b.Priority > 0:
				return false
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return ordered
}
