package engine

import (
	"testing"
	"time"

	"dataherd/internal/types"
)

func TestParseTieBreak(t *testing.T) {
	if p, err := ParseTieBreak(""); err != nil || p != TieBreakPriority {
		t.Errorf("empty = %v, %v", p, err)
	}
	if p, err := ParseTieBreak("newest"); err != nil || p != TieBreakNewest {
		t.Errorf("newest = %v, %v", p, err)
	}
	if _, err := ParseTieBreak("bogus"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestOrderRulesPriorityThenNewest(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rules := []types.Rule{
		{ID: "unprioritized-old", CreatedAt: t0},
		{ID: "p2", Priority: 2, CreatedAt: t0},
		{ID: "unprioritized-new", CreatedAt: t0.Add(time.Hour)},
		{ID: "p1", Priority: 1, CreatedAt: t0},
	}

	got := orderRules(rules, TieBreakPriority)
	want := []string{"p1", "p2", "unprioritized-new", "unprioritized-old"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order[%d] = %s, want %s (full: %v)", i, got[i].ID, id, ids(got))
		}
	}

	// The input slice is untouched.
	if rules[0].ID != "unprioritized-old" {
		t.Error("orderRules mutated its input")
	}
}

func TestOrderRulesNewestIgnoresPriority(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rules := []types.Rule{
		{ID: "prioritized-old", Priority: 1, CreatedAt: t0},
		{ID: "newer", CreatedAt: t0.Add(time.Hour)},
	}
	got := orderRules(rules, TieBreakNewest)
	if got[0].ID != "newer" {
		t.Fatalf("order = %v, want newer first", ids(got))
	}
}

func ids(rules []types.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}
