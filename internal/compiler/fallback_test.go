package compiler

import (
	"testing"

	"dataherd/internal/types"
)

func TestFallbackParse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantType types.RuleType
		wantOp   types.Operator
		field    string
		action   types.ActionType
	}{
		{
			name:     "below threshold",
			text:     "Flag lots where entry weight is below 500 pounds",
			wantOK:   true,
			wantType: types.RuleValidation,
			wantOp:   types.OpLessThan,
			field:    "entry_weight",
			action:   types.ActionFlag,
		},
		{
			name:     "above threshold with removal verb",
			text:     "remove lots with weight over 1600",
			wantOK:   true,
			wantType: types.RuleValidation,
			wantOp:   types.OpGreaterThan,
			field:    "weight",
			action:   types.ActionRemove,
		},
		{
			name:     "between range",
			text:     "flag lots with days on feed between 30 and 400",
			wantOK:   true,
			wantType: types.RuleValidation,
			wantOp:   types.OpBetween,
			field:    "days_on_feed",
			action:   types.ActionFlag,
		},
		{
			name:     "below or above reads as range",
			text:     "flag weights below 400 or above 1500",
			wantOK:   true,
			wantType: types.RuleValidation,
			wantOp:   types.OpBetween,
			field:    "weight",
			action:   types.ActionFlag,
		},
		{
			name:     "missing value flag",
			text:     "flag lots with missing birth date",
			wantOK:   true,
			wantType: types.RuleValidation,
			wantOp:   types.OpMissing,
			field:    "birth_date",
			action:   types.ActionFlag,
		},
		{
			name:     "missing value removal becomes cleaning",
			text:     "delete records with empty breed",
			wantOK:   true,
			wantType: types.RuleCleaning,
			wantOp:   types.OpMissing,
			field:    "breed",
			action:   types.ActionRemove,
		},
		{
			name:     "standardize",
			text:     "standardize breed names to proper case",
			wantOK:   true,
			wantType: types.RuleStandardization,
			wantOp:   types.OpMatchesPattern,
			field:    "breed",
			action:   types.ActionStandardize,
		},
		{
			name:     "duplicates",
			text:     "remove duplicate lot entries",
			wantOK:   true,
			wantType: types.RuleCleaning,
			wantOp:   types.OpDuplicate,
			field:    "lot_id",
			action:   types.ActionRemove,
		},
		{
			name:     "estimation",
			text:     "estimate missing exit weight from similar lots",
			wantOK:   true,
			wantType: types.RuleEstimation,
			wantOp:   types.OpMissing,
			field:    "exit_weight",
			action:   types.ActionEstimate,
		},
		{
			name:   "no recognizable field",
			text:   "tidy everything up",
			wantOK: false,
		},
		{
			name:   "numeric comparison on string field",
			text:   "flag breed below 500",
			wantOK: false,
		},
		{
			name:   "comparison without a number",
			text:   "flag lots with low weight",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := fallbackParse(tt.text, "")
			if ok != tt.wantOK {
				t.Fatalf("fallbackParse(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if rule.Type != tt.wantType {
				t.Errorf("type = %s, want %s", rule.Type, tt.wantType)
			}
			if rule.Condition.Operator != tt.wantOp {
				t.Errorf("operator = %s, want %s", rule.Condition.Operator, tt.wantOp)
			}
			if rule.Field != tt.field {
				t.Errorf("field = %s, want %s", rule.Field, tt.field)
			}
			if rule.Action != tt.action {
				t.Errorf("action = %s, want %s", rule.Action, tt.action)
			}
		})
	}
}

func TestFallbackEntryWeightWinsOverWeight(t *testing.T) {
	rule, ok := fallbackParse("flag entry weight under 450", "")
	if !ok {
		t.Fatal("expected a rule")
	}
	if rule.Field != "entry_weight" {
		t.Fatalf("field = %s, want entry_weight", rule.Field)
	}
	if rule.Condition.Threshold != 450 {
		t.Fatalf("threshold = %v, want 450", rule.Condition.Threshold)
	}
}

func TestFallbackBetweenOrdersBounds(t *testing.T) {
	rule, ok := fallbackParse("flag weight between 1500 and 400", "")
	if !ok {
		t.Fatal("expected a rule")
	}
	if rule.Condition.Min != 400 || rule.Condition.Max != 1500 {
		t.Fatalf("range = [%v, %v], want [400, 1500]", rule.Condition.Min, rule.Condition.Max)
	}
}
