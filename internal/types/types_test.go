package types

import (
	"sort"
	"testing"
)

func TestSchemaFieldsSorted(t *testing.T) {
	fields := SchemaFields()
	if len(fields) == 0 {
		t.Fatal("no schema fields")
	}
	if !sort.StringsAreSorted(fields) {
		t.Errorf("fields not sorted: %v", fields)
	}
	if !KnownField(fields[0]) {
		t.Errorf("unknown field %q in schema listing", fields[0])
	}
}

func TestRuleValidate(t *testing.T) {
	base := Rule{
		Name:      "Weight floor",
		Type:      RuleValidation,
		Field:     "entry_weight",
		Condition: Condition{Operator: OpLessThan, Threshold: 500},
		Action:    ActionFlag,
		IsActive:  true,
	}

	tests := []struct {
		name    string
		mutate  func(*Rule)
		wantErr bool
	}{
		{name: "valid validation rule", mutate: func(r *Rule) {}},
		{
			name:    "validation rule cannot mutate",
			mutate:  func(r *Rule) { r.Action = ActionStandardize },
			wantErr: true,
		},
		{
			name:    "validation rule may remove",
			mutate:  func(r *Rule) { r.Action = ActionRemove },
			wantErr: false,
		},
		{
			name:    "unknown field rejected",
			mutate:  func(r *Rule) { r.Field = "ear_tag_color" },
			wantErr: true,
		},
		{
			name:    "missing field rejected",
			mutate:  func(r *Rule) { r.Field = "" },
			wantErr: true,
		},
		{
			name: "between requires min < max",
			mutate: func(r *Rule) {
				r.Condition = Condition{Operator: OpBetween, Min: 1500, Max: 400}
			},
			wantErr: true,
		},
		{
			name: "estimation rule must estimate",
			mutate: func(r *Rule) {
				r.Type = RuleEstimation
				r.Action = ActionFlag
			},
			wantErr: true,
		},
		{
			name: "estimation rule valid",
			mutate: func(r *Rule) {
				r.Type = RuleEstimation
				r.Field = "weight"
				r.Condition = Condition{Operator: OpMissing}
				r.Action = ActionEstimate
			},
		},
		{
			name:    "confidence outside range",
			mutate:  func(r *Rule) { r.Confidence = 1.3 },
			wantErr: true,
		},
		{
			name: "equals requires value",
			mutate: func(r *Rule) {
				r.Condition = Condition{Operator: OpEquals}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := base
			tt.mutate(&rule)
			err := rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseOperatorSpellings(t *testing.T) {
	tests := []struct {
		in   string
		want Operator
	}{
		{"less_than", OpLessThan},
		{"<", OpLessThan},
		{"below", OpLessThan},
		{"GREATER_THAN", OpGreaterThan},
		{"between", OpBetween},
		{"missing", OpMissing},
		{"is_missing", OpMissing},
		{"regex", OpMatchesPattern},
		{"duplicate", OpDuplicate},
	}
	for _, tt := range tests {
		got, err := ParseOperator(tt.in)
		if err != nil {
			t.Fatalf("ParseOperator(%q) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseOperator(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := ParseOperator("sorta_near"); err == nil {
		t.Error("expected error for unknown operator")
	}
}

func TestRecordNumeric(t *testing.T) {
	rec := Record{
		LotID: "LOT001",
		Fields: map[string]string{
			"entry_weight": "450",
			"exit_weight":  " 1210.5 ",
			"breed":        "angus",
			"notes":        "",
		},
	}

	if v, ok := rec.Numeric("entry_weight"); !ok || v != 450 {
		t.Errorf("Numeric(entry_weight) = %v, %v", v, ok)
	}
	if v, ok := rec.Numeric("exit_weight"); !ok || v != 1210.5 {
		t.Errorf("Numeric(exit_weight) = %v, %v", v, ok)
	}
	if _, ok := rec.Numeric("breed"); ok {
		t.Error("non-numeric value should not coerce")
	}
	if _, ok := rec.Numeric("notes"); ok {
		t.Error("blank value should not coerce")
	}
	if _, ok := rec.Numeric("days_on_feed"); ok {
		t.Error("absent field should not coerce")
	}
}

func TestRecordCloneIsolation(t *testing.T) {
	rec := Record{LotID: "LOT002", Fields: map[string]string{"breed": "angus"}}
	clone := rec.Clone()
	clone.Fields["breed"] = "Angus"
	if rec.Fields["breed"] != "angus" {
		t.Error("Clone shares field map with original")
	}
}

func TestChangeCounts(t *testing.T) {
	var c ChangeCounts
	c.Add(ActionFlag)
	c.Add(ActionRemove)
	c.Add(ActionStandardize)
	c.Add(ActionEstimate)
	if c.Flagged != 1 || c.Removed != 1 || c.Changed != 2 || c.Estimated != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
	if c.Total() != 4 {
		t.Errorf("Total() = %d, want 4", c.Total())
	}
}
