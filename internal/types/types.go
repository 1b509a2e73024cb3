// Package types provides shared type definitions used across DataHerd packages.
// This package exists to break import cycles between compiler, engine, store,
// and ledger. Types here are foundational data structures with no complex
// dependencies.
package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RuleType classifies what a rule is allowed to do to a record.
type RuleType string

const (
	RuleValidation      RuleType = "validation"
	RuleStandardization RuleType = "standardization"
	RuleCleaning        RuleType = "cleaning"
	RuleEstimation      RuleType = "estimation"
)

// ParseRuleType validates a rule type string.
func ParseRuleType(s string) (RuleType, error) {
	switch RuleType(strings.ToLower(strings.TrimSpace(s))) {
	case RuleValidation:
		return RuleValidation, nil
	case RuleStandardization:
		return RuleStandardization, nil
	case RuleCleaning:
		return RuleCleaning, nil
	case RuleEstimation:
		return RuleEstimation, nil
	}
	return "", fmt.Errorf("unknown rule type %q", s)
}

// Operator identifies how a condition compares a field against its operands.
type Operator string

const (
	OpLessThan       Operator = "less_than"
	OpGreaterThan    Operator = "greater_than"
	OpBetween        Operator = "between"
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpContains       Operator = "contains"
	OpMissing        Operator = "missing"
	OpMatchesPattern Operator = "matches_pattern"
	OpDuplicate      Operator = "duplicate"
)

// ParseOperator validates an operator string, accepting the loose spellings
// the LLM tends to emit ("<", ">", "lt", "gt").
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "less_than", "<", "lt", "below":
		return OpLessThan, nil
	case "greater_than", ">", "gt", "above":
		return OpGreaterThan, nil
	case "between", "range":
		return OpBetween, nil
	case "equals", "==", "=", "eq":
		return OpEquals, nil
	case "not_equals", "!=", "ne":
		return OpNotEquals, nil
	case "contains":
		return OpContains, nil
	case "missing", "is_missing", "null", "empty":
		return OpMissing, nil
	case "matches_pattern", "matches", "pattern", "regex":
		return OpMatchesPattern, nil
	case "duplicate", "duplicated":
		return OpDuplicate, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// ActionType identifies what happens to a record when a condition matches.
type ActionType string

const (
	ActionFlag        ActionType = "flag"
	ActionRemove      ActionType = "remove"
	ActionStandardize ActionType = "standardize"
	ActionEstimate    ActionType = "estimate"
	ActionCorrect     ActionType = "correct"
)

// ParseAction validates an action string, folding loose vocabulary
// ("delete", "flag_as_error") onto the canonical set.
func ParseAction(s string) (ActionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flag", "flag_as_error", "mark", "review":
		return ActionFlag, nil
	case "remove", "delete", "drop", "remove_duplicates":
		return ActionRemove, nil
	case "standardize", "standardize_capitalization", "normalize":
		return ActionStandardize, nil
	case "estimate", "impute":
		return ActionEstimate, nil
	case "correct", "fix", "modify":
		return ActionCorrect, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Condition is the typed operand block for one rule. Exactly the operands
// required by Operator are meaningful; Validate enforces that at compile
// time so evaluation never has to guess at a loose parameter map.
type Condition struct {
	Operator  Operator `json:"operator" yaml:"operator"`
	Threshold float64  `json:"threshold,omitempty" yaml:"threshold,omitempty"` // less_than / greater_than
	Min       float64  `json:"min,omitempty" yaml:"min,omitempty"`             // between
	Max       float64  `json:"max,omitempty" yaml:"max,omitempty"`             // between
	Value     string   `json:"value,omitempty" yaml:"value,omitempty"`         // equals / not_equals / contains
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`     // matches_pattern
}

// Validate checks operator/operand consistency.
func (c Condition) Validate() error {
	switch c.Operator {
	case OpLessThan, OpGreaterThan:
		// Threshold of zero is a legal operand (e.g. "below 0 days on feed"),
		// so no further check.
		return nil
	case OpBetween:
		if c.Min >= c.Max {
			return fmt.Errorf("between condition requires min < max (got %v..%v)", c.Min, c.Max)
		}
		return nil
	case OpEquals, OpNotEquals, OpContains:
		if c.Value == "" {
			return fmt.Errorf("%s condition requires a comparison value", c.Operator)
		}
		return nil
	case OpMatchesPattern:
		if c.Pattern == "" {
			return fmt.Errorf("matches_pattern condition requires a pattern")
		}
		return nil
	case OpMissing, OpDuplicate:
		return nil
	case "":
		return fmt.Errorf("condition operator is empty")
	}
	return fmt.Errorf("unknown operator %q", c.Operator)
}

// Describe renders the condition for operators and logs.
func (c Condition) Describe(field string) string {
	switch c.Operator {
	case OpLessThan:
		return fmt.Sprintf("%s < %v", field, c.Threshold)
	case OpGreaterThan:
		return fmt.Sprintf("%s > %v", field, c.Threshold)
	case OpBetween:
		return fmt.Sprintf("%s outside %v..%v", field, c.Min, c.Max)
	case OpEquals:
		return fmt.Sprintf("%s == %q", field, c.Value)
	case OpNotEquals:
		return fmt.Sprintf("%s != %q", field, c.Value)
	case OpContains:
		return fmt.Sprintf("%s contains %q", field, c.Value)
	case OpMissing:
		return fmt.Sprintf("%s is missing", field)
	case OpMatchesPattern:
		return fmt.Sprintf("%s matches %q", field, c.Pattern)
	case OpDuplicate:
		return fmt.Sprintf("%s is duplicated", field)
	}
	return string(c.Operator)
}

// Rule is a structured, executable representation of a cleaning instruction.
type Rule struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Type        RuleType   `json:"rule_type" yaml:"rule_type"`
	Field       string     `json:"field" yaml:"field"`
	Condition   Condition  `json:"condition" yaml:"condition"`
	Action      ActionType `json:"action" yaml:"action"`

	// Confidence is assigned at compile time: the model's own certainty
	// signal clipped to [0,1], or the fallback parser's fixed per-pattern
	// confidence (capped at 0.7).
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// ClientContext scopes applicability; empty means global.
	ClientContext string `json:"client_context,omitempty" yaml:"client_context,omitempty"`

	// Priority orders rules targeting the same field; 0 means unset.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	IsPermanent bool `json:"is_permanent" yaml:"is_permanent"`
	IsActive    bool `json:"is_active" yaml:"is_active"`

	UsageCount  int64      `json:"usage_count" yaml:"usage_count"`
	SuccessRate float64    `json:"success_rate" yaml:"success_rate"`
	LastUsed    *time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
}

// Validate enforces the structural invariants a compiled rule must satisfy.
// Validation rules may only flag or remove; they never mutate field values.
func (r Rule) Validate() error {
	if r.Field == "" {
		return fmt.Errorf("rule %q has no target field", r.Name)
	}
	if !KnownField(r.Field) {
		return fmt.Errorf("rule %q targets unknown field %q", r.Name, r.Field)
	}
	if _, err := ParseRuleType(string(r.Type)); err != nil {
		return err
	}
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	switch r.Type {
	case RuleValidation:
		if r.Action != ActionFlag && r.Action != ActionRemove {
			return fmt.Errorf("validation rule %q may only flag or remove, got %q", r.Name, r.Action)
		}
	case RuleStandardization:
		if r.Action != ActionStandardize && r.Action != ActionCorrect {
			return fmt.Errorf("standardization rule %q cannot %q", r.Name, r.Action)
		}
	case RuleEstimation:
		if r.Action != ActionEstimate {
			return fmt.Errorf("estimation rule %q cannot %q", r.Name, r.Action)
		}
	case RuleCleaning:
		// Cleaning rules may take any action.
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("rule %q confidence %v outside [0,1]", r.Name, r.Confidence)
	}
	return nil
}

// Mutates reports whether the rule's action changes a field value.
func (r Rule) Mutates() bool {
	switch r.Action {
	case ActionStandardize, ActionEstimate, ActionCorrect:
		return true
	}
	return false
}

// FieldKind is the declared semantic type of a record field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumeric
	KindDate
)

// schema declares the cattle-lot fields the core understands: the
// cattle_records columns plus the feedlot measures the rule parser is
// prompted with.
var schema = map[string]FieldKind{
	"lot_id":                KindString,
	"batch_id":              KindString,
	"weight":                KindNumeric,
	"entry_weight":          KindNumeric,
	"exit_weight":           KindNumeric,
	"days_on_feed":          KindNumeric,
	"feed_conversion_ratio": KindNumeric,
	"breed":                 KindString,
	"birth_date":            KindDate,
	"health_status":         KindString,
	"feed_type":             KindString,
	"status":                KindString,
}

// KnownField reports whether the field is part of the declared schema.
func KnownField(field string) bool {
	_, ok := schema[field]
	return ok
}

// FieldKindOf returns the declared kind for a field (KindString for unknown).
func FieldKindOf(field string) FieldKind {
	return schema[field]
}

// SchemaFields returns the declared field names, sorted for prompt stability.
func SchemaFields() []string {
	fields := make([]string, 0, len(schema))
	for f := range schema {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Record is a single cattle-lot row. Field values travel as strings and are
// coerced per the declared schema at evaluation time; a value that cannot be
// coerced is treated as missing/no-match, never as a fault.
type Record struct {
	LotID  string            `json:"lot_id"`
	Fields map[string]string `json:"fields"`
}

// Get returns the raw value for a field. The lot id is addressable as a
// field so duplicate detection can target it.
func (r Record) Get(field string) (string, bool) {
	if field == "lot_id" {
		return r.LotID, true
	}
	v, ok := r.Fields[field]
	return v, ok
}

// Clone copies the record; mutation paths operate on copies so preview
// stays side-effect-free.
func (r Record) Clone() Record {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{LotID: r.LotID, Fields: fields}
}

// Numeric coerces a field value. ok is false for absent, blank, or
// non-numeric values.
func (r Record) Numeric(field string) (float64, bool) {
	raw, present := r.Get(field)
	if !present {
		return 0, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FieldMutation is one proposed value change for a single record field.
// Confidence is the per-record sub-confidence of the proposed value (for
// estimates it varies with how much supporting data the record carries),
// distinct from the rule's compile-time confidence.
type FieldMutation struct {
	Field      string  `json:"field"`
	Original   string  `json:"original"`
	Suggested  string  `json:"suggested"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Outcome is the result of evaluating one rule against one record.
type Outcome struct {
	Matched  bool
	Mutation *FieldMutation
	// Diagnostic carries recoverable evaluation problems (type mismatch on
	// a numeric comparison) that were absorbed as NoMatch.
	Diagnostic string
}

// NoMatch is the zero outcome, optionally annotated with a diagnostic.
func NoMatch(diagnostic string) Outcome {
	return Outcome{Diagnostic: diagnostic}
}

// Match builds a matching outcome; mutation may be nil for flag/remove.
func Match(mutation *FieldMutation) Outcome {
	return Outcome{Matched: true, Mutation: mutation}
}
