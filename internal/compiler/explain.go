package compiler

import (
	"fmt"
	"strings"

	"dataherd/internal/types"
)

// Explanation is a human-readable account of what a rule does, rendered
// deterministically for review surfaces.
type Explanation struct {
	Summary     string   `json:"summary"`
	RuleType    string   `json:"rule_type"`
	Field       string   `json:"field"`
	WhatItDoes  string   `json:"what_it_does"`
	WhenApplied string   `json:"when_it_applies"`
	ActionTaken string   `json:"action_taken"`
	Confidence  float64  `json:"confidence"`
	Examples    []string `json:"examples,omitempty"`
}

// ExplainRule generates the explanation for a compiled rule.
func ExplainRule(rule types.Rule) Explanation {
	ex := Explanation{
		Summary:     rule.Description,
		RuleType:    string(rule.Type),
		Field:       rule.Field,
		WhenApplied: rule.Condition.Describe(rule.Field),
		ActionTaken: string(rule.Action),
		Confidence:  rule.Confidence,
	}

	fieldLabel := strings.ReplaceAll(rule.Field, "_", " ")
	switch rule.Type {
	case types.RuleValidation:
		ex.WhatItDoes = fmt.Sprintf("Validates that %s values meet the specified criteria", fieldLabel)
		switch rule.Condition.Operator {
		case types.OpLessThan:
			ex.Examples = []string{
				fmt.Sprintf("A %s of %.0f is %s (below %.0f)", fieldLabel, rule.Condition.Threshold-50, actionPast(rule.Action), rule.Condition.Threshold),
				fmt.Sprintf("A %s of %.0f passes", fieldLabel, rule.Condition.Threshold+100),
			}
		case types.OpBetween:
			ex.Examples = []string{
				fmt.Sprintf("A %s inside %.0f-%.0f passes", fieldLabel, rule.Condition.Min, rule.Condition.Max),
				fmt.Sprintf("A %s outside that range is %s", fieldLabel, actionPast(rule.Action)),
			}
		}
	case types.RuleStandardization:
		ex.WhatItDoes = fmt.Sprintf("Standardizes %s values to a consistent format", fieldLabel)
		if rule.Field == "breed" {
			ex.Examples = []string{
				"'angus' becomes 'Angus'",
				"'HEREFORD' becomes 'Hereford'",
			}
		}
	case types.RuleCleaning:
		ex.WhatItDoes = fmt.Sprintf("Cleans problematic %s values out of the batch", fieldLabel)
		if rule.Condition.Operator == types.OpDuplicate {
			ex.Examples = []string{
				"First occurrence of a lot ID is kept",
				"Later occurrences are removed",
			}
		}
	case types.RuleEstimation:
		ex.WhatItDoes = fmt.Sprintf("Estimates missing %s values from available data", fieldLabel)
		ex.Examples = []string{
			"Each estimate carries its own confidence score",
		}
	}
	return ex
}

func actionPast(a types.ActionType) string {
	switch a {
	case types.ActionFlag:
		return "flagged"
	case types.ActionRemove:
		return "removed"
	case types.ActionStandardize:
		return "standardized"
	case types.ActionCorrect:
		return "corrected"
	case types.ActionEstimate:
		return "estimated"
	}
	return string(a)
}
