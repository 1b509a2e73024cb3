package compiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"dataherd/internal/types"
)

// Deterministic pattern fallback for when the LLM path is unavailable.
// The phrasing library covers the instructions feedlot operators actually
// type: numeric comparisons, missing values, breed standardization,
// duplicate removal, and weight estimation.

var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// fieldPhrases maps textual field mentions onto schema fields. Longer
// phrases are checked first so "entry weight" wins over "weight".
var fieldPhrases = []struct {
	phrase string
	field  string
}{
	{"entry weight", "entry_weight"},
	{"exit weight", "exit_weight"},
	{"feed conversion", "feed_conversion_ratio"},
	{"days on feed", "days_on_feed"},
	{"on feed", "days_on_feed"},
	{"birth date", "birth_date"},
	{"birthdate", "birth_date"},
	{"health status", "health_status"},
	{"health", "health_status"},
	{"feed type", "feed_type"},
	{"lot id", "lot_id"},
	{"weight", "weight"},
	{"breed", "breed"},
	{"date", "birth_date"},
}

func detectField(lower string) (string, bool) {
	for _, fp := range fieldPhrases {
		if strings.Contains(lower, fp.phrase) {
			return fp.field, true
		}
	}
	return "", false
}

func extractNumbers(text string) []float64 {
	var nums []float64
	for _, m := range numberRe.FindAllString(text, -1) {
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			nums = append(nums, f)
		}
	}
	return nums
}

func wantsRemoval(lower string) bool {
	for _, w := range []string{"delete", "remove", "drop", "discard"} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// fallbackParse resolves rule text against the phrasing library. ok is
// false when no pattern yields a field+condition+action triple.
func fallbackParse(text, clientContext string) (types.Rule, bool) {
	lower := strings.ToLower(text)

	// Duplicate removal is field-independent phrasing; check before field
	// detection since "duplicate lots" mentions no schema field.
	if strings.Contains(lower, "duplicate") {
		return types.Rule{
			Name:        "Remove duplicate lots",
			Description: "Remove duplicate entries based on lot ID",
			Type:        types.RuleCleaning,
			Field:       "lot_id",
			Condition:   types.Condition{Operator: types.OpDuplicate},
			Action:      types.ActionRemove,
			Confidence:  0.9,
		}, true
	}

	field, hasField := detectField(lower)
	if !hasField {
		return types.Rule{}, false
	}

	// Standardization ("standardize breed names").
	if strings.Contains(lower, "standard") || strings.Contains(lower, "normalize") {
		return types.Rule{
			Name:        fmt.Sprintf("Standardize %s", strings.ReplaceAll(field, "_", " ")),
			Description: fmt.Sprintf("Standardize %s values to canonical form", field),
			Type:        types.RuleStandardization,
			Field:       field,
			Condition:   types.Condition{Operator: types.OpMatchesPattern, Pattern: ".+"},
			Action:      types.ActionStandardize,
			Confidence:  0.8,
		}, true
	}

	// Estimation ("estimate missing weights").
	if strings.Contains(lower, "estimate") || strings.Contains(lower, "impute") {
		return types.Rule{
			Name:        fmt.Sprintf("Estimate missing %s", strings.ReplaceAll(field, "_", " ")),
			Description: fmt.Sprintf("Estimate missing %s from comparable lots", field),
			Type:        types.RuleEstimation,
			Field:       field,
			Condition:   types.Condition{Operator: types.OpMissing},
			Action:      types.ActionEstimate,
			Confidence:  0.6,
		}, true
	}

	action := types.ActionFlag
	if wantsRemoval(lower) {
		action = types.ActionRemove
	}

	// Missing-value checks ("remove lots with missing breed information").
	if strings.Contains(lower, "missing") || strings.Contains(lower, "empty") || strings.Contains(lower, "blank") {
		ruleType := types.RuleValidation
		if action == types.ActionRemove {
			ruleType = types.RuleCleaning
		}
		return types.Rule{
			Name:        fmt.Sprintf("Missing %s check", strings.ReplaceAll(field, "_", " ")),
			Description: fmt.Sprintf("%s lots with missing %s", capitalize(string(action)), field),
			Type:        ruleType,
			Field:       field,
			Condition:   types.Condition{Operator: types.OpMissing},
			Action:      action,
			Confidence:  0.7,
		}, true
	}

	// Numeric comparisons need a numeric field and at least one number.
	if types.FieldKindOf(field) != types.KindNumeric {
		return types.Rule{}, false
	}
	nums := extractNumbers(text)
	if len(nums) == 0 {
		return types.Rule{}, false
	}

	below := strings.Contains(lower, "below") || strings.Contains(lower, "under") || strings.Contains(lower, "less than")
	above := strings.Contains(lower, "above") || strings.Contains(lower, "over") || strings.Contains(lower, "more than") ||
		strings.Contains(lower, "greater than") || strings.Contains(lower, "exceed")
	between := strings.Contains(lower, "between") || strings.Contains(lower, "outside")

	var cond types.Condition
	switch {
	case between && len(nums) >= 2:
		min, max := nums[0], nums[1]
		if min > max {
			min, max = max, min
		}
		cond = types.Condition{Operator: types.OpBetween, Min: min, Max: max}
	case below && above && len(nums) >= 2:
		// "below 400 or above 1500" reads as an acceptable range check.
		min, max := nums[0], nums[1]
		if min > max {
			min, max = max, min
		}
		cond = types.Condition{Operator: types.OpBetween, Min: min, Max: max}
	case below:
		cond = types.Condition{Operator: types.OpLessThan, Threshold: nums[0]}
	case above:
		cond = types.Condition{Operator: types.OpGreaterThan, Threshold: nums[0]}
	default:
		return types.Rule{}, false
	}

	return types.Rule{
		Name:        fmt.Sprintf("%s check", capitalize(strings.ReplaceAll(field, "_", " "))),
		Description: fmt.Sprintf("%s lots where %s", capitalize(string(action)), cond.Describe(field)),
		Type:        types.RuleValidation,
		Field:       field,
		Condition:   cond,
		Action:      action,
		Confidence:  0.7,
	}, true
}
