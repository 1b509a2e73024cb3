// Package engine evaluates rules against records and drives batch
// processing: Preview computes a change-set without side effects, Apply
// commits it through the ledger and storage.
package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"dataherd/internal/types"
)

// breedCanonical maps lowercase breed spellings onto their canonical
// capitalization. Unlisted breeds fall back to title case.
var breedCanonical = map[string]string{
	"angus":     "Angus",
	"hereford":  "Hereford",
	"holstein":  "Holstein",
	"charolais": "Charolais",
	"simmental": "Simmental",
	"limousin":  "Limousin",
}

// breedAverageWeight carries typical finished weights in pounds, used as
// the estimation prior when batch data is thin.
var breedAverageWeight = map[string]float64{
	"Angus":     1250,
	"Hereford":  1200,
	"Holstein":  1400,
	"Charolais": 1350,
	"Simmental": 1300,
	"Limousin":  1250,
}

// weightFields are the numeric fields the breed prior applies to.
var weightFields = map[string]bool{
	"weight":       true,
	"entry_weight": true,
	"exit_weight":  true,
}

// Evaluator evaluates one rule against one record. It caches compiled
// patterns and may be primed with batch statistics so estimation rules can
// draw on the batch median.
type Evaluator struct {
	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
	medians  map[string]float64
}

// NewEvaluator creates an Evaluator with an empty pattern cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		patterns: make(map[string]*regexp.Regexp),
		medians:  make(map[string]float64),
	}
}

// PrimeBatch computes per-field medians over the batch's parseable numeric
// values. Estimation outcomes prefer the breed prior for weight fields and
// fall back to these medians; without priming, estimates on thin fields
// yield NoMatch with a diagnostic.
func (e *Evaluator) PrimeBatch(records []types.Record) {
	medians := make(map[string]float64)
	for _, field := range types.SchemaFields() {
		if types.FieldKindOf(field) != types.KindNumeric {
			continue
		}
		var values []float64
		for _, rec := range records {
			if v, ok := rec.Numeric(field); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		sort.Float64s(values)
		mid := len(values) / 2
		if len(values)%2 == 0 {
			medians[field] = (values[mid-1] + values[mid]) / 2
		} else {
			medians[field] = values[mid]
		}
	}
	e.mu.Lock()
	e.medians = medians
	e.mu.Unlock()
}

// Evaluate applies one rule's condition to one record and, on match,
// computes the resulting mutation for mutating actions. Duplicate
// conditions need batch context and are resolved by the processor, not
// here.
func (e *Evaluator) Evaluate(rule types.Rule, record types.Record) types.Outcome {
	cond := rule.Condition
	raw, present := record.Get(rule.Field)
	value := strings.TrimSpace(raw)

	switch cond.Operator {
	case types.OpMissing:
		if e.isMissing(rule.Field, value, present) {
			return e.matched(rule, record, value)
		}
		return types.NoMatch("")

	case types.OpLessThan, types.OpGreaterThan, types.OpBetween:
		num, ok := record.Numeric(rule.Field)
		if !ok {
			if value == "" && !present {
				return types.NoMatch("")
			}
			return types.NoMatch(fmt.Sprintf("lot %s: %s value %q is not numeric", record.LotID, rule.Field, value))
		}
		var hit bool
		switch cond.Operator {
		case types.OpLessThan:
			hit = num < cond.Threshold
		case types.OpGreaterThan:
			hit = num > cond.Threshold
		case types.OpBetween:
			// Between conditions flag values OUTSIDE the acceptable range.
			hit = num < cond.Min || num > cond.Max
		}
		if hit {
			return e.matched(rule, record, value)
		}
		return types.NoMatch("")

	case types.OpEquals:
		if present && strings.EqualFold(value, cond.Value) {
			return e.matched(rule, record, value)
		}
		return types.NoMatch("")

	case types.OpNotEquals:
		if present && !strings.EqualFold(value, cond.Value) {
			return e.matched(rule, record, value)
		}
		return types.NoMatch("")

	case types.OpContains:
		if present && strings.Contains(strings.ToLower(value), strings.ToLower(cond.Value)) {
			return e.matched(rule, record, value)
		}
		return types.NoMatch("")

	case types.OpMatchesPattern:
		if !present || value == "" {
			return types.NoMatch("")
		}
		re, err := e.pattern(cond.Pattern)
		if err != nil {
			return types.NoMatch(fmt.Sprintf("rule %s: invalid pattern %q: %v", rule.ID, cond.Pattern, err))
		}
		if re.MatchString(value) {
			return e.matched(rule, record, value)
		}
		return types.NoMatch("")

	case types.OpDuplicate:
		return types.NoMatch(fmt.Sprintf("rule %s: duplicate detection requires batch context", rule.ID))
	}

	return types.NoMatch(fmt.Sprintf("rule %s: unknown operator %q", rule.ID, cond.Operator))
}

// matched builds the outcome for a condition hit: flag/remove match without
// a mutation, standardize/correct and estimate compute one.
func (e *Evaluator) matched(rule types.Rule, record types.Record, value string) types.Outcome {
	switch rule.Action {
	case types.ActionFlag, types.ActionRemove:
		return types.Match(nil)
	case types.ActionStandardize, types.ActionCorrect:
		return e.standardize(rule, value)
	case types.ActionEstimate:
		return e.estimate(rule, record, value)
	}
	return types.NoMatch(fmt.Sprintf("rule %s: unknown action %q", rule.ID, rule.Action))
}

// standardize computes the canonical form for a matched value. An already
// canonical value is NoMatch so no empty change entries appear in previews.
func (e *Evaluator) standardize(rule types.Rule, value string) types.Outcome {
	if value == "" {
		return types.NoMatch("")
	}
	var canonical string
	if rule.Field == "breed" {
		if mapped, ok := breedCanonical[strings.ToLower(value)]; ok {
			canonical = mapped
		} else {
			canonical = titleCase(value)
		}
	} else {
		canonical = titleCase(value)
	}
	if canonical == value {
		return types.NoMatch("")
	}
	return types.Match(&types.FieldMutation{
		Field:      rule.Field,
		Original:   value,
		Suggested:  canonical,
		Confidence: rule.Confidence,
		Reason:     fmt.Sprintf("standardized %q to %q", value, canonical),
	})
}

// estimate proposes a value for a missing numeric field. The mutation's
// confidence is per-record: the breed prior is trusted more than a batch
// median, and an unknown breed degrades it further.
func (e *Evaluator) estimate(rule types.Rule, record types.Record, value string) types.Outcome {
	if types.FieldKindOf(rule.Field) != types.KindNumeric {
		return types.NoMatch(fmt.Sprintf("rule %s: cannot estimate non-numeric field %s", rule.ID, rule.Field))
	}

	if weightFields[rule.Field] {
		breed, _ := record.Get("breed")
		canonical := breedCanonical[strings.ToLower(strings.TrimSpace(breed))]
		if avg, ok := breedAverageWeight[canonical]; ok {
			return types.Match(&types.FieldMutation{
				Field:      rule.Field,
				Original:   value,
				Suggested:  formatNumber(avg),
				Confidence: 0.8,
				Reason:     fmt.Sprintf("estimated from %s breed average", canonical),
			})
		}
	}

	e.mu.Lock()
	median, ok := e.medians[rule.Field]
	e.mu.Unlock()
	if !ok {
		return types.NoMatch(fmt.Sprintf("lot %s: no data to estimate %s from", record.LotID, rule.Field))
	}
	return types.Match(&types.FieldMutation{
		Field:      rule.Field,
		Original:   value,
		Suggested:  formatNumber(median),
		Confidence: 0.5,
		Reason:     fmt.Sprintf("estimated from batch median %s", rule.Field),
	})
}

// isMissing reports whether a value counts as missing for its declared
// kind: absent, blank, or unparseable for numeric fields.
func (e *Evaluator) isMissing(field, value string, present bool) bool {
	if !present || value == "" {
		return true
	}
	if types.FieldKindOf(field) == types.KindNumeric {
		rec := types.Record{Fields: map[string]string{field: value}}
		if _, ok := rec.Numeric(field); !ok {
			return true
		}
	}
	return false
}

func (e *Evaluator) pattern(expr string) (*regexp.Regexp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.patterns[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	e.patterns[expr] = re
	return re, nil
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}
