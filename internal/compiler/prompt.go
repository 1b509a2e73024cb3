package compiler

import (
	"fmt"
	"strings"

	"dataherd/internal/types"
)

const systemPromptHeader = `You are an expert data cleaning specialist for cattle lot management systems.
Your task is to convert one natural language data cleaning rule into a structured JSON object.

Cattle lot records carry these fields:
%s

Field semantics: weights are pounds (typical range 400-1500 lbs), breed is a
cattle breed name (Angus, Hereford, Holstein, Charolais, Simmental, Limousin),
birth_date is YYYY-MM-DD, lot_id is a unique alphanumeric identifier.

Common data quality issues: weight entry errors (missing digits, decimal
errors, unrealistic values), breed case mismatches and misspellings, invalid
or future birth dates, duplicate lot_ids, missing critical fields.

Return exactly one JSON object with these keys:
{
  "name": "short rule name",
  "rule_type": "validation|standardization|cleaning|estimation",
  "field": "target field name from the list above",
  "operator": "less_than|greater_than|between|equals|not_equals|contains|missing|matches_pattern|duplicate",
  "threshold": <number, for less_than/greater_than>,
  "min": <number, for between>,
  "max": <number, for between>,
  "value": "<string, for equals/not_equals/contains>",
  "pattern": "<regex, for matches_pattern>",
  "action": "flag|remove|standardize|estimate|correct",
  "confidence": <your certainty that this captures the intent, 0.0-1.0>,
  "description": "one sentence restating the rule"
}

Rules of type validation may only use the flag or remove action.
Return only the JSON object, no additional text.`

// buildSystemPrompt renders the schema-aware system prompt.
func buildSystemPrompt() string {
	return fmt.Sprintf(systemPromptHeader, strings.Join(types.SchemaFields(), ", "))
}

// buildUserPrompt renders the rule text with client context and any stored
// client-specific rules; their thresholds steer the extraction.
func buildUserPrompt(text, clientContext string, clientRules []types.Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Convert this data cleaning rule:\n\nRule: %s\n", text)

	if clientContext != "" {
		fmt.Fprintf(&b, "\nClient: %s\n", clientContext)
		b.WriteString("Consider any client-specific requirements or thresholds.\n")
	}

	if len(clientRules) > 0 {
		b.WriteString("\nExisting rules for this client (for threshold context):\n")
		limit := len(clientRules)
		if limit > 5 {
			limit = 5
		}
		for _, r := range clientRules[:limit] {
			fmt.Fprintf(&b, "- %s: %s\n", r.Name, r.Condition.Describe(r.Field))
		}
	}

	b.WriteString("\nReturn only the JSON object.")
	return b.String()
}
