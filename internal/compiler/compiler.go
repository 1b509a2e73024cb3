// Package compiler turns natural-language cleaning instructions into
// structured, executable rules. The LLM-backed path is attempted first;
// pattern-matching fallback is a first-class branch, not an exception
// handler, so tests can force either path through the LLMClient interface.
package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"dataherd/internal/logging"
	"dataherd/internal/types"
)

// ClientRuleSource supplies stored rules for a client so their thresholds
// can steer LLM extraction. Usually the rule store; nil disables the lookup.
type ClientRuleSource interface {
	RulesForClient(client string) ([]types.Rule, error)
}

// Compiler compiles rule text into types.Rule.
type Compiler struct {
	client  LLMClient
	rules   ClientRuleSource
	timeout time.Duration
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithClient sets the LLM client. A nil client (service not configured)
// makes pattern fallback the only path.
func WithClient(client LLMClient) Option {
	return func(c *Compiler) { c.client = client }
}

// WithClientRuleSource enables client-threshold context in prompts.
func WithClientRuleSource(src ClientRuleSource) Option {
	return func(c *Compiler) { c.rules = src }
}

// WithTimeout bounds the LLM call; fallback applies after expiry.
func WithTimeout(d time.Duration) Option {
	return func(c *Compiler) { c.timeout = d }
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// fallbackConfidenceCap bounds fallback-derived rules below high-confidence
// LLM rules.
const fallbackConfidenceCap = 0.7

// Compile turns natural-language text into a structured rule. Pure: saving
// the rule is a separate, explicit store call.
//
// LLM unavailability or a malformed response routes to the pattern
// fallback. A typed error comes back only when neither path resolves a
// field+condition+action triple (ErrAmbiguous) or the resolved field is
// outside the schema (ErrUnknownField).
func (c *Compiler) Compile(ctx context.Context, text, clientContext string) (types.Rule, error) {
	timer := logging.StartTimer(logging.CategoryCompiler, "Compile")
	defer timer.Stop()

	text = strings.TrimSpace(text)
	if text == "" {
		return types.Rule{}, &types.CompileError{Text: text, Err: types.ErrAmbiguous}
	}

	if c.client != nil {
		rule, err := c.llmCompile(ctx, text, clientContext)
		if err == nil {
			logging.Compiler("compiled via llm: %s (confidence %.2f)", rule.Name, rule.Confidence)
			return rule, nil
		}
		// An unknown field is a resolved-but-invalid extraction; surfacing
		// it beats letting the fallback guess a different field.
		if errors.Is(err, types.ErrUnknownField) {
			return types.Rule{}, err
		}
		logging.Compiler("llm path unavailable (%v), using pattern fallback", err)
	}

	rule, ok := fallbackParse(text, clientContext)
	if !ok {
		return types.Rule{}, &types.CompileError{Text: text, Err: types.ErrAmbiguous}
	}
	if rule.Confidence > fallbackConfidenceCap {
		rule.Confidence = fallbackConfidenceCap
	}
	c.finalize(&rule, text, clientContext)
	if err := rule.Validate(); err != nil {
		return types.Rule{}, &types.CompileError{Text: text, Err: fmt.Errorf("%w: %v", types.ErrAmbiguous, err)}
	}
	logging.Compiler("compiled via fallback: %s (confidence %.2f)", rule.Name, rule.Confidence)
	return rule, nil
}

// llmRule mirrors the JSON shape the model is prompted to emit.
type llmRule struct {
	Name        string   `json:"name"`
	RuleType    string   `json:"rule_type"`
	Field       string   `json:"field"`
	Operator    string   `json:"operator"`
	Threshold   *float64 `json:"threshold"`
	Min         *float64 `json:"min"`
	Max         *float64 `json:"max"`
	Value       string   `json:"value"`
	Pattern     string   `json:"pattern"`
	Action      string   `json:"action"`
	Confidence  *float64 `json:"confidence"`
	Description string   `json:"description"`
}

func (c *Compiler) llmCompile(ctx context.Context, text, clientContext string) (types.Rule, error) {
	var clientRules []types.Rule
	if c.rules != nil && clientContext != "" {
		if rules, err := c.rules.RulesForClient(clientContext); err == nil {
			clientRules = rules
		} else {
			logging.CompilerDebug("client rule lookup failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response, err := c.client.CompleteWithSystem(ctx, buildSystemPrompt(), buildUserPrompt(text, clientContext, clientRules))
	if err != nil {
		return types.Rule{}, fmt.Errorf("%w: %v", types.ErrServiceUnavailable, err)
	}

	payload, err := extractJSON(response)
	if err != nil {
		return types.Rule{}, fmt.Errorf("%w: %v", types.ErrServiceUnavailable, err)
	}

	var raw llmRule
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return types.Rule{}, fmt.Errorf("%w: malformed rule JSON: %v", types.ErrServiceUnavailable, err)
	}

	rule, err := c.structure(raw, text, clientContext)
	if err != nil {
		return types.Rule{}, err
	}
	return rule, nil
}

// structure converts the loose LLM payload into a validated Rule.
func (c *Compiler) structure(raw llmRule, text, clientContext string) (types.Rule, error) {
	if raw.Field == "" || raw.Operator == "" || raw.Action == "" {
		return types.Rule{}, &types.CompileError{Text: text, Err: types.ErrAmbiguous}
	}
	field := strings.ToLower(strings.TrimSpace(raw.Field))
	if !types.KnownField(field) {
		return types.Rule{}, &types.CompileError{Text: text, Err: fmt.Errorf("%w: %q", types.ErrUnknownField, raw.Field)}
	}

	ruleType, err := types.ParseRuleType(raw.RuleType)
	if err != nil {
		return types.Rule{}, &types.CompileError{Text: text, Err: fmt.Errorf("%w: %v", types.ErrAmbiguous, err)}
	}
	operator, err := types.ParseOperator(raw.Operator)
	if err != nil {
		return types.Rule{}, &types.CompileError{Text: text, Err: fmt.Errorf("%w: %v", types.ErrAmbiguous, err)}
	}
	action, err := types.ParseAction(raw.Action)
	if err != nil {
		return types.Rule{}, &types.CompileError{Text: text, Err: fmt.Errorf("%w: %v", types.ErrAmbiguous, err)}
	}

	cond := types.Condition{Operator: operator, Value: raw.Value, Pattern: raw.Pattern}
	if raw.Threshold != nil {
		cond.Threshold = *raw.Threshold
	}
	if raw.Min != nil {
		cond.Min = *raw.Min
	}
	if raw.Max != nil {
		cond.Max = *raw.Max
	}

	// Model certainty signal, clipped to [0,1]. Absent means a cautious 0.8.
	confidence := 0.8
	if raw.Confidence != nil {
		confidence = *raw.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	rule := types.Rule{
		Name:        raw.Name,
		Description: raw.Description,
		Type:        ruleType,
		Field:       field,
		Condition:   cond,
		Action:      action,
		Confidence:  confidence,
	}
	c.finalize(&rule, text, clientContext)
	if err := rule.Validate(); err != nil {
		return types.Rule{}, &types.CompileError{Text: text, Err: fmt.Errorf("%w: %v", types.ErrAmbiguous, err)}
	}
	return rule, nil
}

// finalize stamps identity and defaults shared by both compile paths.
func (c *Compiler) finalize(rule *types.Rule, text, clientContext string) {
	rule.ID = uuid.NewString()
	rule.ClientContext = clientContext
	rule.IsActive = true
	rule.CreatedAt = time.Now().UTC()
	if rule.Name == "" {
		rule.Name = defaultRuleName(rule.Field, rule.Action)
	}
	if rule.Description == "" {
		rule.Description = text
	}
}

func defaultRuleName(field string, action types.ActionType) string {
	return fmt.Sprintf("%s %s", strings.ReplaceAll(field, "_", " "), action)
}

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON pulls the first JSON object out of a model response that may
// wrap it in fences or prose.
func extractJSON(response string) (string, error) {
	if m := jsonFenceRe.FindStringSubmatch(response); m != nil {
		return m[1], nil
	}
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return response[start : end+1], nil
}
