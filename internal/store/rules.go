package store

import (
	"database/sql"
	"fmt"
	"time"

	"dataherd/internal/logging"
	"dataherd/internal/types"
)

// SaveRule inserts or replaces a rule.
func (s *Store) SaveRule(rule types.Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid rule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO cleaning_rules
		(id, name, description, rule_type, field, operator, threshold, min_value, max_value,
		 compare_value, pattern, action, confidence, client_context, priority,
		 is_permanent, is_active, usage_count, success_rate, last_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Name, rule.Description, string(rule.Type), rule.Field,
		string(rule.Condition.Operator), rule.Condition.Threshold, rule.Condition.Min,
		rule.Condition.Max, rule.Condition.Value, rule.Condition.Pattern,
		string(rule.Action), rule.Confidence, rule.ClientContext, rule.Priority,
		boolToInt(rule.IsPermanent), boolToInt(rule.IsActive),
		rule.UsageCount, rule.SuccessRate, rule.LastUsed, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}
	logging.Store("Saved rule %s (%s)", rule.ID, rule.Name)
	return nil
}

// GetRule loads one rule by id.
func (s *Store) GetRule(id string) (types.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(ruleSelect+" WHERE id = ?", id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return types.Rule{}, fmt.Errorf("rule %s not found", id)
	}
	if err != nil {
		return types.Rule{}, fmt.Errorf("failed to load rule %s: %w", id, err)
	}
	return rule, nil
}

// RulesForClient returns active rules scoped to the client plus global
// rules, most-used first. An empty client returns global rules only.
func (s *Store) RulesForClient(client string) ([]types.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(ruleSelect+`
		WHERE is_active = 1 AND (client_context = ? OR client_context = '')
		ORDER BY usage_count DESC, created_at DESC`, client)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for %q: %w", client, err)
	}
	defer rows.Close()
	return collectRules(rows)
}

// PermanentRules returns all active permanent rules, most-used first.
func (s *Store) PermanentRules() ([]types.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(ruleSelect + `
		WHERE is_active = 1 AND is_permanent = 1
		ORDER BY usage_count DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query permanent rules: %w", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

// SuggestRules returns the client's most recent active rules as candidates
// for a new batch.
func (s *Store) SuggestRules(client string, limit int) ([]types.Rule, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(ruleSelect+`
		WHERE is_active = 1 AND (client_context = ? OR client_context = '')
		ORDER BY created_at DESC LIMIT ?`, client, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule suggestions: %w", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

// RecordUsage bumps a rule's usage counter and folds the new outcome into
// the running success rate. A single UPDATE computes the incremental mean,
// so concurrent callers never lose updates to read-modify-write races.
func (s *Store) RecordUsage(ruleID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	res, err := s.db.Exec(`
		UPDATE cleaning_rules
		SET usage_count = usage_count + 1,
		    success_rate = success_rate + ((? - success_rate) / (usage_count + 1)),
		    last_used = ?
		WHERE id = ?`,
		outcome, time.Now().UTC(), ruleID)
	if err != nil {
		return fmt.Errorf("failed to record usage for rule %s: %w", ruleID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("rule %s not found", ruleID)
	}
	logging.StoreDebug("Recorded usage for rule %s (success=%v)", ruleID, success)
	return nil
}

// DeactivateRule soft-deletes a rule. History referencing it stays intact.
func (s *Store) DeactivateRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE cleaning_rules SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("rule %s not found", id)
	}
	logging.Store("Deactivated rule %s", id)
	return nil
}

const ruleSelect = `
	SELECT id, name, description, rule_type, field, operator, threshold, min_value,
	       max_value, compare_value, pattern, action, confidence, client_context,
	       priority, is_permanent, is_active, usage_count, success_rate, last_used,
	       created_at
	FROM cleaning_rules`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (types.Rule, error) {
	var r types.Rule
	var ruleType, operator, action string
	var isPermanent, isActive int
	var lastUsed sql.NullTime

	err := row.Scan(&r.ID, &r.Name, &r.Description, &ruleType, &r.Field, &operator,
		&r.Condition.Threshold, &r.Condition.Min, &r.Condition.Max,
		&r.Condition.Value, &r.Condition.Pattern, &action, &r.Confidence,
		&r.ClientContext, &r.Priority, &isPermanent, &isActive,
		&r.UsageCount, &r.SuccessRate, &lastUsed, &r.CreatedAt)
	if err != nil {
		return types.Rule{}, err
	}
	r.Type = types.RuleType(ruleType)
	r.Condition.Operator = types.Operator(operator)
	r.Action = types.ActionType(action)
	r.IsPermanent = isPermanent == 1
	r.IsActive = isActive == 1
	if lastUsed.Valid {
		t := lastUsed.Time
		r.LastUsed = &t
	}
	return r, nil
}

func collectRules(rows *sql.Rows) ([]types.Rule, error) {
	var rules []types.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
