package types

import (
	"time"
)

// ChangeStatus tracks the lifecycle of one change entry. All states are
// persisted as audit history; entries are never silently dropped.
type ChangeStatus string

const (
	ChangeProposed   ChangeStatus = "proposed"
	ChangeApplied    ChangeStatus = "applied"
	ChangeFailed     ChangeStatus = "failed"
	ChangeRejected   ChangeStatus = "rejected"
	ChangeRolledBack ChangeStatus = "rolled_back"
)

// ChangeEntry is one proposed or applied mutation tied to a triggering rule.
type ChangeEntry struct {
	ID            string       `json:"id"`
	BatchID       string       `json:"batch_id"`
	LotID         string       `json:"lot_id"`
	Field         string       `json:"field"`
	OriginalValue string       `json:"original_value"`
	NewValue      string       `json:"new_value,omitempty"`
	Action        ActionType   `json:"action"`
	RuleID        string       `json:"rule_id"`
	Confidence    float64      `json:"confidence"`
	Reason        string       `json:"reason,omitempty"`
	Status        ChangeStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ChangeCounts aggregates entries by action for operation logs and reports.
type ChangeCounts struct {
	Flagged   int `json:"flagged"`
	Changed   int `json:"changed"`
	Removed   int `json:"removed"`
	Estimated int `json:"estimated"`
}

// Add accumulates one entry into the counters.
func (c *ChangeCounts) Add(action ActionType) {
	switch action {
	case ActionFlag:
		c.Flagged++
	case ActionRemove:
		c.Removed++
	case ActionEstimate:
		c.Estimated++
		c.Changed++
	case ActionStandardize, ActionCorrect:
		c.Changed++
	}
}

// Total returns the number of counted entries. Estimates are a subset of
// Changed, so they are not double counted.
func (c ChangeCounts) Total() int {
	return c.Flagged + c.Changed + c.Removed
}

// ChangeSet is the output of a preview: the ordered set of proposed changes
// for one batch. Entry order follows input record order so two previews over
// identical inputs compare byte-identical.
type ChangeSet struct {
	BatchID   string        `json:"batch_id"`
	RuleIDs   []string      `json:"rule_ids"`
	Entries   []ChangeEntry `json:"entries"`
	Counts    ChangeCounts  `json:"counts"`
	Records   int           `json:"records"`
	// Warnings marks degraded previews (no compilable rule, diagnostics)
	// so an empty change list is distinguishable from "no issues found".
	Warnings []string `json:"warnings,omitempty"`
}

// FailedChange itemizes one record that could not be applied, with cause.
type FailedChange struct {
	Entry ChangeEntry `json:"entry"`
	Cause string      `json:"cause"`
}

// ApplyResult enumerates the outcome of one apply operation. Apply is not
// all-or-nothing: already-applied entries stay applied when a later record
// fails, and the caller gets the full itemization.
type ApplyResult struct {
	OperationID string         `json:"operation_id"`
	BatchID     string         `json:"batch_id"`
	SnapshotID  string         `json:"snapshot_id"`
	Applied     []ChangeEntry  `json:"applied"`
	Failed      []FailedChange `json:"failed,omitempty"`
	Counts      ChangeCounts   `json:"counts"`
	Cancelled   bool           `json:"cancelled,omitempty"`
}

// OperationKind distinguishes forward applies from rollbacks in the log.
type OperationKind string

const (
	OpApply    OperationKind = "apply"
	OpRollback OperationKind = "rollback"
)

// OperationLog is one append-only audit entry. Rollbacks append their own
// entry rather than erasing the apply they undo.
type OperationLog struct {
	OperationID   string        `json:"operation_id"`
	BatchID       string        `json:"batch_id"`
	Kind          OperationKind `json:"kind"`
	RuleIDs       []string      `json:"rule_ids"`
	Counts        ChangeCounts  `json:"counts"`
	FailedCount   int           `json:"failed_count"`
	ClientContext string        `json:"client_context,omitempty"`
	// RevertsOperation links a rollback entry to the apply it undid.
	RevertsOperation string    `json:"reverts_operation,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// RollbackResult reports a completed rollback.
type RollbackResult struct {
	OperationID     string `json:"operation_id"`
	LogOperationID  string `json:"log_operation_id"`
	BatchID         string `json:"batch_id"`
	RestoredRecords int    `json:"restored_records"`
}
