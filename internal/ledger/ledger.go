// Package ledger owns the audit trail: before-image snapshots, change
// entries, the append-only operation log, and all-or-nothing rollback. It
// shares the store's SQLite handle so rollback can restore records and
// flip audit rows in one transaction.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dataherd/internal/logging"
	"dataherd/internal/types"
)

// Ledger records and reverts apply operations.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
}

// NewLedger wraps the shared database handle. The store must have
// initialized the schema first.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// snapshotRow is the full before-image of one record row. Fields is the raw
// JSON column value; status and flags are captured so rollback restores the
// row exactly and never disturbs state written by other operations.
type snapshotRow struct {
	LotID  string `json:"lot_id"`
	Fields string `json:"fields"`
	Status string `json:"status"`
	Flags  string `json:"flags"`
}

// Snapshot stores the before-images of the records an operation is about to
// touch. The rows are read from storage, not from the caller's in-memory
// view, so the snapshot carries every column rollback will restore. One
// snapshot per operation.
func (l *Ledger) Snapshot(batchID, operationID string, lotIDs []string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows := make([]snapshotRow, 0, len(lotIDs))
	for _, lotID := range lotIDs {
		var row snapshotRow
		row.LotID = lotID
		err := l.db.QueryRow(`
			SELECT fields, status, flags FROM cattle_records
			WHERE batch_id = ? AND lot_id = ?`,
			batchID, lotID).Scan(&row.Fields, &row.Status, &row.Flags)
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("record %s/%s not found for snapshot", batchID, lotID)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read record %s/%s for snapshot: %w", batchID, lotID, err)
		}
		rows = append(rows, row)
	}

	payload, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	id := uuid.NewString()
	_, err = l.db.Exec(`
		INSERT INTO batch_snapshots (id, batch_id, operation_id, records, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, batchID, operationID, string(payload), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to store snapshot for %s: %w", operationID, err)
	}
	logging.Ledger("Snapshot %s: %d records for operation %s", id, len(rows), operationID)
	return id, nil
}

// RecordChanges persists the change entries of one operation.
func (l *Ledger) RecordChanges(operationID string, entries []types.ChangeEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin change insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO change_entries
		(id, operation_id, batch_id, lot_id, field, original_value, new_value,
		 action, rule_id, confidence, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare change insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.Exec(e.ID, operationID, e.BatchID, e.LotID, e.Field,
			e.OriginalValue, e.NewValue, string(e.Action), e.RuleID,
			e.Confidence, e.Reason, string(e.Status), e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert change entry %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit change entries: %w", err)
	}
	logging.LedgerDebug("Recorded %d change entries for operation %s", len(entries), operationID)
	return nil
}

// LogOperation appends one operation log entry.
func (l *Ledger) LogOperation(log types.OperationLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insertOperation(l.db, log)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (l *Ledger) insertOperation(db execer, log types.OperationLog) error {
	_, err := db.Exec(`
		INSERT INTO operation_logs
		(operation_id, batch_id, kind, rule_ids, flagged, changed, removed,
		 estimated, failed_count, client_context, reverts_operation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.OperationID, log.BatchID, string(log.Kind), strings.Join(log.RuleIDs, ","),
		log.Counts.Flagged, log.Counts.Changed, log.Counts.Removed,
		log.Counts.Estimated, log.FailedCount, log.ClientContext,
		log.RevertsOperation, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log operation %s: %w", log.OperationID, err)
	}
	return nil
}

// GetOperation loads one operation log entry.
func (l *Ledger) GetOperation(operationID string) (types.OperationLog, error) {
	row := l.db.QueryRow(operationSelect+" WHERE operation_id = ?", operationID)
	log, _, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return types.OperationLog{}, fmt.Errorf("operation %s: %w", operationID, types.ErrOperationNotFound)
	}
	if err != nil {
		return types.OperationLog{}, fmt.Errorf("failed to load operation %s: %w", operationID, err)
	}
	return log, nil
}

// History returns a batch's operations, newest first. An empty batchID
// returns operations across all batches.
func (l *Ledger) History(batchID string, limit int) ([]types.OperationLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := operationSelect
	args := []interface{}{}
	if batchID != "" {
		query += " WHERE batch_id = ?"
		args = append(args, batchID)
	}
	query += " ORDER BY created_at DESC, operation_id LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var logs []types.OperationLog
	for rows.Next() {
		log, _, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// Changes returns the persisted change entries of one operation.
func (l *Ledger) Changes(operationID string) ([]types.ChangeEntry, error) {
	rows, err := l.db.Query(`
		SELECT id, batch_id, lot_id, field, original_value, new_value, action,
		       rule_id, confidence, reason, status, created_at
		FROM change_entries WHERE operation_id = ? ORDER BY rowid_seq`, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes for %s: %w", operationID, err)
	}
	defer rows.Close()

	var entries []types.ChangeEntry
	for rows.Next() {
		var e types.ChangeEntry
		var action, status string
		if err := rows.Scan(&e.ID, &e.BatchID, &e.LotID, &e.Field, &e.OriginalValue,
			&e.NewValue, &action, &e.RuleID, &e.Confidence, &e.Reason, &status,
			&e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change entry: %w", err)
		}
		e.Action = types.ActionType(action)
		e.Status = types.ChangeStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Rollback restores every record an apply touched, all-or-nothing, inside
// one transaction. A record that cannot be restored aborts the whole
// rollback with the blocked lot ids and nothing is mutated. A successful
// rollback flips the apply's change entries to rolled_back and appends its
// own operation log entry.
func (l *Ledger) Rollback(ctx context.Context, operationID string) (types.RollbackResult, error) {
	timer := logging.StartTimer(logging.CategoryLedger, "Rollback")
	defer timer.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()

	var batchID string
	var kind string
	var rolledBack int
	err := l.db.QueryRow(`
		SELECT batch_id, kind, rolled_back FROM operation_logs WHERE operation_id = ?`,
		operationID).Scan(&batchID, &kind, &rolledBack)
	if err == sql.ErrNoRows {
		return types.RollbackResult{}, fmt.Errorf("operation %s: %w", operationID, types.ErrOperationNotFound)
	}
	if err != nil {
		return types.RollbackResult{}, fmt.Errorf("failed to load operation %s: %w", operationID, err)
	}
	if kind != string(types.OpApply) {
		return types.RollbackResult{}, fmt.Errorf("operation %s is a %s, not an apply", operationID, kind)
	}
	if rolledBack == 1 {
		return types.RollbackResult{}, fmt.Errorf("operation %s: %w", operationID, types.ErrAlreadyRolledBack)
	}

	var recordsJSON string
	err = l.db.QueryRow(`
		SELECT records FROM batch_snapshots WHERE operation_id = ?`,
		operationID).Scan(&recordsJSON)
	if err == sql.ErrNoRows {
		return types.RollbackResult{}, fmt.Errorf("no snapshot for operation %s: %w", operationID, types.ErrOperationNotFound)
	}
	if err != nil {
		return types.RollbackResult{}, fmt.Errorf("failed to load snapshot for %s: %w", operationID, err)
	}
	var records []snapshotRow
	if err := json.Unmarshal([]byte(recordsJSON), &records); err != nil {
		return types.RollbackResult{}, fmt.Errorf("failed to decode snapshot for %s: %w", operationID, err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return types.RollbackResult{}, fmt.Errorf("failed to begin rollback: %w", err)
	}
	defer tx.Rollback()

	var blocked []string
	for _, rec := range records {
		// Restore exactly the captured columns. Flags or status written by
		// another, still-standing operation were part of this operation's
		// before-image and come back untouched.
		res, err := tx.Exec(`
			UPDATE cattle_records
			SET fields = ?, status = ?, flags = ?, updated_at = ?
			WHERE batch_id = ? AND lot_id = ?`,
			rec.Fields, rec.Status, rec.Flags, time.Now().UTC(), batchID, rec.LotID)
		if err != nil {
			return types.RollbackResult{}, fmt.Errorf("failed to restore record %s: %w", rec.LotID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return types.RollbackResult{}, err
		}
		if affected != 1 {
			blocked = append(blocked, rec.LotID)
		}
	}
	if len(blocked) > 0 {
		// defer tx.Rollback discards every staged restore.
		logging.Ledger("Rollback %s blocked by %d records", operationID, len(blocked))
		return types.RollbackResult{}, &types.RollbackBlockedError{
			OperationID: operationID,
			BlockedLots: blocked,
		}
	}

	if _, err := tx.Exec(`
		UPDATE change_entries SET status = ? WHERE operation_id = ? AND status = ?`,
		string(types.ChangeRolledBack), operationID, string(types.ChangeApplied)); err != nil {
		return types.RollbackResult{}, fmt.Errorf("failed to mark changes rolled back: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE operation_logs SET rolled_back = 1 WHERE operation_id = ?`,
		operationID); err != nil {
		return types.RollbackResult{}, fmt.Errorf("failed to mark operation rolled back: %w", err)
	}

	logID := uuid.NewString()
	if err := l.insertOperation(tx, types.OperationLog{
		OperationID:      logID,
		BatchID:          batchID,
		Kind:             types.OpRollback,
		RevertsOperation: operationID,
		CreatedAt:        time.Now().UTC(),
	}); err != nil {
		return types.RollbackResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.RollbackResult{}, fmt.Errorf("failed to commit rollback: %w", err)
	}

	logging.Ledger("Rolled back operation %s: %d records restored", operationID, len(records))
	return types.RollbackResult{
		OperationID:     operationID,
		LogOperationID:  logID,
		BatchID:         batchID,
		RestoredRecords: len(records),
	}, nil
}

const operationSelect = `
	SELECT operation_id, batch_id, kind, rule_ids, flagged, changed, removed,
	       estimated, failed_count, client_context, reverts_operation, rolled_back,
	       created_at
	FROM operation_logs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (types.OperationLog, bool, error) {
	var log types.OperationLog
	var kind, ruleIDs string
	var rolledBack int
	err := row.Scan(&log.OperationID, &log.BatchID, &kind, &ruleIDs,
		&log.Counts.Flagged, &log.Counts.Changed, &log.Counts.Removed,
		&log.Counts.Estimated, &log.FailedCount, &log.ClientContext,
		&log.RevertsOperation, &rolledBack, &log.CreatedAt)
	if err != nil {
		return types.OperationLog{}, false, err
	}
	log.Kind = types.OperationKind(kind)
	if ruleIDs != "" {
		log.RuleIDs = strings.Split(ruleIDs, ",")
	}
	return log, rolledBack == 1, nil
}
