package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dataherd/internal/logging"
	"dataherd/internal/types"
)

// InsertRecords loads a batch of records, replacing any prior rows for the
// same (batch, lot) keys.
func (s *Store) InsertRecords(batchID string, records []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO cattle_records (batch_id, lot_id, fields, status, flags, updated_at)
		VALUES (?, ?, ?, 'active', '', ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range records {
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.LotID, err)
		}
		if _, err := stmt.Exec(batchID, rec.LotID, string(fields), now); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.LotID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert: %w", err)
	}
	logging.Store("Inserted %d records into batch %s", len(records), batchID)
	return nil
}

// LoadBatch returns the batch's active records in insertion order.
func (s *Store) LoadBatch(batchID string) ([]types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT lot_id, fields FROM cattle_records
		WHERE batch_id = ? AND status = 'active'
		ORDER BY rowid`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	defer rows.Close()

	var records []types.Record
	for rows.Next() {
		var lotID, fieldsJSON string
		if err := rows.Scan(&lotID, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		fields := make(map[string]string)
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", lotID, err)
		}
		records = append(records, types.Record{LotID: lotID, Fields: fields})
	}
	return records, rows.Err()
}

// UpdateField sets one field on one record.
func (s *Store) UpdateField(ctx context.Context, batchID, lotID, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE cattle_records
		SET fields = json_set(fields, '$.' || ?, ?), updated_at = ?
		WHERE batch_id = ? AND lot_id = ? AND status = 'active'`,
		field, value, time.Now().UTC(), batchID, lotID)
	if err != nil {
		return fmt.Errorf("failed to update %s.%s: %w", lotID, field, err)
	}
	return requireRow(res, batchID, lotID)
}

// MarkRemoved soft-removes a record. The row stays for audit and rollback.
func (s *Store) MarkRemoved(ctx context.Context, batchID, lotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE cattle_records SET status = 'removed', updated_at = ?
		WHERE batch_id = ? AND lot_id = ? AND status = 'active'`,
		time.Now().UTC(), batchID, lotID)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", lotID, err)
	}
	return requireRow(res, batchID, lotID)
}

// FlagRecord appends a review flag to a record without touching its values.
func (s *Store) FlagRecord(ctx context.Context, batchID, lotID, field, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag := field + ": " + reason
	res, err := s.db.ExecContext(ctx, `
		UPDATE cattle_records
		SET flags = CASE WHEN flags = '' THEN ? ELSE flags || '; ' || ? END,
		    updated_at = ?
		WHERE batch_id = ? AND lot_id = ? AND status = 'active'`,
		flag, flag, time.Now().UTC(), batchID, lotID)
	if err != nil {
		return fmt.Errorf("failed to flag %s: %w", lotID, err)
	}
	return requireRow(res, batchID, lotID)
}

// RecordFlags returns the accumulated review flags for one record.
func (s *Store) RecordFlags(batchID, lotID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var flags string
	err := s.db.QueryRow(`
		SELECT flags FROM cattle_records WHERE batch_id = ? AND lot_id = ?`,
		batchID, lotID).Scan(&flags)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("record %s/%s not found", batchID, lotID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load flags for %s: %w", lotID, err)
	}
	return flags, nil
}

func requireRow(res sql.Result, batchID, lotID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("record %s/%s not found or not active", batchID, lotID)
	}
	return nil
}
