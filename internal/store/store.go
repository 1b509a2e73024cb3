// Package store persists rules, cattle records, and the audit trail in
// SQLite. A single Store owns the database handle; the ledger shares it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"dataherd/internal/logging"
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewStore initializes the SQLite database at the given path. Use
// ":memory:" for tests.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewStore")
	defer timer.Stop()

	logging.Store("Initializing store at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// NORMAL is safe with WAL and considerably faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Database schema initialized")
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cleaning_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		rule_type TEXT NOT NULL,
		field TEXT NOT NULL,
		operator TEXT NOT NULL,
		threshold REAL DEFAULT 0,
		min_value REAL DEFAULT 0,
		max_value REAL DEFAULT 0,
		compare_value TEXT DEFAULT '',
		pattern TEXT DEFAULT '',
		action TEXT NOT NULL,
		confidence REAL NOT NULL,
		client_context TEXT DEFAULT '',
		priority INTEGER DEFAULT 0,
		is_permanent INTEGER DEFAULT 0,
		is_active INTEGER DEFAULT 1,
		usage_count INTEGER DEFAULT 0,
		success_rate REAL DEFAULT 0,
		last_used TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_client ON cleaning_rules(client_context, is_active);
	CREATE INDEX IF NOT EXISTS idx_rules_usage ON cleaning_rules(usage_count DESC);

	CREATE TABLE IF NOT EXISTS cattle_records (
		batch_id TEXT NOT NULL,
		lot_id TEXT NOT NULL,
		fields TEXT NOT NULL,
		status TEXT DEFAULT 'active',
		flags TEXT DEFAULT '',
		updated_at TIMESTAMP,
		PRIMARY KEY (batch_id, lot_id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_batch ON cattle_records(batch_id, status);

	CREATE TABLE IF NOT EXISTS change_entries (
		rowid_seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		operation_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		lot_id TEXT NOT NULL,
		field TEXT NOT NULL,
		original_value TEXT DEFAULT '',
		new_value TEXT DEFAULT '',
		action TEXT NOT NULL,
		rule_id TEXT DEFAULT '',
		confidence REAL DEFAULT 0,
		reason TEXT DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_changes_operation ON change_entries(operation_id);
	CREATE INDEX IF NOT EXISTS idx_changes_batch ON change_entries(batch_id, status);

	CREATE TABLE IF NOT EXISTS batch_snapshots (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		operation_id TEXT NOT NULL UNIQUE,
		records TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_batch ON batch_snapshots(batch_id);

	CREATE TABLE IF NOT EXISTS operation_logs (
		operation_id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		rule_ids TEXT DEFAULT '',
		flagged INTEGER DEFAULT 0,
		changed INTEGER DEFAULT 0,
		removed INTEGER DEFAULT 0,
		estimated INTEGER DEFAULT 0,
		failed_count INTEGER DEFAULT 0,
		client_context TEXT DEFAULT '',
		reverts_operation TEXT DEFAULT '',
		rolled_back INTEGER DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_operations_batch ON operation_logs(batch_id, created_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetDB exposes the shared handle so the ledger can run transactions on the
// same database.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	logging.Store("Closing store at %s", s.dbPath)
	return s.db.Close()
}

// Stats reports row counts per table for operator diagnostics.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"cleaning_rules", "cattle_records", "change_entries", "batch_snapshots", "operation_logs"} {
		var count int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}
