// Package db opens the roomd SQLite database and creates its schema.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	// Append-only history: room transitions, applied scenes, schedule runs.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS event_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			room TEXT,
			payload TEXT,
			idempotency_key TEXT,
			def_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON event_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_room_ts ON event_ledger(room, timestamp) WHERE room IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("failed to create event_ledger table: %w", err)
	}

	// Only one schedule_completed per occurrence; first writer wins.
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency_completed
		ON event_ledger(idempotency_key)
		WHERE idempotency_key IS NOT NULL AND idempotency_key != '' AND event_type = 'schedule_completed';
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_ledger_idempotency_completed index: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_ledger_def_completed
		ON event_ledger(def_id, event_type, timestamp)
		WHERE def_id IS NOT NULL AND event_type = 'schedule_completed';
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_ledger_def_completed index: %w", err)
	}

	// Generic versioned JSON state keyed by (kind, id)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS resource_state (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (kind, id)
		);
		CREATE INDEX IF NOT EXISTS idx_resource_state_kind ON resource_state(kind);
	`)
	if err != nil {
		return fmt.Errorf("failed to create resource_state table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
