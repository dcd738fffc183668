// Package storage persists small JSON documents in SQLite, keyed by kind and id.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// Store provides generic versioned state storage with JSON payloads.
// State is keyed by (kind, id) and stored as JSON blobs with version tracking.
type Store struct {
	db    *sql.DB
	clock clock.Clock
	mu    sync.RWMutex
}

// NewStore creates a new generic state store.
func NewStore(db *sql.DB, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{db: db, clock: clk}
}

// Get retrieves payload and version for a resource.
// Returns empty payload and version 0 if not found.
func (s *Store) Get(kind, id string) (payload []byte, version int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payloadStr string
	err = s.db.QueryRow(`
		SELECT payload, version FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payloadStr, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return []byte(payloadStr), version, nil
}

// Set stores payload, incrementing version automatically.
func (s *Store) Set(kind, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, kind, id, string(payload), s.clock.Now().UTC().Unix())

	if err == nil {
		log.Trace().Str("kind", kind).Str("id", id).Msg("State stored")
	}
	return err
}

// GetJSON decodes a stored document into v. found is false when nothing is stored.
func (s *Store) GetJSON(kind, id string, v any) (found bool, err error) {
	payload, _, err := s.Get(kind, id)
	if err != nil || payload == nil {
		return false, err
	}
	return true, json.Unmarshal(payload, v)
}

// SetJSON encodes v and stores it.
func (s *Store) SetJSON(kind, id string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(kind, id, payload)
}

// Delete removes a resource state entry.
func (s *Store) Delete(kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM resource_state WHERE kind = ? AND id = ?`, kind, id)
	return err
}

// Clear removes all state for a kind. If kind is empty, clears all state.
func (s *Store) Clear(kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if kind == "" {
		_, err = s.db.Exec(`DELETE FROM resource_state`)
	} else {
		_, err = s.db.Exec(`DELETE FROM resource_state WHERE kind = ?`, kind)
	}
	return err
}

// IDs returns every stored id of a kind.
func (s *Store) IDs(kind string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id FROM resource_state WHERE kind = ? ORDER BY id`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
