// Package ledger is the append-only history of what roomd did: light transitions,
// applied scenes and schedule runs. Schedule runs are deduplicated through it.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventLightsOn          EventType = "lights_on"
	EventLightsOff         EventType = "lights_off"
	EventSceneApplied      EventType = "scene_applied"
	EventScheduleCompleted EventType = "schedule_completed"
	EventScheduleFailed    EventType = "schedule_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID             int64
	EventType      EventType
	Timestamp      time.Time
	Room           string
	Payload        map[string]any
	IdempotencyKey string
	DefID          string
}

// Ledger provides append-only event logging with deduplication
type Ledger struct {
	db    *sql.DB
	clock clock.Clock
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.New()
	}
	return &Ledger{db: db, clock: clk}
}

// Append adds an entry. Completed schedule runs use INSERT OR IGNORE so concurrent
// completions of one occurrence record only the first.
func (l *Ledger) Append(e Entry) error {
	var payloadJSON []byte
	if e.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock.Now()
	}

	insertSQL := `INSERT INTO event_ledger (event_type, timestamp, room, payload, idempotency_key, def_id) VALUES (?, ?, ?, ?, ?, ?)`
	if e.EventType == EventScheduleCompleted && e.IdempotencyKey != "" {
		insertSQL = `INSERT OR IGNORE INTO event_ledger (event_type, timestamp, room, payload, idempotency_key, def_id) VALUES (?, ?, ?, ?, ?, ?)`
	}

	_, err := l.db.Exec(insertSQL,
		string(e.EventType), e.Timestamp.UTC().Unix(),
		nullable(e.Room), string(payloadJSON), nullable(e.IdempotencyKey), nullable(e.DefID))
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// RecordTransition records a room's lights_on or lights_off.
func (l *Ledger) RecordTransition(room, transition string, fields map[string]any) {
	if err := l.Append(Entry{EventType: EventType(transition), Room: room, Payload: fields}); err != nil {
		log.Error().Err(err).Str("room", room).Str("transition", transition).Msg("Failed to record transition")
	}
}

// RecordScene records a default scene being applied to a room.
func (l *Ledger) RecordScene(room, scene string, fields map[string]any) {
	payload := map[string]any{"scene": scene}
	for k, v := range fields {
		payload[k] = v
	}
	if err := l.Append(Entry{EventType: EventSceneApplied, Room: room, Payload: payload}); err != nil {
		log.Error().Err(err).Str("room", room).Str("scene", scene).Msg("Failed to record scene")
	}
}

// HasCompleted checks if a schedule occurrence with the given key already ran.
func (l *Ledger) HasCompleted(idempotencyKey string) bool {
	if idempotencyKey == "" {
		return false
	}

	var exists int
	err := l.db.QueryRow(`
		SELECT 1 FROM event_ledger
		WHERE idempotency_key = ? AND event_type = ?
		LIMIT 1
	`, idempotencyKey, string(EventScheduleCompleted)).Scan(&exists)

	return err == nil && exists == 1
}

// LastCompleted returns when a schedule definition last completed, or the zero time.
func (l *Ledger) LastCompleted(defID string) (time.Time, error) {
	var ts sql.NullInt64
	err := l.db.QueryRow(`
		SELECT MAX(timestamp) FROM event_ledger
		WHERE def_id = ? AND event_type = ?
	`, defID, string(EventScheduleCompleted)).Scan(&ts)
	if err != nil || !ts.Valid {
		return time.Time{}, err
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// RoomHistory returns a room's most recent entries, newest first.
func (l *Ledger) RoomHistory(room string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, room, payload, idempotency_key, def_id
		FROM event_ledger
		WHERE room = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByType returns entries filtered by event type, newest first.
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, room, payload, idempotency_key, def_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.clock.Now().Add(-retention).UTC().Unix()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var room, payloadStr, idempotencyKey, defID sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &room, &payloadStr, &idempotencyKey, &defID); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Room = room.String
		entry.IdempotencyKey = idempotencyKey.String
		entry.DefID = defID.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
