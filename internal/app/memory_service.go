package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/room"
	"github.com/dokzlo13/roomd/internal/storage"
)

// motionKind is the resource_state kind holding per-room motion history.
const motionKind = "room_motion"

// MemoryService keeps room motion history across restarts so that a room whose
// sensors went quiet just before shutdown still honours its timeout afterwards.
type MemoryService struct {
	store    *storage.Store
	rooms    *room.Registry
	clock    clock.Clock
	interval time.Duration
}

// NewMemoryService creates the service.
func NewMemoryService(db *sql.DB, rooms *room.Registry, clk clock.Clock, interval time.Duration) *MemoryService {
	return &MemoryService{
		store:    storage.NewStore(db, clk),
		rooms:    rooms,
		clock:    clk,
		interval: interval,
	}
}

// Restore seeds every room with its saved motion history.
func (m *MemoryService) Restore() {
	restored := 0
	for _, name := range m.rooms.Names() {
		var last map[string]time.Time
		found, err := m.store.GetJSON(motionKind, name, &last)
		if err != nil {
			log.Warn().Err(err).Str("room", name).Msg("Failed to load motion history")
			continue
		}
		if !found {
			continue
		}
		r, err := m.rooms.Get(name)
		if err != nil {
			continue
		}
		r.RestoreMotion(last)
		restored++
	}
	log.Info().Int("rooms", restored).Msg("Motion history restored")
}

// Save writes the motion history of every room. Sensors that never saw motion
// are left out.
func (m *MemoryService) Save() error {
	for _, snap := range m.rooms.Snapshots() {
		last := make(map[string]time.Time, len(snap.LastMotion))
		for sensor, t := range snap.LastMotion {
			if !t.IsZero() {
				last[sensor] = t
			}
		}
		if len(last) == 0 {
			continue
		}
		if err := m.store.SetJSON(motionKind, snap.Name, last); err != nil {
			return err
		}
	}
	return nil
}

// Start saves periodically until ctx is cancelled.
func (m *MemoryService) Start(ctx context.Context) {
	go func() {
		ticker := m.clock.Ticker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Save(); err != nil {
					log.Error().Err(err).Msg("Failed to save motion history")
				}
			}
		}
	}()
}
