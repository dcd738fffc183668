package room

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dokzlo13/roomd/internal/platform"
)

// Registry holds the fixed set of rooms built at startup.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Add registers a room. Room names must be unique.
func (r *Registry) Add(room *Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[room.Name()]; exists {
		return fmt.Errorf("room %q already registered", room.Name())
	}
	r.rooms[room.Name()] = room
	return nil
}

// Get looks up a room by name.
func (r *Registry) Get(name string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, name)
	}
	return room, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[name]
	return ok
}

// Names returns registered room names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AttachAll attaches every room to the platform.
func (r *Registry) AttachAll(p platform.Port) {
	for _, name := range r.Names() {
		room, _ := r.Get(name)
		room.Attach(p)
	}
}

// DetachAll cancels every room's subscriptions.
func (r *Registry) DetachAll() {
	for _, name := range r.Names() {
		room, _ := r.Get(name)
		room.Detach()
	}
}

// Snapshots returns a snapshot of every room in name order.
func (r *Registry) Snapshots() []Snapshot {
	names := r.Names()
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		room, _ := r.Get(name)
		out = append(out, room.Snapshot())
	}
	return out
}
