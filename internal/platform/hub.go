package platform

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/eventbus"
)

type subKind int

const (
	kindValue subKind = iota
	kindHold
	kindChange
)

// stateSub is one registered state listener. Hold bookkeeping is guarded by Hub.mu.
type stateSub struct {
	hub    *Hub
	entity string
	kind   subKind
	value  string
	hold   time.Duration
	cb     StateCallback

	timer     *clock.Timer
	gen       uint64
	armed     bool
	cancelled bool
}

func (s *stateSub) Cancel() {
	s.hub.removeStateSub(s)
}

type eventSub struct {
	hub       *Hub
	name      string
	cb        EventCallback
	cancelled bool
}

func (s *eventSub) Cancel() {
	s.hub.removeEventSub(s)
}

type entityState struct {
	value   string
	changed time.Time
}

// Hub is the in-process mirror of the platform. Adapters feed it entity values and
// events; it evaluates subscriptions and hands callbacks to the event bus, keyed by
// entity so one entity's callbacks never overtake each other.
type Hub struct {
	mu     sync.RWMutex
	states map[string]entityState
	subs   map[string][]*stateSub
	events map[string][]*eventSub

	bus   *eventbus.Bus
	clock clock.Clock

	outMu sync.RWMutex
	out   Outbound
}

// NewHub creates a hub dispatching through bus and timing holds with clk.
func NewHub(bus *eventbus.Bus, clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	h := &Hub{
		states: make(map[string]entityState),
		subs:   make(map[string][]*stateSub),
		events: make(map[string][]*eventSub),
		bus:    bus,
		clock:  clk,
	}

	bus.Subscribe(eventbus.EventTypeStateChanged, h.handleStateChanged)
	bus.Subscribe(eventbus.EventTypeHoldElapsed, h.handleHoldElapsed)
	bus.Subscribe(eventbus.EventTypePlatform, h.handlePlatformEvent)

	return h
}

// SetOutbound installs the adapter that carries service calls and events to the platform.
func (h *Hub) SetOutbound(out Outbound) {
	h.outMu.Lock()
	h.out = out
	h.outMu.Unlock()
}

// Clock returns the hub's time source.
func (h *Hub) Clock() clock.Clock {
	return h.clock
}

// State implements StateReader.
func (h *Hub) State(entityID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if st, ok := h.states[entityID]; ok {
		return st.value
	}
	return StateUnknown
}

// States returns a copy of every known entity value.
func (h *Hub) States() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.states))
	for id, st := range h.states {
		out[id] = st.value
	}
	return out
}

// SetState records a live value for an entity and notifies subscribers. A value for
// an entity never seen before is a transition from StateUnknown. Repeating the
// current value is a no-op.
func (h *Hub) SetState(entityID, value string) {
	h.update(entityID, value, false)
}

// Snapshot records a value observed at rest, such as a retained message replayed on
// connect. The first value for an entity notifies nobody; after that it behaves like
// SetState.
func (h *Hub) Snapshot(entityID, value string) {
	h.update(entityID, value, true)
}

func (h *Hub) update(entityID, value string, snapshot bool) {
	now := h.clock.Now()

	h.mu.Lock()
	prev, known := h.states[entityID]
	if known && prev.value == value {
		h.mu.Unlock()
		return
	}
	h.states[entityID] = entityState{value: value, changed: now}
	if !known {
		if snapshot || value == StateUnknown {
			h.mu.Unlock()
			log.Debug().Str("entity", entityID).Str("state", value).Msg("Entity snapshot")
			return
		}
		prev.value = StateUnknown
	}

	change := StateChange{EntityID: entityID, Old: prev.value, New: value, At: now}
	for _, s := range h.subs[entityID] {
		if s.kind != kindHold {
			continue
		}
		if value == s.value {
			h.armLocked(s, change)
		} else {
			h.disarmLocked(s)
		}
	}
	h.mu.Unlock()

	h.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeStateChanged,
		Key:  entityID,
		Data: map[string]interface{}{"change": change},
	})
}

// OnValue implements Port.
func (h *Hub) OnValue(entityID, value string, cb StateCallback) Subscription {
	return h.addStateSub(&stateSub{entity: entityID, kind: kindValue, value: value, cb: cb})
}

// OnValueFor implements Port.
func (h *Hub) OnValueFor(entityID, value string, d time.Duration, cb StateCallback) Subscription {
	return h.addStateSub(&stateSub{entity: entityID, kind: kindHold, value: value, hold: d, cb: cb})
}

// OnChange implements Port.
func (h *Hub) OnChange(entityID string, cb StateCallback) Subscription {
	return h.addStateSub(&stateSub{entity: entityID, kind: kindChange, cb: cb})
}

// OnEvent implements Port.
func (h *Hub) OnEvent(name string, cb EventCallback) Subscription {
	s := &eventSub{hub: h, name: name, cb: cb}
	h.mu.Lock()
	h.events[name] = append(h.events[name], s)
	h.mu.Unlock()
	return s
}

// CallService implements Port by forwarding to the outbound adapter.
func (h *Hub) CallService(service string, data map[string]any) {
	out := h.outbound()
	if out == nil {
		log.Info().Str("service", service).Interface("data", data).Msg("No platform connection, service call not sent")
		return
	}
	log.Debug().Str("service", service).Interface("data", data).Msg("Calling service")
	out.CallService(service, data)
}

// FireEvent implements Port: local subscribers see the event, and it is forwarded
// to the platform.
func (h *Hub) FireEvent(name string, data map[string]any) {
	h.Deliver(name, data)
	if out := h.outbound(); out != nil {
		out.FireEvent(name, data)
	}
}

// Deliver dispatches an event to local subscribers only. Adapters use it for events
// that originate on the platform side.
func (h *Hub) Deliver(name string, data map[string]any) {
	h.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypePlatform,
		Key:  "event:" + name,
		Data: map[string]interface{}{"name": name, "data": data},
	})
}

func (h *Hub) outbound() Outbound {
	h.outMu.RLock()
	defer h.outMu.RUnlock()
	return h.out
}

func (h *Hub) addStateSub(s *stateSub) Subscription {
	s.hub = h
	h.mu.Lock()
	h.subs[s.entity] = append(h.subs[s.entity], s)
	h.mu.Unlock()
	return s
}

func (h *Hub) removeStateSub(s *stateSub) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s.cancelled = true
	h.disarmLocked(s)
	subs := h.subs[s.entity]
	for i, other := range subs {
		if other == s {
			h.subs[s.entity] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

func (h *Hub) removeEventSub(s *eventSub) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s.cancelled = true
	subs := h.events[s.name]
	for i, other := range subs {
		if other == s {
			h.events[s.name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

// armLocked (re)starts the hold timer. Each arming bumps the generation so a timer
// that already fired for an older arming is ignored.
func (h *Hub) armLocked(s *stateSub, change StateChange) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	s.armed = true
	gen := s.gen
	s.timer = h.clock.AfterFunc(s.hold, func() {
		h.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeHoldElapsed,
			Key:  s.entity,
			Data: map[string]interface{}{"sub": s, "gen": gen, "change": change},
		})
	})
}

func (h *Hub) disarmLocked(s *stateSub) {
	if !s.armed {
		return
	}
	s.armed = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (h *Hub) handleStateChanged(e eventbus.Event) {
	change, ok := e.Data["change"].(StateChange)
	if !ok {
		return
	}

	h.mu.RLock()
	subs := append([]*stateSub(nil), h.subs[change.EntityID]...)
	h.mu.RUnlock()

	for _, s := range subs {
		switch s.kind {
		case kindValue:
			if change.New == s.value && !h.isCancelled(s) {
				s.cb(change)
			}
		case kindChange:
			if !h.isCancelled(s) {
				s.cb(change)
			}
		}
	}
}

func (h *Hub) handleHoldElapsed(e eventbus.Event) {
	s, ok := e.Data["sub"].(*stateSub)
	if !ok {
		return
	}
	gen, _ := e.Data["gen"].(uint64)
	change, _ := e.Data["change"].(StateChange)

	h.mu.Lock()
	valid := s.armed && !s.cancelled && s.gen == gen
	if valid {
		s.armed = false
		s.timer = nil
	}
	h.mu.Unlock()

	if !valid {
		return
	}
	change.At = h.clock.Now()
	s.cb(change)
}

func (h *Hub) handlePlatformEvent(e eventbus.Event) {
	name, _ := e.Data["name"].(string)
	data, _ := e.Data["data"].(map[string]any)

	h.mu.RLock()
	subs := append([]*eventSub(nil), h.events[name]...)
	h.mu.RUnlock()

	for _, s := range subs {
		h.mu.RLock()
		cancelled := s.cancelled
		h.mu.RUnlock()
		if !cancelled {
			s.cb(name, data)
		}
	}
}

func (h *Hub) isCancelled(s *stateSub) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return s.cancelled
}
