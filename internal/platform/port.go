// Package platform is the narrow capability surface the room automation needs from the
// home-automation platform: live entity state, state/event subscriptions, and
// fire-and-forget service calls and events.
package platform

import "time"

// Well-known entity values.
const (
	StateOn          = "on"
	StateOff         = "off"
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
)

// StateChange describes one entity transition delivered to a subscriber.
type StateChange struct {
	EntityID string
	Old      string
	New      string
	At       time.Time
}

// StateCallback receives entity transitions.
type StateCallback func(StateChange)

// EventCallback receives platform events.
type EventCallback func(name string, data map[string]any)

// Subscription can be cancelled by its owner.
type Subscription interface {
	Cancel()
}

// StateReader is the read-only view used by predicates.
type StateReader interface {
	// State returns the current value of an entity, or StateUnknown when the
	// platform has never reported it.
	State(entityID string) string
}

// Port is everything the automation core may ask of the platform.
type Port interface {
	StateReader

	// OnValue fires when the entity changes to value.
	OnValue(entityID, value string, cb StateCallback) Subscription
	// OnValueFor fires once the entity has held value continuously for d.
	// A change away from value before d elapses cancels the pending callback.
	OnValueFor(entityID, value string, d time.Duration, cb StateCallback) Subscription
	// OnChange fires on any value change of the entity.
	OnChange(entityID string, cb StateCallback) Subscription
	// OnEvent fires for every platform event with the given name.
	OnEvent(name string, cb EventCallback) Subscription

	// CallService requests a platform service such as "light/turn_off".
	CallService(service string, data map[string]any)
	// FireEvent publishes a platform event.
	FireEvent(name string, data map[string]any)
}

// Outbound carries requests from the hub to the real platform.
type Outbound interface {
	CallService(service string, data map[string]any)
	FireEvent(name string, data map[string]any)
}
