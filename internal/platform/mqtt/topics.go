package mqtt

import "strings"

// Topic layout:
//
//	<state_base>/<domain>/<object_id>/state   entity values (Home Assistant mqtt_statestream)
//	<prefix>/event/<name>                     platform events, both directions
//	<prefix>/service/<domain>/<service>       outbound service calls
//	<prefix>/status                           online/offline (retained, LWT)
type Topics struct {
	StateBase string
	Prefix    string
}

// StateSubscription is the wildcard covering every entity state topic.
func (t Topics) StateSubscription() string {
	return t.StateBase + "/+/+/state"
}

// EventSubscription is the wildcard covering every event topic.
func (t Topics) EventSubscription() string {
	return t.Prefix + "/event/+"
}

func (t Topics) Event(name string) string {
	return t.Prefix + "/event/" + name
}

// Service maps "light/turn_off" to <prefix>/service/light/turn_off.
func (t Topics) Service(service string) string {
	return t.Prefix + "/service/" + strings.Trim(service, "/")
}

func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// ParseState extracts the entity id ("binary_sensor.office_motion") from a state topic.
func (t Topics) ParseState(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.StateBase+"/")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "state" || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}

// ParseEvent extracts the event name from an event topic.
func (t Topics) ParseEvent(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.Prefix+"/event/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// EntityDomain returns "light" for "light.kitchen".
func EntityDomain(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}
