package room

import "github.com/dokzlo13/roomd/internal/platform"

// DefaultSceneEvent is the pseudo-service that loads a room's default scene. The
// platform cannot host custom services, so it is invoked as an event carrying
// {rooms: []string, transition?: int}.
const DefaultSceneEvent = "default_scene_turn_on"

// GroupOffTransition is the fade, in seconds, used when a group room goes dark.
const GroupOffTransition = 5

// Lights is how a room switches its lights. Implementations are small values held
// by the Room.
type Lights interface {
	TurnOn(p platform.Port)
	TurnOff(p platform.Port)
	IsOff(r platform.StateReader) bool
}

// GroupLights drives an area of lights. Turning on loads the default scene for the
// room instead of issuing a plain "on".
type GroupLights struct {
	Room string
	Area string
}

// NewGroupLights returns group lights for room, using area when set and the room
// name otherwise.
func NewGroupLights(room, area string) GroupLights {
	if area == "" {
		area = room
	}
	return GroupLights{Room: room, Area: area}
}

// GroupEntity is the aggregate entity reporting whether any light in the area is on.
func (g GroupLights) GroupEntity() string {
	return "group." + g.Area + "_lights"
}

func (g GroupLights) TurnOn(p platform.Port) {
	p.FireEvent(DefaultSceneEvent, map[string]any{"rooms": []any{g.Room}})
}

func (g GroupLights) TurnOff(p platform.Port) {
	p.CallService("light/turn_off", map[string]any{
		"area_id":    g.Area,
		"transition": GroupOffTransition,
	})
}

func (g GroupLights) IsOff(r platform.StateReader) bool {
	return r.State(g.GroupEntity()) == platform.StateOff
}

// SwitchLights drives a single switch entity.
type SwitchLights struct {
	Switch string
}

func (s SwitchLights) TurnOn(p platform.Port) {
	p.CallService("switch/turn_on", map[string]any{"entity_id": s.Switch})
}

func (s SwitchLights) TurnOff(p platform.Port) {
	p.CallService("switch/turn_off", map[string]any{"entity_id": s.Switch})
}

func (s SwitchLights) IsOff(r platform.StateReader) bool {
	return r.State(s.Switch) == platform.StateOff
}
