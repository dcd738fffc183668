// Package scene picks the default scene for a room and applies it when the
// default_scene_turn_on event arrives.
package scene

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/platform"
	"github.com/dokzlo13/roomd/internal/room"
)

// Night forces the dim scene in every room during a window of hours.
type Night struct {
	Enabled bool
	// Flag, when set, must be "on" for the window to apply.
	Flag      string
	StartHour int
	EndHour   int
}

// Override forces Scene while Entity has Value.
type Override struct {
	Entity string
	Value  string
	Scene  string
}

// Workday selects Scene on weekdays before BeforeHour unless the Unless entity is on.
type Workday struct {
	Scene      string
	BeforeHour int
	Unless     string
}

// RoomRules configures selection for one room. Empty rules select the bright scene.
type RoomRules struct {
	Seed      int64
	Overrides []Override
	// AwakeFlag forces the dim scene while it is not "on".
	AwakeFlag string
	Workday   *Workday
	Pool      []Weighted
	Bright    string
	Dim       string
}

// Rules is the full selection policy.
type Rules struct {
	Night    Night
	Rooms    map[string]RoomRules
	Location *time.Location
}

// Scripts supplies scripted per-room overrides, consulted after configured overrides.
type Scripts interface {
	Override(room string, now time.Time) (scene string, ok bool, err error)
}

// Selector is the stateless scene picker. It reads live entity state on every call.
type Selector struct {
	rules   Rules
	states  platform.StateReader
	scripts Scripts
}

// NewSelector creates a selector. scripts may be nil.
func NewSelector(rules Rules, states platform.StateReader, scripts Scripts) *Selector {
	if rules.Location == nil {
		rules.Location = time.Local
	}
	if rules.Rooms == nil {
		rules.Rooms = map[string]RoomRules{}
	}
	return &Selector{rules: rules, states: states, scripts: scripts}
}

// Has reports whether the selector knows room.
func (s *Selector) Has(name string) bool {
	_, ok := s.rules.Rooms[name]
	return ok
}

// Select returns the scene room should load at now. Rules are applied in priority
// order and the first match wins.
func (s *Selector) Select(name string, now time.Time) (string, error) {
	rules, ok := s.rules.Rooms[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", room.ErrUnknownRoom, name)
	}
	now = now.In(s.rules.Location)
	hour := now.Hour()

	for _, o := range rules.Overrides {
		if s.states.State(o.Entity) == o.Value {
			return o.Scene, nil
		}
	}
	if s.scripts != nil {
		scene, ok, err := s.scripts.Override(name, now)
		if err != nil {
			log.Error().Err(err).Str("room", name).Msg("Scene override script failed, using built-in rules")
		} else if ok {
			return scene, nil
		}
	}

	night := s.rules.Night
	if night.Enabled && (night.Flag == "" || s.isOn(night.Flag)) && BetweenHours(hour, night.StartHour, night.EndHour) {
		return dimScene(name, rules), nil
	}

	if rules.AwakeFlag != "" && !s.isOn(rules.AwakeFlag) {
		return dimScene(name, rules), nil
	}

	if w := rules.Workday; w != nil {
		weekday := now.Weekday()
		if weekday >= time.Monday && weekday <= time.Friday && hour < w.BeforeHour && (w.Unless == "" || !s.isOn(w.Unless)) {
			return w.Scene, nil
		}
	}
	if len(rules.Pool) > 0 {
		if scene := DayStable(rules.Seed, now, rules.Pool); scene != "" {
			return scene, nil
		}
	}
	return brightScene(name, rules), nil
}

func (s *Selector) isOn(entity string) bool {
	return s.states.State(entity) == platform.StateOn
}

func dimScene(name string, r RoomRules) string {
	if r.Dim != "" {
		return r.Dim
	}
	return "scene." + name + "_dim"
}

func brightScene(name string, r RoomRules) string {
	if r.Bright != "" {
		return r.Bright
	}
	return "scene." + name + "_bright"
}
