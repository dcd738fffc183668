// Package room implements per-room occupancy lighting: motion turns lights on,
// a quiet period turns them off, activity sensors keep them on, and a manual
// toggle takes the room out of automatic control entirely.
package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/platform"
)

// Transition names passed to a Recorder.
const (
	TransitionLightsOn  = "lights_on"
	TransitionLightsOff = "lights_off"
)

// ErrUnknownRoom is returned when a room name is not configured.
var ErrUnknownRoom = errors.New("unknown room")

// Recorder receives every light transition a room performs.
type Recorder interface {
	RecordTransition(room, transition string, fields map[string]any)
}

// Config is the immutable description of a room.
type Config struct {
	Name string
	// MotionSensors defaults to binary_sensor.<name>_motion_occupancy.
	MotionSensors   []string
	NoMotionTimeout time.Duration
	// ActivitySensors keep the lights on while any of them is active.
	ActivitySensors []ActivitySensor
	// LightsOnlyIf must all be active for motion to turn the lights on.
	LightsOnlyIf []ActivitySensor
	// ManualControl enables the input_boolean.<name>_manual_control toggle.
	ManualControl bool
}

// Room is the occupancy state machine for one physical space.
type Room struct {
	cfg      Config
	lights   Lights
	manual   string
	clock    clock.Clock
	recorder Recorder
	logger   zerolog.Logger

	port platform.Port
	subs []platform.Subscription

	mu         sync.Mutex
	lastMotion map[string]time.Time
	// lightsOn is what this room last told the platform. The platform's own state
	// lags behind transitions by several seconds.
	lightsOn bool
}

// Option customises a Room.
type Option func(*Room)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(r *Room) { r.clock = c }
}

// WithRecorder sets the transition recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Room) { r.recorder = rec }
}

// New validates cfg and builds a room. The room does nothing until Attach.
func New(cfg Config, lights Lights, opts ...Option) (*Room, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("room name is required")
	}
	if cfg.NoMotionTimeout <= 0 {
		return nil, fmt.Errorf("room %s: no-motion timeout must be positive", cfg.Name)
	}
	if lights == nil {
		return nil, fmt.Errorf("room %s: lights are required", cfg.Name)
	}
	if len(cfg.MotionSensors) == 0 {
		cfg.MotionSensors = []string{"binary_sensor." + cfg.Name + "_motion_occupancy"}
	}

	r := &Room{
		cfg:        cfg,
		lights:     lights,
		clock:      clock.New(),
		logger:     log.With().Str("room", cfg.Name).Logger(),
		lastMotion: make(map[string]time.Time, len(cfg.MotionSensors)),
	}
	if cfg.ManualControl {
		r.manual = ManualControlEntity(cfg.Name)
	}
	for _, s := range cfg.MotionSensors {
		r.lastMotion[s] = time.Time{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ManualControlEntity is the toggle that disables automation for a room.
func ManualControlEntity(room string) string {
	return "input_boolean." + room + "_manual_control"
}

// Name returns the room name.
func (r *Room) Name() string { return r.cfg.Name }

// Config returns the room's configuration.
func (r *Room) Config() Config { return r.cfg }

// Attach seeds the lights belief from the platform and subscribes to motion and
// activity sensors.
func (r *Room) Attach(p platform.Port) {
	r.mu.Lock()
	r.port = p
	r.lightsOn = !r.lights.IsOff(p)
	r.mu.Unlock()

	for _, sensor := range r.cfg.MotionSensors {
		r.subs = append(r.subs,
			p.OnValue(sensor, platform.StateOn, func(c platform.StateChange) {
				r.HandleMotion(c.EntityID)
			}),
			p.OnValueFor(sensor, platform.StateOff, r.cfg.NoMotionTimeout, func(c platform.StateChange) {
				r.HandleNoMotion(c.EntityID)
			}),
		)
	}
	// Without these, lights stay on when a device switches off after everyone left.
	for _, sensor := range r.cfg.ActivitySensors {
		r.subs = append(r.subs, p.OnChange(sensor.Entity, func(c platform.StateChange) {
			r.HandleActivityChange(c.EntityID)
		}))
	}

	r.logger.Info().
		Strs("motion_sensors", r.cfg.MotionSensors).
		Dur("timeout", r.cfg.NoMotionTimeout).
		Int("activity_sensors", len(r.cfg.ActivitySensors)).
		Int("lights_only_if", len(r.cfg.LightsOnlyIf)).
		Bool("manual_toggle", r.manual != "").
		Bool("lights_on", r.lightsOn).
		Msg("Room attached")
}

// Detach cancels every subscription made by Attach.
func (r *Room) Detach() {
	for _, s := range r.subs {
		s.Cancel()
	}
	r.subs = nil
}

// ManualControlEnabled reports whether the room's manual toggle is on.
func (r *Room) ManualControlEnabled() bool {
	if r.manual == "" || r.port == nil {
		return false
	}
	return r.port.State(r.manual) == platform.StateOn
}

// HandleMotion runs when a motion sensor reports activity.
func (r *Room) HandleMotion(sensor string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.skipManual("motion", sensor) {
		return
	}

	r.lastMotion[sensor] = r.clock.Now()

	inactive, err := r.inactiveRequired()
	if err != nil {
		r.logger.Error().Err(err).Str("entity", sensor).Msg("Failed to evaluate lights-only-if sensors")
		return
	}
	if len(inactive) > 0 {
		r.logger.Debug().
			Str("entity", sensor).
			Strs("inactive_required", inactive).
			Msg("Motion but required sensors aren't active")
		return
	}

	off := r.lights.IsOff(r.port)
	if !off && r.lightsOn {
		r.logger.Debug().Str("entity", sensor).Msg("Motion but lights already on")
		return
	}

	if !off {
		r.logger.Debug().Msg("Lights on in platform but off in the model, turning on again")
	}
	r.logger.Info().Str("entity", sensor).Msg("Motion, turning on lights")
	r.lights.TurnOn(r.port)
	r.lightsOn = true
	r.record(TransitionLightsOn, map[string]any{"trigger": sensor, "platform_off": off})
}

// HandleNoMotion runs when a motion sensor has been quiet for the room's timeout.
func (r *Room) HandleNoMotion(sensor string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.skipManual("no_motion", sensor) {
		return
	}

	active, err := r.activeSensors()
	if err != nil {
		r.logger.Error().Err(err).Str("entity", sensor).Msg("Failed to evaluate activity sensors")
		return
	}
	if len(active) > 0 {
		r.logger.Debug().Strs("active", active).Msg("No motion, but devices are active")
		return
	}

	r.logger.Info().
		Str("entity", sensor).
		Dur("timeout", r.cfg.NoMotionTimeout).
		Msg("No motion and no active devices, turning off lights")
	r.turnOff(sensor)
}

// HandleActivityChange runs whenever an activity sensor's entity changes value.
// Lights go off only once both conditions hold: nothing is active and every motion
// sensor has been quiet for the full timeout.
func (r *Room) HandleActivityChange(entity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.skipManual("activity", entity) {
		return
	}

	active, err := r.activeSensors()
	if err != nil {
		r.logger.Error().Err(err).Str("entity", entity).Msg("Failed to evaluate activity sensors")
		return
	}
	if len(active) > 0 {
		r.logger.Info().Strs("active", active).Msg("Active devices remaining")
		return
	}

	sinceMotion := r.sinceLastMotion()
	event := r.logger.Info()
	if sinceMotion <= r.cfg.NoMotionTimeout {
		event = r.logger.Debug()
	}
	event = event.
		Str("entity", entity).
		Dur("since_motion", sinceMotion).
		Dur("timeout", r.cfg.NoMotionTimeout)

	if sinceMotion > r.cfg.NoMotionTimeout {
		event.Msg("No active devices and no recent motion, turning off lights")
		r.turnOff(entity)
		return
	}
	event.Msg("No active devices but recent motion, room occupied")
}

// sinceLastMotion is the smallest elapsed time across all motion sensors.
func (r *Room) sinceLastMotion() time.Duration {
	now := r.clock.Now()
	var latest time.Time
	for _, t := range r.lastMotion {
		if t.After(latest) {
			latest = t
		}
	}
	if latest.IsZero() {
		// Never seen motion: as old as possible.
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(latest)
}

func (r *Room) turnOff(trigger string) {
	r.lights.TurnOff(r.port)
	r.lightsOn = false
	r.record(TransitionLightsOff, map[string]any{"trigger": trigger})
}

func (r *Room) skipManual(handler, entity string) bool {
	if !r.ManualControlEnabled() {
		return false
	}
	r.logger.Info().Str("handler", handler).Str("entity", entity).Msg("Manual control enabled, no action")
	return true
}

func (r *Room) activeSensors() ([]string, error) {
	var active []string
	for _, s := range r.cfg.ActivitySensors {
		ok, err := s.IsActive(r.port)
		if err != nil {
			return nil, err
		}
		if ok {
			active = append(active, s.String())
		}
	}
	return active, nil
}

func (r *Room) inactiveRequired() ([]string, error) {
	var inactive []string
	for _, s := range r.cfg.LightsOnlyIf {
		ok, err := s.IsActive(r.port)
		if err != nil {
			return nil, err
		}
		if !ok {
			inactive = append(inactive, s.String())
		}
	}
	return inactive, nil
}

func (r *Room) record(transition string, fields map[string]any) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordTransition(r.cfg.Name, transition, fields)
}

// Snapshot is a point-in-time view of a room for status reporting.
type Snapshot struct {
	Name          string               `json:"name"`
	LightsOn      bool                 `json:"lights_on"`
	ManualControl bool                 `json:"manual_control"`
	Timeout       string               `json:"timeout"`
	LastMotion    map[string]time.Time `json:"last_motion"`
}

// Snapshot returns the room's current belief and motion history.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := make(map[string]time.Time, len(r.lastMotion))
	for k, v := range r.lastMotion {
		last[k] = v
	}
	return Snapshot{
		Name:          r.cfg.Name,
		LightsOn:      r.lightsOn,
		ManualControl: r.ManualControlEnabled(),
		Timeout:       r.cfg.NoMotionTimeout.String(),
		LastMotion:    last,
	}
}

// RestoreMotion seeds motion history saved before a restart. Unknown sensors and
// times in the future are ignored, and newer in-memory motion is kept.
func (r *Room) RestoreMotion(last map[string]time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for sensor, t := range last {
		current, ok := r.lastMotion[sensor]
		if !ok || t.After(now) || !t.After(current) {
			continue
		}
		r.lastMotion[sensor] = t
		r.logger.Debug().Str("sensor", sensor).Time("last_motion", t).Msg("Restored motion history")
	}
}
