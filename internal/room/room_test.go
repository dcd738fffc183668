package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dokzlo13/roomd/internal/eventbus"
	"github.com/dokzlo13/roomd/internal/platform"
)

type call struct {
	name string
	data map[string]any
}

// fakePort records outbound calls. Subscriptions are inert; tests drive handlers directly.
type fakePort struct {
	mu       sync.Mutex
	states   map[string]string
	services []call
	events   []call
}

func newFakePort(initial map[string]string) *fakePort {
	p := &fakePort{states: map[string]string{}}
	for k, v := range initial {
		p.states[k] = v
	}
	return p
}

type noopSub struct{}

func (noopSub) Cancel() {}

func (p *fakePort) State(entityID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.states[entityID]; ok {
		return v
	}
	return platform.StateUnknown
}

func (p *fakePort) set(entityID, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[entityID] = value
}

func (p *fakePort) OnValue(string, string, platform.StateCallback) platform.Subscription {
	return noopSub{}
}

func (p *fakePort) OnValueFor(string, string, time.Duration, platform.StateCallback) platform.Subscription {
	return noopSub{}
}

func (p *fakePort) OnChange(string, platform.StateCallback) platform.Subscription {
	return noopSub{}
}

func (p *fakePort) OnEvent(string, platform.EventCallback) platform.Subscription {
	return noopSub{}
}

func (p *fakePort) CallService(service string, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services = append(p.services, call{service, data})
}

func (p *fakePort) FireEvent(name string, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, call{name, data})
}

func (p *fakePort) calls() (services, events []call) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]call(nil), p.services...), append([]call(nil), p.events...)
}

type recorder struct {
	mu          sync.Mutex
	transitions []string
}

func (r *recorder) RecordTransition(room, transition string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, room+":"+transition)
}

const (
	officeMotion = "binary_sensor.office_motion_occupancy"
	officeGroup  = "group.office_lights"
	officeManual = "input_boolean.office_manual_control"
)

func newOffice(t *testing.T, cfg Config, p platform.Port, opts ...Option) *Room {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "office"
	}
	if cfg.NoMotionTimeout == 0 {
		cfg.NoMotionTimeout = 5 * time.Minute
	}
	r, err := New(cfg, NewGroupLights(cfg.Name, ""), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r.Attach(p)
	return r
}

func TestNewValidation(t *testing.T) {
	lights := NewGroupLights("office", "")
	tests := []struct {
		name   string
		cfg    Config
		lights Lights
	}{
		{"missing_name", Config{NoMotionTimeout: time.Minute}, lights},
		{"zero_timeout", Config{Name: "office"}, lights},
		{"nil_lights", Config{Name: "office", NoMotionTimeout: time.Minute}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.lights); err == nil {
				t.Error("expected error")
			}
		})
	}

	r, err := New(Config{Name: "office", NoMotionTimeout: time.Minute}, lights)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Config().MotionSensors; len(got) != 1 || got[0] != officeMotion {
		t.Errorf("default motion sensors = %v", got)
	}
}

func TestMotionTurnsGroupLightsOn(t *testing.T) {
	p := newFakePort(map[string]string{officeGroup: "off"})
	rec := &recorder{}
	r := newOffice(t, Config{}, p, WithRecorder(rec))

	r.HandleMotion(officeMotion)

	_, events := p.calls()
	if len(events) != 1 || events[0].name != DefaultSceneEvent {
		t.Fatalf("events = %+v", events)
	}
	rooms, _ := events[0].data["rooms"].([]any)
	if len(rooms) != 1 || rooms[0] != "office" {
		t.Errorf("rooms = %v", events[0].data["rooms"])
	}
	if !r.Snapshot().LightsOn {
		t.Error("belief should be on after motion")
	}
	if len(rec.transitions) != 1 || rec.transitions[0] != "office:lights_on" {
		t.Errorf("transitions = %v", rec.transitions)
	}

	// Platform caught up: further motion is a no-op.
	p.set(officeGroup, "on")
	r.HandleMotion(officeMotion)
	if _, events := p.calls(); len(events) != 1 {
		t.Errorf("repeat motion fired %d events, want 1", len(events))
	}
}

func TestMotionRetriesWhilePlatformReportsOff(t *testing.T) {
	p := newFakePort(map[string]string{officeGroup: "off"})
	r := newOffice(t, Config{}, p)

	r.HandleMotion(officeMotion)
	r.HandleMotion(officeMotion)

	if _, events := p.calls(); len(events) != 2 {
		t.Errorf("events = %d, want 2 while platform still reports off", len(events))
	}
}

func TestBeliefReconciliation(t *testing.T) {
	// Lights are on at startup, so the room believes they are on.
	p := newFakePort(map[string]string{officeGroup: "on"})
	r := newOffice(t, Config{}, p)
	if !r.Snapshot().LightsOn {
		t.Fatal("initial belief should follow platform state")
	}

	r.HandleNoMotion(officeMotion)
	services, _ := p.calls()
	if len(services) != 1 || services[0].name != "light/turn_off" {
		t.Fatalf("services = %+v", services)
	}
	if services[0].data["area_id"] != "office" || services[0].data["transition"] != GroupOffTransition {
		t.Errorf("turn_off data = %v", services[0].data)
	}

	// Platform hasn't caught up and still says on; belief says off, so turn on again.
	r.HandleMotion(officeMotion)
	if _, events := p.calls(); len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestManualControlSuppressesEverything(t *testing.T) {
	p := newFakePort(map[string]string{
		officeGroup:       "off",
		officeManual:      "on",
		"media_player.tv": "off",
	})
	r := newOffice(t, Config{
		ManualControl:   true,
		ActivitySensors: []ActivitySensor{IsntOff("media_player.tv")},
	}, p)

	r.HandleMotion(officeMotion)
	r.HandleNoMotion(officeMotion)
	r.HandleActivityChange("media_player.tv")

	services, events := p.calls()
	if len(services) != 0 || len(events) != 0 {
		t.Errorf("manual control leaked calls: services=%v events=%v", services, events)
	}
	snap := r.Snapshot()
	if !snap.ManualControl {
		t.Error("snapshot should report manual control")
	}
	if !snap.LastMotion[officeMotion].IsZero() {
		t.Error("motion must not be recorded under manual control")
	}

	p.set(officeManual, "off")
	r.HandleMotion(officeMotion)
	if _, events := p.calls(); len(events) != 1 {
		t.Errorf("events = %d after manual control released, want 1", len(events))
	}
}

func TestManualToggleIgnoredWhenNotConfigured(t *testing.T) {
	p := newFakePort(map[string]string{officeGroup: "off", officeManual: "on"})
	r := newOffice(t, Config{}, p)

	r.HandleMotion(officeMotion)
	if _, events := p.calls(); len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestLightsOnlyIfGatesTurnOn(t *testing.T) {
	clk := clock.NewMock()
	p := newFakePort(map[string]string{officeGroup: "off", "sensor.office_lux": "120"})
	r := newOffice(t, Config{
		LightsOnlyIf: []ActivitySensor{IsBelow("sensor.office_lux", 50)},
	}, p, WithClock(clk))

	r.HandleMotion(officeMotion)
	if _, events := p.calls(); len(events) != 0 {
		t.Fatalf("lights turned on in a bright room")
	}
	if got := r.Snapshot().LastMotion[officeMotion]; !got.Equal(clk.Now()) {
		t.Errorf("motion timestamp = %v, want %v even when gated", got, clk.Now())
	}

	p.set("sensor.office_lux", "12")
	r.HandleMotion(officeMotion)
	if _, events := p.calls(); len(events) != 1 {
		t.Errorf("events = %d, want 1 once dark", len(events))
	}
}

func TestActivitySensorsHoldLightsOn(t *testing.T) {
	p := newFakePort(map[string]string{officeGroup: "on", "media_player.tv": "playing"})
	r := newOffice(t, Config{
		ActivitySensors: []ActivitySensor{IsntOff("media_player.tv")},
	}, p)

	r.HandleNoMotion(officeMotion)
	if services, _ := p.calls(); len(services) != 0 {
		t.Fatalf("turned off while tv playing: %v", services)
	}

	// TV switches off long after the last motion.
	p.set("media_player.tv", "off")
	r.HandleActivityChange("media_player.tv")
	services, _ := p.calls()
	if len(services) != 1 || services[0].name != "light/turn_off" {
		t.Errorf("services = %+v", services)
	}
}

func TestActivityChangeUsesMostRecentMotion(t *testing.T) {
	clk := clock.NewMock()
	desk := "binary_sensor.office_desk_motion"
	door := "binary_sensor.office_door_motion"
	p := newFakePort(map[string]string{officeGroup: "on", "switch.pc": "on"})
	r := newOffice(t, Config{
		MotionSensors:   []string{desk, door},
		ActivitySensors: []ActivitySensor{IsOn("switch.pc")},
	}, p, WithClock(clk))

	r.HandleMotion(door)
	clk.Add(4 * time.Minute)
	r.HandleMotion(desk)
	clk.Add(2 * time.Minute)

	// Door has been quiet for 6m but desk only for 2m.
	p.set("switch.pc", "off")
	r.HandleActivityChange("switch.pc")
	if services, _ := p.calls(); len(services) != 0 {
		t.Fatalf("turned off with recent motion: %v", services)
	}

	clk.Add(4 * time.Minute)
	r.HandleActivityChange("switch.pc")
	if services, _ := p.calls(); len(services) != 1 {
		t.Errorf("services = %d, want 1 after every sensor is quiet", len(services))
	}
}

func TestSensorErrorAbortsTransition(t *testing.T) {
	p := newFakePort(map[string]string{officeGroup: "on", "sensor.desk_power": "n/a"})
	r := newOffice(t, Config{
		ActivitySensors: []ActivitySensor{IsAbove("sensor.desk_power", 5)},
	}, p)

	r.HandleNoMotion(officeMotion)
	r.HandleActivityChange("sensor.desk_power")
	if services, _ := p.calls(); len(services) != 0 {
		t.Errorf("services = %v, want none on sensor error", services)
	}
}

func TestSwitchRoom(t *testing.T) {
	p := newFakePort(map[string]string{"switch.closet": "off"})
	r, err := New(Config{Name: "closet", NoMotionTimeout: time.Minute}, SwitchLights{Switch: "switch.closet"})
	if err != nil {
		t.Fatal(err)
	}
	r.Attach(p)

	r.HandleMotion("binary_sensor.closet_motion_occupancy")
	r.HandleNoMotion("binary_sensor.closet_motion_occupancy")

	services, events := p.calls()
	if len(events) != 0 {
		t.Errorf("switch room fired events: %v", events)
	}
	if len(services) != 2 || services[0].name != "switch/turn_on" || services[1].name != "switch/turn_off" {
		t.Fatalf("services = %+v", services)
	}
	if services[0].data["entity_id"] != "switch.closet" {
		t.Errorf("entity_id = %v", services[0].data["entity_id"])
	}
}

func TestRoomThroughHub(t *testing.T) {
	bus := eventbus.NewInline()
	t.Cleanup(func() { bus.Close(context.Background()) })
	clk := clock.NewMock()
	hub := platform.NewHub(bus, clk)

	offCalls := make(chan call, 4)
	hub.SetOutbound(outboundFunc(func(service string, data map[string]any) {
		offCalls <- call{service, data}
	}))
	var scenes []map[string]any
	hub.OnEvent(DefaultSceneEvent, func(_ string, data map[string]any) { scenes = append(scenes, data) })

	hub.Snapshot(officeMotion, "off")
	hub.Snapshot(officeGroup, "off")
	newOffice(t, Config{}, hub, WithClock(clk))

	hub.SetState(officeMotion, "on")
	if len(scenes) != 1 {
		t.Fatalf("scene events = %d, want 1", len(scenes))
	}
	hub.SetState(officeGroup, "on")

	hub.SetState(officeMotion, "off")
	clk.Add(5 * time.Minute)

	select {
	case c := <-offCalls:
		if c.name != "light/turn_off" {
			t.Errorf("service = %s", c.name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lights not turned off after timeout")
	}
}

type outboundFunc func(service string, data map[string]any)

func (f outboundFunc) CallService(service string, data map[string]any) { f(service, data) }
func (f outboundFunc) FireEvent(string, map[string]any)                {}

func TestFirstReportedMotionTurnsLightsOn(t *testing.T) {
	bus := eventbus.NewInline()
	t.Cleanup(func() { bus.Close(context.Background()) })
	hub := platform.NewHub(bus, clock.NewMock())

	var scenes []map[string]any
	hub.OnEvent(DefaultSceneEvent, func(_ string, data map[string]any) { scenes = append(scenes, data) })

	// The motion sensor has never reported before it fires.
	hub.Snapshot(officeGroup, "off")
	r := newOffice(t, Config{}, hub)
	hub.SetState(officeMotion, "on")

	if len(scenes) != 1 {
		t.Fatalf("scene events = %d, want 1", len(scenes))
	}
	if !r.Snapshot().LightsOn {
		t.Error("belief still off after first motion")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"office", "bedroom"} {
		r, err := New(Config{Name: name, NoMotionTimeout: time.Minute}, NewGroupLights(name, ""))
		if err != nil {
			t.Fatal(err)
		}
		if err := reg.Add(r); err != nil {
			t.Fatal(err)
		}
	}

	dup, _ := New(Config{Name: "office", NoMotionTimeout: time.Minute}, NewGroupLights("office", ""))
	if err := reg.Add(dup); err == nil {
		t.Error("duplicate room accepted")
	}
	if _, err := reg.Get("garage"); !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("Get(garage) error = %v, want ErrUnknownRoom", err)
	}
	if names := reg.Names(); len(names) != 2 || names[0] != "bedroom" {
		t.Errorf("Names() = %v", names)
	}

	reg.AttachAll(newFakePort(nil))
	if snaps := reg.Snapshots(); len(snaps) != 2 || snaps[1].Name != "office" {
		t.Errorf("Snapshots() = %+v", snaps)
	}
}

func TestRestoreMotion(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC))
	p := newFakePort(map[string]string{officeGroup: "on", "switch.pc": "off"})
	r := newOffice(t, Config{
		ActivitySensors: []ActivitySensor{IsOn("switch.pc")},
	}, p, WithClock(clk))

	r.RestoreMotion(map[string]time.Time{
		officeMotion:              clk.Now().Add(-time.Minute),
		"binary_sensor.elsewhere": clk.Now().Add(-time.Second),
	})
	snap := r.Snapshot()
	if _, ok := snap.LastMotion["binary_sensor.elsewhere"]; ok {
		t.Error("restored an unknown sensor")
	}
	if !snap.LastMotion[officeMotion].Equal(clk.Now().Add(-time.Minute)) {
		t.Errorf("last motion = %v", snap.LastMotion[officeMotion])
	}

	// Motion a minute ago keeps the lights on when activity ends.
	r.HandleActivityChange("switch.pc")
	if services, _ := p.calls(); len(services) != 0 {
		t.Fatalf("turned off despite restored motion: %v", services)
	}

	// Older or future values never replace what is known.
	r.RestoreMotion(map[string]time.Time{officeMotion: clk.Now().Add(-time.Hour)})
	r.RestoreMotion(map[string]time.Time{officeMotion: clk.Now().Add(time.Hour)})
	if got := r.Snapshot().LastMotion[officeMotion]; !got.Equal(clk.Now().Add(-time.Minute)) {
		t.Errorf("last motion = %v after stale restores", got)
	}
}
