package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
log:
  level: debug
mqtt:
  enabled: true
  broker: ${ROOMD_TEST_BROKER:tcp://localhost:1883}
  domains: binary_sensor|light|switch|sensor
geo:
  timezone: Europe/London
  lat: 51.5
  lon: -0.12
scenes:
  night:
    enabled: true
    flag: input_boolean.nighttime_lights_enabled
  rooms:
    living_room:
      seed: 2
      pool:
        - {scene: scene.living_room_ibiza, weight: 1}
        - {scene: scene.living_room_soho, weight: 1}
    office:
      workday: {scene: scene.office_concentrate, before_hour: 15, unless: binary_sensor.keith_ooo}
rooms:
  - name: office
    timeout: 15m
    manual_control: true
    sensors:
      - {entity: binary_sensor.office_door, is_off: true}
      - {entity: sensor.office_humidity, compared_to: sensor.hall_humidity, op: ">", offset: 5}
    lights_only_if:
      - {entity: sun.sun, is: below_horizon}
  - name: hallway
    switch: switch.hallway_lamp
schedules:
  - id: relax
    at: "@sunset - 30m"
    event: default_scene_turn_on
    data: {rooms: [living_room]}
`

func TestParse(t *testing.T) {
	t.Setenv("ROOMD_TEST_BROKER", "tcp://broker:1883")

	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("broker = %q, want env expansion", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Prefix != "roomd" || cfg.MQTT.StateBase != "homeassistant/statestream" {
		t.Errorf("mqtt defaults = %+v", cfg.MQTT)
	}
	if !cfg.Geo.HasCoordinates() || *cfg.Geo.Lat != 51.5 {
		t.Errorf("geo = %+v", cfg.Geo)
	}
	if cfg.Scenes.Night.EndHour != 6 {
		t.Errorf("night end hour = %d, want default 6", cfg.Scenes.Night.EndHour)
	}
	if len(cfg.Rooms) != 2 {
		t.Fatalf("rooms = %d", len(cfg.Rooms))
	}
	if cfg.Rooms[0].Timeout.Duration() != 15*time.Minute || cfg.Rooms[1].Timeout.Duration() != 10*time.Minute {
		t.Errorf("timeouts = %v, %v", cfg.Rooms[0].Timeout.Duration(), cfg.Rooms[1].Timeout.Duration())
	}
	humidity := cfg.Rooms[0].Sensors[1]
	if humidity.ComparedTo != "sensor.hall_humidity" || humidity.Op != ">" || humidity.Offset != 5 {
		t.Errorf("humidity sensor = %+v", humidity)
	}
	if w := cfg.Scenes.Rooms["office"].Workday; w == nil || w.BeforeHour != 15 {
		t.Errorf("office workday = %+v", w)
	}
	if rooms, _ := cfg.Schedules[0].Data["rooms"].([]any); len(rooms) != 1 {
		t.Errorf("schedule data = %v", cfg.Schedules[0].Data)
	}
	if cfg.ShutdownTimeout.Duration() != 5*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.ShutdownTimeout.Duration())
	}
}

func TestEnvDefault(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("broker = %q, want default", cfg.MQTT.Broker)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"ok", "rooms: [{name: office}]", ""},
		{"missing_name", "rooms: [{timeout: 5m}]", "name is required"},
		{"duplicate_room", "rooms: [{name: office}, {name: office}]", "duplicate room"},
		{"area_and_switch", "rooms: [{name: hall, area: hall, switch: switch.lamp}]", "mutually exclusive"},
		{"two_predicates", "rooms: [{name: office, sensors: [{entity: switch.tv, is_on: true, is_off: true}]}]", "exactly one predicate"},
		{"no_predicate", "rooms: [{name: office, sensors: [{entity: switch.tv}]}]", "exactly one predicate"},
		{"bad_op", "rooms: [{name: office, sensors: [{entity: sensor.a, compared_to: sensor.b, op: '=='}]}]", "unsupported comparison"},
		{"bad_timezone", "geo: {timezone: Mars/Olympus}", "geo.timezone"},
		{"lat_only", "geo: {lat: 10}", "lat and lon"},
		{"mqtt_without_broker", "mqtt: {enabled: true}", "mqtt.broker"},
		{"night_hour", "scenes: {night: {start_hour: 25, end_hour: 6}}", "hours must be within"},
		{"negative_weight", "scenes: {rooms: {office: {pool: [{scene: scene.a, weight: -1}]}}}", "non-negative weight"},
		{"schedule_both_actions", "schedules: [{id: a, at: '10:00', event: x, entity: light.y, value: 'on'}]", "exactly one of event or entity"},
		{"schedule_duplicate", "schedules: [{id: a, at: '10:00', event: x}, {id: a, at: '11:00', event: x}]", "duplicate id"},
		{"schedule_misfire", "schedules: [{id: a, at: '10:00', event: x, misfire: always}]", "unknown misfire"},
		{"bad_duration", "rooms: [{name: office, timeout: soon}]", "invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("rooms: [{name: kitchen}]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Path != "./roomd.sqlite" || cfg.Rooms[0].Name != "kitchen" {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
