package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Geo             GeoConfig         `yaml:"geo"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Webhook         WebhookConfig     `yaml:"webhook"`
	Influx          InfluxConfig      `yaml:"influx"`
	Scenes          ScenesConfig      `yaml:"scenes"`
	Rooms           []RoomConfig      `yaml:"rooms"`
	Schedules       []ScheduleConfig  `yaml:"schedules"`
	Script          string            `yaml:"script"`           // Optional Lua file with scene overrides
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// MemoryInterval is how often room motion history is saved for restarts.
	MemoryInterval Duration `yaml:"memory_interval"`
}

// MQTTConfig contains broker settings for the Home Assistant bridge
type MQTTConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Broker     string  `yaml:"broker"` // tcp://host:1883
	ClientID   string  `yaml:"client_id"`
	Username   string  `yaml:"username"`
	Password   string  `yaml:"password"`
	StateBase  string  `yaml:"state_base"` // mqtt_statestream base topic
	Prefix     string  `yaml:"prefix"`     // events and service calls
	Domains    string  `yaml:"domains"`    // e.g. "binary_sensor|light|switch", empty for all
	QoS        int     `yaml:"qos"`
	PublishRPS float64 `yaml:"publish_rps"`
	QueueSize  int     `yaml:"queue_size"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Per-worker queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// GeoConfig contains location settings. Coordinates enable sun schedules.
type GeoConfig struct {
	Timezone string   `yaml:"timezone"`
	Lat      *float64 `yaml:"lat"`
	Lon      *float64 `yaml:"lon"`
}

// HasCoordinates reports whether both lat and lon are set.
func (g GeoConfig) HasCoordinates() bool {
	return g.Lat != nil && g.Lon != nil
}

// Location loads the configured timezone.
func (g GeoConfig) Location() (*time.Location, error) {
	return time.LoadLocation(g.Timezone)
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// WebhookConfig contains webhook server settings
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// InfluxConfig contains optional InfluxDB telemetry settings
type InfluxConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     uint     `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// ScenesConfig configures default scene selection.
type ScenesConfig struct {
	Night NightConfig                `yaml:"night"`
	Rooms map[string]SceneRoomConfig `yaml:"rooms"`
}

// NightConfig forces dim scenes between StartHour and EndHour while Flag is on.
type NightConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Flag      string `yaml:"flag"`
	StartHour int    `yaml:"start_hour"`
	EndHour   int    `yaml:"end_hour"`
}

// SceneRoomConfig holds the selection rules of one room.
type SceneRoomConfig struct {
	Seed      int64            `yaml:"seed"`
	Overrides []OverrideConfig `yaml:"overrides"`
	AwakeFlag string           `yaml:"awake_flag"`
	Workday   *WorkdayConfig   `yaml:"workday"`
	Pool      []WeightedScene  `yaml:"pool"`
	Bright    string           `yaml:"bright"`
	Dim       string           `yaml:"dim"`
}

type OverrideConfig struct {
	Entity string `yaml:"entity"`
	Value  string `yaml:"value"`
	Scene  string `yaml:"scene"`
}

type WorkdayConfig struct {
	Scene      string `yaml:"scene"`
	BeforeHour int    `yaml:"before_hour"`
	Unless     string `yaml:"unless"`
}

type WeightedScene struct {
	Scene  string `yaml:"scene"`
	Weight int    `yaml:"weight"`
}

// RoomConfig describes one automated room. Area and Switch are mutually exclusive;
// without Switch the room drives the light group of Area (default: the room name).
type RoomConfig struct {
	Name          string         `yaml:"name"`
	Area          string         `yaml:"area"`
	Switch        string         `yaml:"switch"`
	Timeout       Duration       `yaml:"timeout"`
	MotionSensors []string       `yaml:"motion_sensors"`
	ManualControl bool           `yaml:"manual_control"`
	Sensors       []SensorConfig `yaml:"sensors"`
	LightsOnlyIf  []SensorConfig `yaml:"lights_only_if"`
}

// SensorConfig selects exactly one predicate over Entity.
type SensorConfig struct {
	Entity     string   `yaml:"entity"`
	Is         string   `yaml:"is"`
	IsOn       bool     `yaml:"is_on"`
	IsOff      bool     `yaml:"is_off"`
	IsntOff    bool     `yaml:"isnt_off"`
	Below      *float64 `yaml:"below"`
	Above      *float64 `yaml:"above"`
	ComparedTo string   `yaml:"compared_to"`
	Op         string   `yaml:"op"`
	Offset     float64  `yaml:"offset"`
}

func (s SensorConfig) predicates() int {
	n := 0
	for _, set := range []bool{s.Is != "", s.IsOn, s.IsOff, s.IsntOff, s.Below != nil, s.Above != nil, s.ComparedTo != ""} {
		if set {
			n++
		}
	}
	return n
}

// ScheduleConfig is a daily action. Exactly one of Event or Entity is set.
type ScheduleConfig struct {
	ID      string         `yaml:"id"`
	At      string         `yaml:"at"` // "22:15" or "@sunset - 30m"
	Tag     string         `yaml:"tag"`
	Misfire string         `yaml:"misfire"` // skip (default) or run_latest
	Event   string         `yaml:"event"`
	Data    map[string]any `yaml:"data"`
	Entity  string         `yaml:"entity"`
	Value   string         `yaml:"value"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads, parses and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./roomd.sqlite"
	}
	if cfg.Database.MemoryInterval == 0 {
		cfg.Database.MemoryInterval = Duration(time.Minute)
	}
	if cfg.Geo.Timezone == "" {
		cfg.Geo.Timezone = "UTC"
	}

	if cfg.MQTT.StateBase == "" {
		cfg.MQTT.StateBase = "homeassistant/statestream"
	}
	if cfg.MQTT.Prefix == "" {
		cfg.MQTT.Prefix = "roomd"
	}
	if cfg.MQTT.PublishRPS == 0 {
		cfg.MQTT.PublishRPS = 20
	}

	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = 8080
	}
	if cfg.Webhook.Host == "" {
		cfg.Webhook.Host = "0.0.0.0"
	}

	if cfg.Influx.FlushInterval == 0 {
		cfg.Influx.FlushInterval = Duration(10 * time.Second)
	}

	if cfg.Scenes.Night.StartHour == 0 && cfg.Scenes.Night.EndHour == 0 {
		cfg.Scenes.Night.EndHour = 6
	}

	for i := range cfg.Rooms {
		if cfg.Rooms[i].Timeout == 0 {
			cfg.Rooms[i].Timeout = Duration(10 * time.Minute)
		}
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate reports every configuration problem at once.
func (cfg *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := cfg.Geo.Location(); err != nil {
		add("geo.timezone: %w", err)
	}
	if (cfg.Geo.Lat == nil) != (cfg.Geo.Lon == nil) {
		add("geo: lat and lon must be set together")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		add("mqtt.broker is required when mqtt is enabled")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		add("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.Influx.Enabled && (cfg.Influx.URL == "" || cfg.Influx.Bucket == "") {
		add("influx.url and influx.bucket are required when influx is enabled")
	}

	night := cfg.Scenes.Night
	if !validHour(night.StartHour) || !validHour(night.EndHour) {
		add("scenes.night: hours must be within 0-23")
	}
	for name, r := range cfg.Scenes.Rooms {
		for i, o := range r.Overrides {
			if o.Entity == "" || o.Scene == "" {
				add("scenes.rooms.%s.overrides[%d]: entity and scene are required", name, i)
			}
		}
		if r.Workday != nil && (r.Workday.Scene == "" || r.Workday.BeforeHour < 0 || r.Workday.BeforeHour > 24) {
			add("scenes.rooms.%s.workday: scene and before_hour 0-24 are required", name)
		}
		for i, w := range r.Pool {
			if w.Scene == "" || w.Weight < 0 {
				add("scenes.rooms.%s.pool[%d]: scene and a non-negative weight are required", name, i)
			}
		}
	}

	seen := map[string]bool{}
	for i, r := range cfg.Rooms {
		where := fmt.Sprintf("rooms[%d]", i)
		if r.Name == "" {
			add("%s: name is required", where)
			continue
		}
		where = "rooms." + r.Name
		if seen[r.Name] {
			add("%s: duplicate room", where)
		}
		seen[r.Name] = true
		if r.Area != "" && r.Switch != "" {
			add("%s: area and switch are mutually exclusive", where)
		}
		if r.Timeout.Duration() <= 0 {
			add("%s: timeout must be positive", where)
		}
		for j, s := range r.Sensors {
			if err := validateSensor(s); err != nil {
				add("%s.sensors[%d]: %w", where, j, err)
			}
		}
		for j, s := range r.LightsOnlyIf {
			if err := validateSensor(s); err != nil {
				add("%s.lights_only_if[%d]: %w", where, j, err)
			}
		}
	}

	ids := map[string]bool{}
	for i, s := range cfg.Schedules {
		where := fmt.Sprintf("schedules[%d]", i)
		if s.ID == "" {
			add("%s: id is required", where)
		} else if ids[s.ID] {
			add("%s: duplicate id %q", where, s.ID)
		}
		ids[s.ID] = true
		if s.At == "" {
			add("%s: at is required", where)
		}
		if (s.Event == "") == (s.Entity == "") {
			add("%s: exactly one of event or entity is required", where)
		}
		if s.Entity != "" && s.Value == "" {
			add("%s: value is required with entity", where)
		}
		switch s.Misfire {
		case "", "skip", "run_latest":
		default:
			add("%s: unknown misfire policy %q", where, s.Misfire)
		}
	}

	return errors.Join(errs...)
}

func validateSensor(s SensorConfig) error {
	if s.Entity == "" {
		return fmt.Errorf("entity is required")
	}
	if n := s.predicates(); n != 1 {
		return fmt.Errorf("exactly one predicate is required for %s, got %d", s.Entity, n)
	}
	if s.ComparedTo != "" {
		switch s.Op {
		case "<", "<=", ">", ">=":
		default:
			return fmt.Errorf("unsupported comparison operator %q for %s", s.Op, s.Entity)
		}
	}
	return nil
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return defaultVal
	})
}
