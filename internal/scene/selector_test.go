package scene

import (
	"errors"
	"testing"
	"time"

	"github.com/dokzlo13/roomd/internal/room"
)

type states map[string]string

func (s states) State(entityID string) string {
	if v, ok := s[entityID]; ok {
		return v
	}
	return "unknown"
}

// 2024-03-05 is a Tuesday.
func at(day, hour int) time.Time {
	return time.Date(2024, time.March, day, hour, 30, 0, 0, time.UTC)
}

func testRules() Rules {
	return Rules{
		Night:    Night{Enabled: true, Flag: "input_boolean.nighttime_lights_enabled", StartHour: 0, EndHour: 6},
		Location: time.UTC,
		Rooms: map[string]RoomRules{
			"kitchen": {},
			"corridor": {
				Overrides: []Override{{Entity: "binary_sensor.octoprint_printing", Value: "on", Scene: "scene.corridor_bright"}},
			},
			"bedroom": {AwakeFlag: "input_boolean.keith_awake"},
			"living_room": {
				Seed: 2,
				Pool: []Weighted{{"scene.living_room_ibiza", 1}, {"scene.living_room_soho", 1}},
			},
			"office": {
				Seed:    3,
				Workday: &Workday{Scene: "scene.office_concentrate", BeforeHour: 15, Unless: "binary_sensor.keith_ooo"},
				Pool:    []Weighted{{"scene.office_soho", 2}, {"scene.office_savanna_sunset", 1}},
			},
		},
	}
}

func TestBetweenHours(t *testing.T) {
	tests := []struct {
		hour, start, end int
		want             bool
	}{
		{12, 5, 18, true},
		{5, 5, 18, true},
		{18, 5, 18, false},
		{4, 5, 18, false},
		{23, 22, 5, true},
		{0, 22, 5, true},
		{4, 22, 5, true},
		{5, 22, 5, false},
		{12, 22, 5, false},
		{3, 0, 6, true},
		{6, 0, 6, false},
	}
	for _, tt := range tests {
		if got := BetweenHours(tt.hour, tt.start, tt.end); got != tt.want {
			t.Errorf("BetweenHours(%d, %d, %d) = %v, want %v", tt.hour, tt.start, tt.end, got, tt.want)
		}
	}
}

func TestSelect(t *testing.T) {
	base := states{
		"input_boolean.nighttime_lights_enabled": "on",
		"input_boolean.keith_awake":              "on",
		"binary_sensor.keith_ooo":                "off",
		"binary_sensor.octoprint_printing":       "off",
	}
	with := func(k, v string) states {
		s := states{}
		for key, val := range base {
			s[key] = val
		}
		s[k] = v
		return s
	}

	tests := []struct {
		name   string
		room   string
		now    time.Time
		states states
		want   string
	}{
		{"default_bright", "kitchen", at(5, 10), base, "scene.kitchen_bright"},
		{"night_dim", "kitchen", at(5, 2), base, "scene.kitchen_dim"},
		{"night_disabled", "kitchen", at(5, 2), with("input_boolean.nighttime_lights_enabled", "off"), "scene.kitchen_bright"},
		{"printer_beats_night", "corridor", at(5, 2), with("binary_sensor.octoprint_printing", "on"), "scene.corridor_bright"},
		{"corridor_idle_night", "corridor", at(5, 2), base, "scene.corridor_dim"},
		{"bedroom_asleep", "bedroom", at(5, 10), with("input_boolean.keith_awake", "off"), "scene.bedroom_dim"},
		{"bedroom_awake", "bedroom", at(5, 10), base, "scene.bedroom_bright"},
		{"bedroom_awake_unknown", "bedroom", at(5, 10), states{}, "scene.bedroom_dim"},
		{"office_workday", "office", at(5, 9), base, "scene.office_concentrate"},
		{"office_ooo", "office", at(5, 9), with("binary_sensor.keith_ooo", "on"), ""},
		{"office_afternoon", "office", at(5, 16), base, ""},
		{"office_weekend", "office", at(9, 9), base, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := NewSelector(testRules(), tt.states, nil)
			got, err := sel.Select(tt.room, tt.now)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if tt.want == "" {
				if got != "scene.office_soho" && got != "scene.office_savanna_sunset" {
					t.Errorf("Select() = %q, want a pool scene", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Select() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNightBeatsAwakeFlag(t *testing.T) {
	rules := testRules()
	rules.Rooms["bedroom"] = RoomRules{AwakeFlag: "input_boolean.keith_awake", Dim: "scene.bedroom_nightlight"}
	sel := NewSelector(rules, states{
		"input_boolean.nighttime_lights_enabled": "on",
		"input_boolean.keith_awake":              "off",
	}, nil)

	for i := 0; i < 10; i++ {
		got, err := sel.Select("bedroom", at(5, 3))
		if err != nil {
			t.Fatal(err)
		}
		if got != "scene.bedroom_nightlight" {
			t.Fatalf("Select() = %q, want dim scene", got)
		}
	}
}

func TestSelectUnknownRoom(t *testing.T) {
	sel := NewSelector(testRules(), states{}, nil)
	if _, err := sel.Select("garage", at(5, 10)); !errors.Is(err, room.ErrUnknownRoom) {
		t.Errorf("error = %v, want ErrUnknownRoom", err)
	}
}

type scriptFunc func(room string, now time.Time) (string, bool, error)

func (f scriptFunc) Override(room string, now time.Time) (string, bool, error) { return f(room, now) }

func TestScriptOverride(t *testing.T) {
	scripts := scriptFunc(func(room string, _ time.Time) (string, bool, error) {
		if room == "kitchen" {
			return "scene.kitchen_cooking", true, nil
		}
		return "", false, errors.New("boom")
	})
	sel := NewSelector(testRules(), states{}, scripts)

	if got, _ := sel.Select("kitchen", at(5, 2)); got != "scene.kitchen_cooking" {
		t.Errorf("kitchen = %q", got)
	}
	// A failing script falls through to the built-in rules.
	if got, _ := sel.Select("bedroom", at(5, 10)); got != "scene.bedroom_dim" {
		t.Errorf("bedroom = %q", got)
	}
}

func TestDayStableSameDay(t *testing.T) {
	pool := []Weighted{{"a", 1}, {"b", 1}, {"c", 1}, {"d", 1}}
	first := DayStable(7, at(5, 0), pool)
	for hour := 0; hour < 24; hour++ {
		if got := DayStable(7, time.Date(2024, time.March, 5, hour, 59, 59, 0, time.UTC), pool); got != first {
			t.Fatalf("hour %d picked %q, earlier %q", hour, got, first)
		}
	}

	// Pool order doesn't matter.
	reversed := []Weighted{{"d", 1}, {"c", 1}, {"b", 1}, {"a", 1}}
	if got := DayStable(7, at(5, 12), reversed); got != first {
		t.Errorf("reordered pool picked %q, want %q", got, first)
	}
}

func TestDayStableDistribution(t *testing.T) {
	pool := []Weighted{{"preferred", 2}, {"other", 1}}
	const days = 3000
	start := time.Date(2020, time.January, 1, 12, 0, 0, 0, time.UTC)

	counts := map[string]int{}
	for i := 0; i < days; i++ {
		counts[DayStable(1, start.AddDate(0, 0, i), pool)]++
	}

	share := float64(counts["preferred"]) / days
	if share < 0.61 || share > 0.72 {
		t.Errorf("preferred share = %.3f over %d days, want ~0.667 (counts %v)", share, days, counts)
	}
}

func TestDayStableDiffersAcrossDaysAndRooms(t *testing.T) {
	pool := []Weighted{{"a", 1}, {"b", 1}, {"c", 1}, {"d", 1}, {"e", 1}}
	start := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

	daysSeen := map[string]bool{}
	mismatches := 0
	for i := 0; i < 60; i++ {
		day := start.AddDate(0, 0, i)
		a := DayStable(1, day, pool)
		daysSeen[a] = true
		if a != DayStable(2, day, pool) {
			mismatches++
		}
	}
	if len(daysSeen) < 3 {
		t.Errorf("only %d distinct scenes over 60 days", len(daysSeen))
	}
	if mismatches == 0 {
		t.Error("two room seeds always agreed")
	}
}

func TestDayStableIgnoresZeroWeights(t *testing.T) {
	if got := DayStable(1, at(5, 1), []Weighted{{"never", 0}, {"always", 3}}); got != "always" {
		t.Errorf("got %q", got)
	}
	if got := DayStable(1, at(5, 1), nil); got != "" {
		t.Errorf("empty pool picked %q", got)
	}
}
