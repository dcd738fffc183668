package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/ledger"
	"github.com/dokzlo13/roomd/internal/room"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
rooms:
  - name: office
    timeout: 5m
scenes:
  rooms:
    living_room:
      pool: [{scene: scene.living_room_soho, weight: 1}]
schedules:
  - id: evening
    at: "21:30"
    entity: input_boolean.evening
    value: "on"
`))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Database.Path = filepath.Join(t.TempDir(), "roomd.sqlite")
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMotionTurnsOfficeOn(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC))

	s, err := NewServices(testConfig(t), clk)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.Stop()
	}()

	s.Hub.Snapshot("group.office_lights", "off")
	s.Hub.Snapshot("binary_sensor.office_motion_occupancy", "off")
	if err := s.Start(ctx, func(err error) { t.Errorf("fatal: %v", err) }); err != nil {
		t.Fatal(err)
	}

	s.Hub.SetState("binary_sensor.office_motion_occupancy", "on")

	var history []*ledger.Entry
	waitFor(t, "office ledger entries", func() bool {
		history, err = s.Ledger.RoomHistory("office", 10)
		return err == nil && len(history) == 2
	})
	types := map[ledger.EventType]bool{}
	for _, e := range history {
		types[e.EventType] = true
	}
	if !types[ledger.EventType(room.TransitionLightsOn)] || !types[ledger.EventSceneApplied] {
		t.Errorf("history types = %v", types)
	}

	rec := httptest.NewRecorder()
	s.Health.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	var snaps []room.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snaps); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].Name != "office" || !snaps[0].LightsOn {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestHealthEndpoints(t *testing.T) {
	cfg := testConfig(t)
	registry, err := BuildRooms(cfg.Rooms, clock.NewMock(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ready := false
	h := NewHealthService(cfg, registry, func() bool { return ready }).Handler()

	get := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}
	if code := get("/health"); code != http.StatusOK {
		t.Errorf("/health = %d", code)
	}
	if code := get("/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready before connect = %d", code)
	}
	ready = true
	if code := get("/ready"); code != http.StatusOK {
		t.Errorf("/ready = %d", code)
	}
}

func TestPrintSchedule(t *testing.T) {
	cfg := testConfig(t)
	lat, lon := 51.5, -0.12
	cfg.Geo.Lat, cfg.Geo.Lon = &lat, &lon

	out, err := PrintSchedule(cfg, time.Date(2024, time.June, 21, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"sun:rise", "sun:set", "evening", "input_boolean.evening = on"} {
		if !strings.Contains(out, want) {
			t.Errorf("schedule missing %q:\n%s", want, out)
		}
	}
}
