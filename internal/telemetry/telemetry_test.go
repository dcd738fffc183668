package telemetry

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

type capturedPoints struct {
	points  []*write.Point
	flushed int
}

func (c *capturedPoints) WritePoint(p *write.Point) { c.points = append(c.points, p) }
func (c *capturedPoints) Flush()                    { c.flushed++ }

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]any {
	out := map[string]any{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestInfluxPoints(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC))
	w := &capturedPoints{}
	in := newInflux(w, clk)

	in.RecordTransition("office", "lights_on", map[string]any{"trigger": "binary_sensor.office_motion", "platform_off": true})
	in.RecordTransition("office", "lights_off", map[string]any{"idle": 5 * time.Minute})
	in.RecordScene("kitchen", "scene.kitchen_bright", map[string]any{"transition": 3})

	if len(w.points) != 3 {
		t.Fatalf("points = %d", len(w.points))
	}

	on := w.points[0]
	if on.Name() != MeasurementTransition || tags(on)["room"] != "office" || tags(on)["transition"] != "lights_on" {
		t.Errorf("on point = %s %v", on.Name(), tags(on))
	}
	f := fields(on)
	if f["lights"] != int64(1) || f["platform_off"] != true {
		t.Errorf("on fields = %v", f)
	}
	if _, ok := f["trigger"]; ok {
		t.Error("string field written")
	}
	if !on.Time().Equal(clk.Now()) {
		t.Errorf("time = %v", on.Time())
	}

	if f := fields(w.points[1]); f["lights"] != int64(0) || f["idle_seconds"] != float64(300) {
		t.Errorf("off fields = %v", f)
	}
	scene := w.points[2]
	if scene.Name() != MeasurementScene || tags(scene)["scene"] != "scene.kitchen_bright" || fields(scene)["transition"] != int64(3) {
		t.Errorf("scene point = %s %v %v", scene.Name(), tags(scene), fields(scene))
	}

	in.Close()
	in.Close()
	in.RecordScene("kitchen", "scene.kitchen_dim", nil)
	if w.flushed != 1 || len(w.points) != 3 {
		t.Errorf("after close: flushed %d, points %d", w.flushed, len(w.points))
	}
}

type countingSink struct{ transitions, scenes int }

func (c *countingSink) RecordTransition(string, string, map[string]any) { c.transitions++ }
func (c *countingSink) RecordScene(string, string, map[string]any)      { c.scenes++ }

func TestFanout(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	f := NewFanout(a, nil, b)
	if len(f) != 2 {
		t.Fatalf("fanout has %d sinks", len(f))
	}
	f.RecordTransition("office", "lights_on", nil)
	f.RecordScene("office", "scene.office_soho", nil)
	if a.transitions != 1 || b.transitions != 1 || a.scenes != 1 || b.scenes != 1 {
		t.Errorf("a = %+v, b = %+v", a, b)
	}
}
