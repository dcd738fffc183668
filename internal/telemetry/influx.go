// Package telemetry fans room transitions and applied scenes out to the ledger and
// an optional InfluxDB bucket.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout = 10 * time.Second

	MeasurementTransition = "room_transition"
	MeasurementScene      = "scene_applied"
)

var ErrConnectionFailed = errors.New("influxdb connection failed")

// InfluxConfig selects the bucket and batching.
type InfluxConfig struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Influx writes one point per transition and per applied scene. Writes are
// non-blocking and batched by the client.
type Influx struct {
	client influxdb2.Client
	writer pointWriter
	clock  clock.Clock
	closed atomic.Bool
}

// ConnectInflux creates the client and verifies the server with a ping.
func ConnectInflux(cfg InfluxConfig, clk clock.Clock) (*Influx, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Msg("InfluxDB write failed")
		}
	}()

	in := newInflux(writeAPI, clk)
	in.client = client
	return in, nil
}

func newInflux(w pointWriter, clk clock.Clock) *Influx {
	if clk == nil {
		clk = clock.New()
	}
	return &Influx{writer: w, clock: clk}
}

// RecordTransition writes lights=1 for lights_on and lights=0 otherwise.
func (in *Influx) RecordTransition(room, transition string, fields map[string]any) {
	lights := 0
	if transition == "lights_on" {
		lights = 1
	}
	values := numericFields(fields)
	values["lights"] = lights
	in.write(MeasurementTransition, map[string]string{"room": room, "transition": transition}, values)
}

func (in *Influx) RecordScene(room, scene string, fields map[string]any) {
	values := numericFields(fields)
	values["count"] = 1
	in.write(MeasurementScene, map[string]string{"room": room, "scene": scene}, values)
}

func (in *Influx) write(measurement string, tags map[string]string, fields map[string]any) {
	if in.closed.Load() {
		return
	}
	in.writer.WritePoint(write.NewPoint(measurement, tags, fields, in.clock.Now()))
}

// Close flushes pending points and closes the client.
func (in *Influx) Close() {
	if in.closed.Swap(true) {
		return
	}
	in.writer.Flush()
	if in.client != nil {
		in.client.Close()
	}
}

// numericFields keeps the values Influx can store as fields.
func numericFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		switch v := v.(type) {
		case int, int64, float64, bool:
			out[k] = v
		case time.Duration:
			out[k+"_seconds"] = v.Seconds()
		}
	}
	return out
}
