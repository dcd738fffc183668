package app

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/db"
	"github.com/dokzlo13/roomd/internal/eventbus"
	"github.com/dokzlo13/roomd/internal/geo"
	"github.com/dokzlo13/roomd/internal/ledger"
	"github.com/dokzlo13/roomd/internal/platform"
	"github.com/dokzlo13/roomd/internal/room"
	"github.com/dokzlo13/roomd/internal/scene"
	"github.com/dokzlo13/roomd/internal/telemetry"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg   *config.Config
	clock clock.Clock

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Bus      *eventbus.Bus
	Hub      *platform.Hub
	Location *time.Location
	GeoCalc  *geo.Calculator
	Influx   *telemetry.Influx

	// Automation
	Rooms  *room.Registry
	Scenes *scene.Service
	Memory *MemoryService

	// High-level services (Lua and MQTT are nil when not configured)
	Lua       *LuaService
	MQTT      *MQTTService
	Scheduler *SchedulerService
	Health    *HealthService
	Webhook   *WebhookService
}

// NewServices creates all services with proper dependency injection. clk may be nil.
func NewServices(cfg *config.Config, clk clock.Clock) (*Services, error) {
	if clk == nil {
		clk = clock.New()
	}
	s := &Services{cfg: cfg, clock: clk}

	loc, err := cfg.Geo.Location()
	if err != nil {
		return nil, err
	}
	s.Location = loc

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB, clk)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Hub = platform.NewHub(s.Bus, clk)

	if cfg.Geo.HasCoordinates() {
		s.GeoCalc = geo.NewCalculator(*cfg.Geo.Lat, *cfg.Geo.Lon, loc)
	}

	sinks := []telemetry.Sink{s.Ledger}
	if cfg.Influx.Enabled {
		s.Influx, err = telemetry.ConnectInflux(telemetry.InfluxConfig{
			URL:           cfg.Influx.URL,
			Token:         cfg.Influx.Token,
			Org:           cfg.Influx.Org,
			Bucket:        cfg.Influx.Bucket,
			BatchSize:     cfg.Influx.BatchSize,
			FlushInterval: cfg.Influx.FlushInterval.Duration(),
		}, clk)
		if err != nil {
			log.Error().Err(err).Msg("InfluxDB unavailable, telemetry disabled")
		} else {
			sinks = append(sinks, s.Influx)
		}
	}
	recorder := telemetry.NewFanout(sinks...)

	s.Lua, err = NewLuaService(cfg.Script, s.Hub)
	if err != nil {
		s.Close()
		return nil, err
	}
	var scripts scene.Scripts
	if s.Lua != nil {
		scripts = s.Lua.Runtime
	}
	selector := scene.NewSelector(SceneRules(cfg, loc), s.Hub, scripts)
	s.Scenes = scene.NewService(selector, s.Hub, clk, recorder)

	s.Rooms, err = BuildRooms(cfg.Rooms, clk, recorder)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Memory = NewMemoryService(database.DB, s.Rooms, clk, cfg.Database.MemoryInterval.Duration())

	s.Scheduler, err = NewSchedulerService(cfg, s.Bus, s.Ledger, s.GeoCalc, loc, s.Hub, clk)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.MQTT = NewMQTTService(cfg.MQTT, s.Hub)

	var ready func() bool
	if s.MQTT != nil {
		ready = s.MQTT.Ready
	}
	s.Health = NewHealthService(cfg, s.Rooms, ready)
	s.Webhook = NewWebhookService(cfg, s.Hub)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs after startup.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if s.MQTT != nil {
		if err := s.MQTT.Start(ctx); err != nil {
			return err
		}
	}
	if s.Lua != nil {
		s.Lua.Start(ctx)
	}

	s.Scenes.Start()
	s.Memory.Restore()
	s.Rooms.AttachAll(s.Hub)
	log.Info().Strs("rooms", s.Rooms.Names()).Msg("Rooms attached")

	s.Memory.Start(ctx)
	s.Scheduler.Start(ctx)
	s.Health.Start(ctx)
	s.Webhook.Start(ctx, onFatalError)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.Rooms != nil {
		s.Rooms.DetachAll()
	}
	if s.Memory != nil {
		if err := s.Memory.Save(); err != nil {
			log.Error().Err(err).Msg("Failed to save motion history")
		}
	}
	if s.Scenes != nil {
		s.Scenes.Stop()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.Influx != nil {
		s.Influx.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
