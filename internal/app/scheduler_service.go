package app

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/eventbus"
	"github.com/dokzlo13/roomd/internal/geo"
	"github.com/dokzlo13/roomd/internal/ledger"
	"github.com/dokzlo13/roomd/internal/platform"
	"github.com/dokzlo13/roomd/internal/scheduler"
)

// SchedulerService wraps the scheduler and related periodic tasks.
type SchedulerService struct {
	cfg       *config.Config
	Scheduler *scheduler.Scheduler
	ledger    *ledger.Ledger
	clock     clock.Clock
}

// NewSchedulerService defines the sun schedules (with coordinates) and every
// configured schedule, and routes their occurrences to hub.
func NewSchedulerService(
	cfg *config.Config,
	bus *eventbus.Bus,
	l *ledger.Ledger,
	geoCalc *geo.Calculator,
	loc *time.Location,
	hub *platform.Hub,
	clk clock.Clock,
) (*SchedulerService, error) {
	sched := newScheduler(bus, l, geoCalc, loc, clk)
	if err := defineSchedules(sched, cfg, geoCalc != nil); err != nil {
		return nil, err
	}
	scheduler.RegisterHandler(bus, hub, l)

	return &SchedulerService{
		cfg:       cfg,
		Scheduler: sched,
		ledger:    l,
		clock:     clk,
	}, nil
}

func newScheduler(bus *eventbus.Bus, l *ledger.Ledger, geoCalc *geo.Calculator, loc *time.Location, clk clock.Clock) *scheduler.Scheduler {
	var dedupe scheduler.Dedupe
	if l != nil {
		dedupe = l
	}
	if geoCalc == nil {
		log.Info().Msg("No geo coordinates - astronomical times (@sunrise, @sunset, etc.) are not available")
	}
	return scheduler.New(bus, dedupe, scheduler.NewEvaluator(geoCalc, loc), clk)
}

func defineSchedules(sched *scheduler.Scheduler, cfg *config.Config, sun bool) error {
	if sun {
		if err := sched.DefineSun(); err != nil {
			return err
		}
	}
	for _, sc := range cfg.Schedules {
		action := scheduler.Action{Event: sc.Event, Data: sc.Data, Entity: sc.Entity, Value: sc.Value}
		if err := sched.Define(sc.ID, sc.At, action, sc.Tag, scheduler.MisfirePolicy(sc.Misfire)); err != nil {
			return err
		}
	}
	return nil
}

// Start runs boot recovery, then the scheduler loop and ledger cleanup.
func (s *SchedulerService) Start(ctx context.Context) {
	s.Scheduler.RunBootRecovery()

	go func() {
		if err := s.Scheduler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduler error")
		}
	}()

	go s.runLedgerCleanup(ctx)
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *SchedulerService) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	ticker := s.clock.Ticker(s.cfg.Ledger.CleanupInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// PrintSchedule formats the schedule for day without opening the database or
// touching the platform.
func PrintSchedule(cfg *config.Config, day time.Time) (string, error) {
	loc, err := cfg.Geo.Location()
	if err != nil {
		return "", err
	}
	var geoCalc *geo.Calculator
	if cfg.Geo.HasCoordinates() {
		geoCalc = geo.NewCalculator(*cfg.Geo.Lat, *cfg.Geo.Lon, loc)
	}
	bus := eventbus.NewInline()
	defer bus.Close(context.Background())

	sched := newScheduler(bus, nil, geoCalc, loc, clock.New())
	if err := defineSchedules(sched, cfg, geoCalc != nil); err != nil {
		return "", err
	}
	return sched.FormatScheduleForDay(day), nil
}
