package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/eventbus"
)

// Dedupe reports whether an occurrence already completed.
type Dedupe interface {
	HasCompleted(idempotencyKey string) bool
}

// Scheduler keeps daily schedules in memory and emits their occurrences to the bus.
type Scheduler struct {
	mu        sync.RWMutex
	schedules map[string]*DailySchedule

	bus       *eventbus.Bus
	dedupe    Dedupe
	evaluator TimeEvaluator
	clock     clock.Clock

	reschedule chan struct{}
}

// New creates a scheduler. dedupe may be nil.
func New(bus *eventbus.Bus, dedupe Dedupe, evaluator TimeEvaluator, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		schedules:  make(map[string]*DailySchedule),
		bus:        bus,
		dedupe:     dedupe,
		evaluator:  evaluator,
		clock:      clk,
		reschedule: make(chan struct{}, 1),
	}
}

// Evaluator returns the time expression evaluator.
func (s *Scheduler) Evaluator() TimeEvaluator {
	return s.evaluator
}

// Define creates and registers a daily schedule.
func (s *Scheduler) Define(id, expr string, action Action, tag string, policy MisfirePolicy) error {
	sched, err := NewDailySchedule(id, expr, action, tag, policy, s.evaluator)
	if err != nil {
		return err
	}
	s.Register(sched)
	return nil
}

// Register adds a schedule, replacing one with the same ID.
func (s *Scheduler) Register(sched *DailySchedule) {
	s.mu.Lock()
	s.schedules[sched.ID()] = sched
	s.mu.Unlock()

	log.Debug().
		Str("id", sched.ID()).
		Str("tag", sched.Tag()).
		Str("expr", sched.Expr()).
		Str("action", sched.Action().String()).
		Msg("Schedule registered")

	s.notifyReschedule()
}

// Unregister removes a schedule
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	delete(s.schedules, id)
	s.mu.Unlock()
	s.notifyReschedule()
}

func (s *Scheduler) notifyReschedule() {
	select {
	case s.reschedule <- struct{}{}:
	default:
	}
}

// Run starts the scheduler loop. It returns when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Msg("Scheduler started")

	for {
		now := s.clock.Now()
		occ, sched := s.nextOccurrence(now)

		sleep := time.Hour
		if occ != nil {
			sleep = occ.Time.Sub(now)
			if sleep < 0 {
				sleep = 0
			}
		}

		log.Debug().Dur("sleep_duration", sleep).Msg("Scheduler sleeping")
		timer := s.clock.Timer(sleep)

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Scheduler stopping")
			return nil

		case <-s.reschedule:
			timer.Stop()
			log.Debug().Msg("Schedule changed, recomputing")

		case <-timer.C:
			if occ != nil {
				s.emit(sched, occ, "scheduler")
			}
		}
	}
}

// RunBootRecovery replays the most recent past occurrence of each run_latest
// schedule group. Schedules sharing a tag form one group, and only the member that
// fired most recently runs, since it supersedes the others. Untagged schedules are
// their own group.
func (s *Scheduler) RunBootRecovery() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()

	type candidate struct {
		sched *DailySchedule
		prev  *Occurrence
	}
	winners := make(map[string]candidate)

	for _, sched := range s.schedules {
		if sched.MisfirePolicy() != MisfirePolicyRunLatest {
			continue
		}
		prev := sched.Prev(now)
		if prev == nil {
			continue
		}

		group := sched.Tag()
		if group == "" {
			group = "__untagged:" + sched.ID()
		}
		existing, ok := winners[group]
		if !ok || prev.Time.After(existing.prev.Time) {
			winners[group] = candidate{sched: sched, prev: prev}
		}
	}

	for group, winner := range winners {
		log.Info().
			Str("schedule", winner.sched.ID()).
			Str("group", group).
			Time("prev_time", winner.prev.Time).
			Msg("Boot recovery: running most recent occurrence for group")

		s.emitDirect(winner.sched, NewOccurrenceWithSuffix(winner.sched.ID(), now, "boot"), "boot_recovery")
	}
}

func (s *Scheduler) nextOccurrence(after time.Time) (*Occurrence, *DailySchedule) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest *Occurrence
	var source *DailySchedule
	for _, sched := range s.schedules {
		if occ := sched.Next(after); occ != nil {
			if earliest == nil || occ.Time.Before(earliest.Time) {
				earliest = occ
				source = sched
			}
		}
	}
	return earliest, source
}

func (s *Scheduler) emit(sched *DailySchedule, occ *Occurrence, source string) {
	if s.dedupe != nil && s.dedupe.HasCompleted(occ.ID) {
		log.Debug().Str("occurrence", occ.ID).Msg("Already completed, skipping")
		return
	}
	s.emitDirect(sched, occ, source)
}

func (s *Scheduler) emitDirect(sched *DailySchedule, occ *Occurrence, source string) {
	log.Info().
		Str("schedule_id", sched.ID()).
		Str("occurrence_id", occ.ID).
		Str("action", sched.Action().String()).
		Time("time", occ.Time).
		Str("source", source).
		Msg("Emitting schedule event")

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeSchedule,
		Key:  "schedule:" + sched.ID(),
		Data: map[string]interface{}{
			"schedule_id":   sched.ID(),
			"occurrence_id": occ.ID,
			"action":        sched.Action(),
			"run_at":        occ.Time,
			"source":        source,
		},
	})
}

// ScheduleEntry represents a single occurrence for display
type ScheduleEntry struct {
	ID     string
	Expr   string
	Time   time.Time
	Action string
	Tag    string
	IsPast bool
}

// Entries returns every occurrence on the calendar day of day, ordered by time.
func (s *Scheduler) Entries(day time.Time) []ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tz := s.evaluator.Location()
	now := s.clock.Now()
	d := day.In(tz)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, tz)
	end := start.AddDate(0, 0, 1)

	var entries []ScheduleEntry
	for _, sched := range s.schedules {
		occ := sched.Next(start.Add(-time.Second))
		if occ == nil || !occ.Time.Before(end) {
			continue
		}
		tag := sched.Tag()
		if tag == "" {
			tag = "-"
		}
		entries = append(entries, ScheduleEntry{
			ID:     sched.ID(),
			Expr:   sched.Expr(),
			Time:   occ.Time,
			Action: sched.Action().String(),
			Tag:    tag,
			IsPast: occ.Time.Before(now),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Time.Before(entries[j].Time) })
	return entries
}

// FormatScheduleForDay returns a human-readable schedule for a specific day.
func (s *Scheduler) FormatScheduleForDay(day time.Time) string {
	tz := s.evaluator.Location()
	entries := s.Entries(day)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Schedule for %s (timezone: %s)\n", day.In(tz).Format("2006-01-02"), tz)
	fmt.Fprintf(&sb, "%-3s %-20s %-20s %-10s %-40s %s\n", "", "ID", "EXPR", "TIME", "ACTION", "TAG")
	sb.WriteString(strings.Repeat("-", 100) + "\n")

	for _, e := range entries {
		status := " "
		if e.IsPast {
			status = "✓"
		}
		fmt.Fprintf(&sb, "%-3s %-20s %-20s %-10s %-40s %s\n",
			status, e.ID, e.Expr, e.Time.In(tz).Format("15:04:05"), e.Action, e.Tag)
	}
	if len(entries) == 0 {
		sb.WriteString("No occurrences for this day\n")
	}
	return sb.String()
}
