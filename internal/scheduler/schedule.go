// Package scheduler fires daily occurrences at fixed or sun-relative times and
// emits them on the event bus.
package scheduler

import (
	"fmt"
	"time"
)

// Occurrence represents a specific firing point of a schedule
type Occurrence struct {
	// ID uniquely identifies this occurrence (e.g., "sun:set/1704067200")
	ID         string
	ScheduleID string
	Time       time.Time
}

// NewOccurrence creates a new occurrence with a standard ID format
func NewOccurrence(scheduleID string, t time.Time) *Occurrence {
	return &Occurrence{
		ID:         fmt.Sprintf("%s/%d", scheduleID, t.Unix()),
		ScheduleID: scheduleID,
		Time:       t,
	}
}

// NewOccurrenceWithSuffix creates an occurrence with a custom suffix (e.g., for boot recovery)
func NewOccurrenceWithSuffix(scheduleID string, t time.Time, suffix string) *Occurrence {
	return &Occurrence{
		ID:         fmt.Sprintf("%s/%s/%d", scheduleID, suffix, t.Unix()),
		ScheduleID: scheduleID,
		Time:       t,
	}
}

// DailySchedule fires once per day at a time expression.
type DailySchedule struct {
	id            string
	tag           string
	timeExpr      *TimeExpr
	evaluator     TimeEvaluator
	action        Action
	misfirePolicy MisfirePolicy
}

// NewDailySchedule creates a daily schedule. Astronomical expressions need an
// evaluator with a geo calculator.
func NewDailySchedule(id, expr string, action Action, tag string, policy MisfirePolicy, evaluator TimeEvaluator) (*DailySchedule, error) {
	te, err := ParseTimeExpr(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", id, err)
	}
	if te.IsAstronomical() && !evaluator.SupportsAstronomical() {
		return nil, fmt.Errorf("schedule %s: astronomical time %q requires geo coordinates", id, expr)
	}
	if err := action.Validate(); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", id, err)
	}
	if policy == "" {
		policy = MisfirePolicySkip
	}

	return &DailySchedule{
		id:            id,
		tag:           tag,
		timeExpr:      te,
		evaluator:     evaluator,
		action:        action,
		misfirePolicy: policy,
	}, nil
}

func (s *DailySchedule) ID() string                   { return s.id }
func (s *DailySchedule) Tag() string                  { return s.tag }
func (s *DailySchedule) Action() Action               { return s.action }
func (s *DailySchedule) MisfirePolicy() MisfirePolicy { return s.misfirePolicy }
func (s *DailySchedule) Expr() string                 { return s.timeExpr.String() }

// Next returns the next occurrence after the given time.
func (s *DailySchedule) Next(after time.Time) *Occurrence {
	t, ok := nextOccurrence(s.evaluator, s.timeExpr, after)
	if !ok {
		return nil
	}
	return NewOccurrence(s.id, t)
}

// Prev returns the previous occurrence before the given time.
func (s *DailySchedule) Prev(before time.Time) *Occurrence {
	t, ok := prevOccurrence(s.evaluator, s.timeExpr, before)
	if !ok {
		return nil
	}
	return NewOccurrence(s.id, t)
}
