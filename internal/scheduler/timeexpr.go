package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dokzlo13/roomd/internal/geo"
)

// TimeExpr represents a parsed time expression: "22:15" or "@sunset - 30m".
type TimeExpr struct {
	Raw       string
	Astro     string // geo event name; empty for fixed times
	FixedHour int
	FixedMin  int
	Offset    time.Duration
}

var (
	// Match patterns like "@dawn", "@sunset", "@noon + 30m", "@sunrise - 1h30m"
	astroPattern = regexp.MustCompile(`^@(\w+)\s*(?:([+-])\s*(\d+[hms](?:\d+[hms])*))?$`)
	// Match patterns like "22:15", "06:30"
	fixedPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

var astroEvents = map[string]bool{
	geo.EventDawn:    true,
	geo.EventSunrise: true,
	geo.EventNoon:    true,
	geo.EventSunset:  true,
	geo.EventDusk:    true,
}

// ParseTimeExpr parses a time expression string
func ParseTimeExpr(expr string) (*TimeExpr, error) {
	expr = strings.TrimSpace(expr)

	if m := fixedPattern.FindStringSubmatch(expr); m != nil {
		hour, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if hour > 23 {
			return nil, fmt.Errorf("invalid hour: %d", hour)
		}
		if min > 59 {
			return nil, fmt.Errorf("invalid minute: %d", min)
		}
		return &TimeExpr{Raw: expr, FixedHour: hour, FixedMin: min}, nil
	}

	if m := astroPattern.FindStringSubmatch(expr); m != nil {
		event := strings.ToLower(m[1])
		if !astroEvents[event] {
			return nil, fmt.Errorf("unknown astronomical time: %s", event)
		}
		te := &TimeExpr{Raw: expr, Astro: event}
		if m[3] != "" {
			d, err := time.ParseDuration(m[3])
			if err != nil {
				return nil, fmt.Errorf("invalid offset: %w", err)
			}
			if m[2] == "-" {
				d = -d
			}
			te.Offset = d
		}
		return te, nil
	}

	return nil, fmt.Errorf("invalid time expression: %s", expr)
}

// IsAstronomical reports whether the expression depends on the sun.
func (te *TimeExpr) IsAstronomical() bool {
	return te.Astro != ""
}

// String returns the original expression string
func (te *TimeExpr) String() string {
	return te.Raw
}

// TimeEvaluator turns expressions into concrete times.
type TimeEvaluator interface {
	Evaluate(expr *TimeExpr, date time.Time) (time.Time, bool)
	SupportsAstronomical() bool
	Location() *time.Location
}

// Evaluator evaluates fixed times and, when built with a calculator, sun times.
type Evaluator struct {
	geo *geo.Calculator
	tz  *time.Location
}

// NewEvaluator creates an evaluator. geoCalc may be nil for fixed times only.
func NewEvaluator(geoCalc *geo.Calculator, tz *time.Location) *Evaluator {
	if tz == nil {
		tz = time.UTC
	}
	return &Evaluator{geo: geoCalc, tz: tz}
}

func (e *Evaluator) SupportsAstronomical() bool { return e.geo != nil }
func (e *Evaluator) Location() *time.Location   { return e.tz }

// Evaluate calculates the time for expr on the calendar day of date.
func (e *Evaluator) Evaluate(expr *TimeExpr, date time.Time) (time.Time, bool) {
	date = date.In(e.tz)
	if !expr.IsAstronomical() {
		return time.Date(date.Year(), date.Month(), date.Day(), expr.FixedHour, expr.FixedMin, 0, 0, e.tz), true
	}
	if e.geo == nil {
		return time.Time{}, false
	}
	base, err := e.geo.Times(date).Get(expr.Astro)
	if err != nil || base.IsZero() {
		return time.Time{}, false
	}
	return base.Add(expr.Offset), true
}

// nextOccurrence finds the first time expr evaluates to after the given time.
func nextOccurrence(e TimeEvaluator, expr *TimeExpr, after time.Time) (time.Time, bool) {
	date := after.In(e.Location())
	// Up to a year ahead covers polar days without the event.
	for i := 0; i < 366; i++ {
		t, ok := e.Evaluate(expr, date.AddDate(0, 0, i))
		if ok && t.After(after) {
			return t, true
		}
	}
	return time.Time{}, false
}

// prevOccurrence finds the last time expr evaluated to before the given time.
func prevOccurrence(e TimeEvaluator, expr *TimeExpr, before time.Time) (time.Time, bool) {
	date := before.In(e.Location())
	for i := 0; i < 366; i++ {
		t, ok := e.Evaluate(expr, date.AddDate(0, 0, -i))
		if ok && t.Before(before) {
			return t, true
		}
	}
	return time.Time{}, false
}
