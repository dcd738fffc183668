package room

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/roomd/internal/platform"
)

// ActivitySensor is a predicate over live entity state. It holds no state of its
// own: every IsActive call reads the platform again.
type ActivitySensor struct {
	Entity     string
	Other      string
	Descriptor string

	predicate func(value, other string) (bool, error)
}

// IsActive evaluates the predicate against current platform state. An error means
// the sensor is misconfigured, for example a numeric comparison on a text entity.
func (s ActivitySensor) IsActive(r platform.StateReader) (bool, error) {
	value := r.State(s.Entity)
	other := ""
	if s.Other != "" {
		other = r.State(s.Other)
	}
	active, err := s.predicate(value, other)
	if err != nil {
		return false, fmt.Errorf("sensor %s: %w", s, err)
	}
	return active, nil
}

func (s ActivitySensor) String() string {
	return s.Entity + " " + s.Descriptor
}

func single(entity, descriptor string, pred func(string) (bool, error)) ActivitySensor {
	return ActivitySensor{
		Entity:     entity,
		Descriptor: descriptor,
		predicate:  func(v, _ string) (bool, error) { return pred(v) },
	}
}

// IsOn is active while the entity is "on".
func IsOn(entity string) ActivitySensor {
	return single(entity, "is on", func(v string) (bool, error) { return v == platform.StateOn, nil })
}

// IsOff is active while the entity is "off".
func IsOff(entity string) ActivitySensor {
	return single(entity, "is off", func(v string) (bool, error) { return v == platform.StateOff, nil })
}

// Is is active while the entity has exactly value, e.g. sun.sun "below_horizon".
func Is(entity, value string) ActivitySensor {
	return single(entity, "is "+value, func(v string) (bool, error) { return v == value, nil })
}

// IsntOff is active for any value other than "off", e.g. a media player that is
// playing, paused or idle.
func IsntOff(entity string) ActivitySensor {
	return single(entity, "isn't off", func(v string) (bool, error) { return v != platform.StateOff, nil })
}

// IsBelow is active while the entity's numeric value is below threshold.
func IsBelow(entity string, threshold float64) ActivitySensor {
	return single(entity, "< "+formatFloat(threshold), func(v string) (bool, error) {
		f, ok, err := parseNumber(v)
		if err != nil || !ok {
			return false, err
		}
		return f < threshold, nil
	})
}

// IsAbove is active while the entity's numeric value is above threshold.
func IsAbove(entity string, threshold float64) ActivitySensor {
	return single(entity, "> "+formatFloat(threshold), func(v string) (bool, error) {
		f, ok, err := parseNumber(v)
		if err != nil || !ok {
			return false, err
		}
		return f > threshold, nil
	})
}

// ComparedTo evaluates cmp over the live values of two entities.
func ComparedTo(entity, other string, cmp func(value, other string) (bool, error), descriptor string) ActivitySensor {
	return ActivitySensor{
		Entity:     entity,
		Other:      other,
		Descriptor: descriptor,
		predicate:  cmp,
	}
}

// NumericComparator builds a ComparedTo predicate of the form
// value <op> other + offset. Supported operators: < <= > >=.
func NumericComparator(op string, offset float64) (func(value, other string) (bool, error), error) {
	var cmp func(a, b float64) bool
	switch op {
	case "<":
		cmp = func(a, b float64) bool { return a < b }
	case "<=":
		cmp = func(a, b float64) bool { return a <= b }
	case ">":
		cmp = func(a, b float64) bool { return a > b }
	case ">=":
		cmp = func(a, b float64) bool { return a >= b }
	default:
		return nil, fmt.Errorf("unsupported comparison operator %q", op)
	}

	return func(value, other string) (bool, error) {
		a, okA, err := parseNumber(value)
		if err != nil {
			return false, err
		}
		b, okB, err := parseNumber(other)
		if err != nil {
			return false, err
		}
		if !okA || !okB {
			return false, nil
		}
		return cmp(a, b+offset), nil
	}, nil
}

// parseNumber parses a numeric entity value. Values the platform reports while an
// entity is offline are not numbers but not errors either: ok is false.
func parseNumber(v string) (f float64, ok bool, err error) {
	switch v {
	case "", platform.StateUnknown, platform.StateUnavailable:
		return 0, false, nil
	}
	f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false, fmt.Errorf("value %q is not numeric", v)
	}
	return f, true, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
