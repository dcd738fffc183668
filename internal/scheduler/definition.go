package scheduler

import "fmt"

// MisfirePolicy defines how to handle missed schedule occurrences on boot
type MisfirePolicy string

const (
	MisfirePolicySkip      MisfirePolicy = "skip"       // Skip missed occurrences on boot
	MisfirePolicyRunLatest MisfirePolicy = "run_latest" // Run the most recent missed occurrence on boot
)

// Action is what an occurrence does: fire a platform event or set an entity value.
type Action struct {
	Event string
	Data  map[string]any

	Entity string
	Value  string
}

// Validate checks that exactly one kind of action is configured.
func (a Action) Validate() error {
	switch {
	case a.Event != "" && a.Entity != "":
		return fmt.Errorf("action sets both event %q and entity %q", a.Event, a.Entity)
	case a.Event == "" && a.Entity == "":
		return fmt.Errorf("action needs an event or an entity")
	case a.Entity != "" && a.Value == "":
		return fmt.Errorf("action for entity %q has no value", a.Entity)
	}
	return nil
}

func (a Action) String() string {
	if a.Event != "" {
		return "event " + a.Event
	}
	return a.Entity + " = " + a.Value
}
