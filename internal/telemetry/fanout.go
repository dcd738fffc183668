package telemetry

// Sink records room transitions and applied scenes.
type Sink interface {
	RecordTransition(room, transition string, fields map[string]any)
	RecordScene(room, scene string, fields map[string]any)
}

// Fanout forwards every record to each sink in order. Nil sinks are skipped.
type Fanout []Sink

func NewFanout(sinks ...Sink) Fanout {
	var f Fanout
	for _, s := range sinks {
		if s != nil {
			f = append(f, s)
		}
	}
	return f
}

func (f Fanout) RecordTransition(room, transition string, fields map[string]any) {
	for _, s := range f {
		s.RecordTransition(room, transition, fields)
	}
}

func (f Fanout) RecordScene(room, scene string, fields map[string]any) {
	for _, s := range f {
		s.RecordScene(room, scene, fields)
	}
}
