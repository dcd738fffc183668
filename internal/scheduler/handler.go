package scheduler

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/eventbus"
	"github.com/dokzlo13/roomd/internal/ledger"
)

// Target is where scheduled actions land.
type Target interface {
	FireEvent(name string, data map[string]any)
	SetState(entityID, value string)
}

// Recorder stores completed occurrences for dedupe.
type Recorder interface {
	Append(e ledger.Entry) error
}

// RegisterHandler subscribes to schedule events and performs their actions on target.
// rec may be nil.
func RegisterHandler(bus *eventbus.Bus, target Target, rec Recorder) {
	bus.Subscribe(eventbus.EventTypeSchedule, func(event eventbus.Event) {
		action, ok := event.Data["action"].(Action)
		if !ok {
			return
		}
		scheduleID, _ := event.Data["schedule_id"].(string)
		occurrenceID, _ := event.Data["occurrence_id"].(string)
		source, _ := event.Data["source"].(string)

		log.Debug().
			Str("schedule_id", scheduleID).
			Str("occurrence_id", occurrenceID).
			Str("source", source).
			Str("action", action.String()).
			Msg("Schedule event received")

		if action.Event != "" {
			target.FireEvent(action.Event, action.Data)
		} else {
			target.SetState(action.Entity, action.Value)
		}

		if rec == nil {
			return
		}
		err := rec.Append(ledger.Entry{
			EventType:      ledger.EventScheduleCompleted,
			IdempotencyKey: occurrenceID,
			DefID:          scheduleID,
			Payload:        map[string]any{"action": action.String(), "source": source},
		})
		if err != nil {
			log.Error().Err(err).Str("schedule_id", scheduleID).Msg("Failed to record schedule completion")
		}
	})
}
