package scheduler

import "github.com/dokzlo13/roomd/internal/geo"

// SunEntity mirrors the sun's position so rooms can depend on daylight.
const (
	SunEntity       = "sun.sun"
	SunAboveHorizon = "above_horizon"
	SunBelowHorizon = "below_horizon"
	SunTag          = "sun"
)

// DefineSun registers sunrise and sunset schedules maintaining SunEntity. Both
// share a tag, so boot recovery restores whichever happened last.
func (s *Scheduler) DefineSun() error {
	if err := s.Define("sun:rise", "@"+geo.EventSunrise, Action{Entity: SunEntity, Value: SunAboveHorizon}, SunTag, MisfirePolicyRunLatest); err != nil {
		return err
	}
	return s.Define("sun:set", "@"+geo.EventSunset, Action{Entity: SunEntity, Value: SunBelowHorizon}, SunTag, MisfirePolicyRunLatest)
}
