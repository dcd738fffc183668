package app

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/room"
	"github.com/dokzlo13/roomd/internal/scene"
)

// BuildRooms creates every configured room. rec may be nil.
func BuildRooms(cfgs []config.RoomConfig, clk clock.Clock, rec room.Recorder) (*room.Registry, error) {
	registry := room.NewRegistry()
	for _, rc := range cfgs {
		r, err := buildRoom(rc, clk, rec)
		if err != nil {
			return nil, err
		}
		if err := registry.Add(r); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildRoom(rc config.RoomConfig, clk clock.Clock, rec room.Recorder) (*room.Room, error) {
	activity, err := buildSensors(rc.Sensors)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", rc.Name, err)
	}
	onlyIf, err := buildSensors(rc.LightsOnlyIf)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", rc.Name, err)
	}

	var lights room.Lights
	if rc.Switch != "" {
		lights = room.SwitchLights{Switch: rc.Switch}
	} else {
		lights = room.NewGroupLights(rc.Name, rc.Area)
	}

	opts := []room.Option{room.WithClock(clk)}
	if rec != nil {
		opts = append(opts, room.WithRecorder(rec))
	}
	return room.New(room.Config{
		Name:            rc.Name,
		MotionSensors:   rc.MotionSensors,
		NoMotionTimeout: rc.Timeout.Duration(),
		ActivitySensors: activity,
		LightsOnlyIf:    onlyIf,
		ManualControl:   rc.ManualControl,
	}, lights, opts...)
}

func buildSensors(cfgs []config.SensorConfig) ([]room.ActivitySensor, error) {
	sensors := make([]room.ActivitySensor, 0, len(cfgs))
	for _, sc := range cfgs {
		s, err := buildSensor(sc)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, s)
	}
	return sensors, nil
}

func buildSensor(sc config.SensorConfig) (room.ActivitySensor, error) {
	switch {
	case sc.Is != "":
		return room.Is(sc.Entity, sc.Is), nil
	case sc.IsOn:
		return room.IsOn(sc.Entity), nil
	case sc.IsOff:
		return room.IsOff(sc.Entity), nil
	case sc.IsntOff:
		return room.IsntOff(sc.Entity), nil
	case sc.Below != nil:
		return room.IsBelow(sc.Entity, *sc.Below), nil
	case sc.Above != nil:
		return room.IsAbove(sc.Entity, *sc.Above), nil
	case sc.ComparedTo != "":
		cmp, err := room.NumericComparator(sc.Op, sc.Offset)
		if err != nil {
			return room.ActivitySensor{}, err
		}
		desc := fmt.Sprintf("%s %s", sc.Op, sc.ComparedTo)
		if sc.Offset != 0 {
			desc += fmt.Sprintf(" %+g", sc.Offset)
		}
		return room.ComparedTo(sc.Entity, sc.ComparedTo, cmp, desc), nil
	}
	return room.ActivitySensor{}, fmt.Errorf("sensor %s has no predicate", sc.Entity)
}

// SceneRules merges explicit scene rules with the automated rooms, which get the
// default rules when they have none.
func SceneRules(cfg *config.Config, loc *time.Location) scene.Rules {
	n := cfg.Scenes.Night
	rules := scene.Rules{
		Night: scene.Night{
			Enabled:   n.Enabled,
			Flag:      n.Flag,
			StartHour: n.StartHour,
			EndHour:   n.EndHour,
		},
		Rooms:    make(map[string]scene.RoomRules, len(cfg.Scenes.Rooms)+len(cfg.Rooms)),
		Location: loc,
	}

	for name, rc := range cfg.Scenes.Rooms {
		rr := scene.RoomRules{
			Seed:      rc.Seed,
			AwakeFlag: rc.AwakeFlag,
			Bright:    rc.Bright,
			Dim:       rc.Dim,
		}
		for _, o := range rc.Overrides {
			rr.Overrides = append(rr.Overrides, scene.Override{Entity: o.Entity, Value: o.Value, Scene: o.Scene})
		}
		if w := rc.Workday; w != nil {
			rr.Workday = &scene.Workday{Scene: w.Scene, BeforeHour: w.BeforeHour, Unless: w.Unless}
		}
		for _, p := range rc.Pool {
			rr.Pool = append(rr.Pool, scene.Weighted{Scene: p.Scene, Weight: p.Weight})
		}
		rules.Rooms[name] = rr
	}
	for _, rc := range cfg.Rooms {
		if _, ok := rules.Rooms[rc.Name]; !ok {
			rules.Rooms[rc.Name] = scene.RoomRules{}
		}
	}
	return rules
}
