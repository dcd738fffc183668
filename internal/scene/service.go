package scene

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/benbjohnson/clock"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/platform"
	"github.com/dokzlo13/roomd/internal/room"
)

// ErrInvalidPayload is returned for a default_scene_turn_on event that doesn't match
// {rooms: [string...], transition?: int}.
var ErrInvalidPayload = errors.New("invalid default scene payload")

// Payload is the decoded default_scene_turn_on event.
type Payload struct {
	Rooms      []string `mapstructure:"rooms"`
	Transition *int     `mapstructure:"transition"`
}

// Recorder receives every applied scene.
type Recorder interface {
	RecordScene(room, scene string, fields map[string]any)
}

// Service listens for default_scene_turn_on and loads the selected scene in each
// named room.
type Service struct {
	selector *Selector
	port     platform.Port
	clock    clock.Clock
	recorder Recorder
	sub      platform.Subscription
}

// NewService creates a service. recorder may be nil.
func NewService(selector *Selector, port platform.Port, clk clock.Clock, recorder Recorder) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{selector: selector, port: port, clock: clk, recorder: recorder}
}

// Start subscribes to the event.
func (s *Service) Start() {
	s.sub = s.port.OnEvent(room.DefaultSceneEvent, func(_ string, data map[string]any) {
		if err := s.Handle(data); err != nil {
			log.Error().Err(err).Interface("data", data).Msg("Rejected default scene request")
		}
	})
	log.Info().Str("event", room.DefaultSceneEvent).Msg("Default scene service listening")
}

// Stop cancels the subscription.
func (s *Service) Stop() {
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
}

// Handle validates one event and applies a scene per room. A payload naming any
// unknown room is rejected before anything is applied.
func (s *Service) Handle(data map[string]any) error {
	p, err := DecodePayload(data)
	if err != nil {
		return err
	}
	for _, name := range p.Rooms {
		if !s.selector.Has(name) {
			return fmt.Errorf("%w: %s", room.ErrUnknownRoom, name)
		}
	}

	now := s.clock.Now()
	for _, name := range p.Rooms {
		scene, err := s.selector.Select(name, now)
		if err != nil {
			return err
		}
		s.apply(name, scene, p.Transition)
	}
	return nil
}

func (s *Service) apply(roomName, scene string, transition *int) {
	data := map[string]any{"entity_id": scene}
	fields := map[string]any{}
	if transition != nil {
		data["transition"] = *transition
		fields["transition"] = *transition
	}

	event := log.Info().Str("room", roomName).Str("scene", scene)
	if transition != nil {
		event = event.Int("transition", *transition)
	}
	event.Msg("Loading default scene")

	s.port.CallService("scene/turn_on", data)
	if s.recorder != nil {
		s.recorder.RecordScene(roomName, scene, fields)
	}
}

// DecodePayload validates and decodes event data. Numbers arriving as floats from JSON
// are accepted as a transition only when integral.
func DecodePayload(data map[string]any) (Payload, error) {
	var p Payload
	if data == nil {
		return p, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if _, ok := data["rooms"]; !ok {
		return p, fmt.Errorf("%w: rooms is required", ErrInvalidPayload)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: integralHook,
		Result:     &p,
	})
	if err != nil {
		return p, err
	}
	if err := decoder.Decode(data); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Rooms == nil {
		return p, fmt.Errorf("%w: rooms must be a list", ErrInvalidPayload)
	}
	return p, nil
}

func integralHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.Int {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Float32, reflect.Float64:
		f := reflect.ValueOf(data).Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, fmt.Errorf("transition must be an integer, got %v", f)
		}
		// float64(math.MaxInt) rounds up to 2^63.
		if f < math.MinInt || f >= math.MaxInt {
			return nil, fmt.Errorf("transition out of range: %v", f)
		}
		return int(f), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if reflect.ValueOf(data).Uint() > math.MaxInt {
			return nil, fmt.Errorf("transition out of range: %v", data)
		}
	case reflect.Bool:
		return nil, fmt.Errorf("transition must be an integer, got %v", data)
	}
	return data, nil
}
