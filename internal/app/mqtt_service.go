package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/platform"
	"github.com/dokzlo13/roomd/internal/platform/mqtt"
)

// MQTTService connects the hub to Home Assistant through the broker.
type MQTTService struct {
	cfg    config.MQTTConfig
	hub    *platform.Hub
	Bridge *mqtt.Bridge
}

// NewMQTTService creates the bridge without connecting. It returns nil when MQTT
// is disabled.
func NewMQTTService(cfg config.MQTTConfig, hub *platform.Hub) *MQTTService {
	if !cfg.Enabled {
		return nil
	}
	bridge := mqtt.New(mqtt.Config{
		Broker:     cfg.Broker,
		ClientID:   cfg.ClientID,
		Username:   cfg.Username,
		Password:   cfg.Password,
		StateBase:  cfg.StateBase,
		Prefix:     cfg.Prefix,
		Domains:    cfg.Domains,
		QoS:        byte(cfg.QoS),
		PublishRPS: cfg.PublishRPS,
		QueueSize:  cfg.QueueSize,
	}, hub)
	return &MQTTService{cfg: cfg, hub: hub, Bridge: bridge}
}

// Start connects, installs the bridge as the hub's outbound adapter and starts the
// publish loop.
func (s *MQTTService) Start(ctx context.Context) error {
	log.Info().Str("broker", s.cfg.Broker).Str("prefix", s.cfg.Prefix).Msg("Connecting to MQTT broker")
	if err := s.Bridge.Connect(); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	s.hub.SetOutbound(s.Bridge)

	go func() {
		if err := s.Bridge.Run(ctx); err != nil {
			log.Error().Err(err).Msg("MQTT publish loop error")
		}
	}()
	return nil
}

// Ready reports whether the broker connection is up.
func (s *MQTTService) Ready() bool {
	return s.Bridge.IsConnected()
}

func (s *MQTTService) Close() {
	s.hub.SetOutbound(nil)
	s.Bridge.Close()
}
