// Package mqtt connects the platform hub to Home Assistant over an MQTT broker.
// Entity values arrive through mqtt_statestream; events and service calls travel as
// JSON envelopes under a daemon-specific prefix.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
	defaultQueueSize  = 256
)

var (
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrQueueFull        = errors.New("mqtt publish queue full")
)

// Config holds broker and topic settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	StateBase string
	Prefix    string
	// Domains filters ingested entity domains, e.g. "binary_sensor|light|switch".
	Domains string

	QoS        byte
	PublishRPS float64
	QueueSize  int
}

// Sink receives what the platform reports. platform.Hub implements it.
type Sink interface {
	SetState(entityID, value string)
	Snapshot(entityID, value string)
	Deliver(name string, data map[string]any)
}

// Envelope is the JSON body of event and service messages.
type Envelope struct {
	Origin string         `json:"origin"`
	Data   map[string]any `json:"data"`
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

type message struct {
	topic   string
	payload []byte
}

// Bridge is the hub's outbound adapter and inbound feeder.
type Bridge struct {
	cfg     Config
	topics  Topics
	sink    Sink
	domains Matcher
	origin  string

	client  paho.Client
	pub     publisher
	limiter *rate.Limiter
	queue   chan message

	connected atomic.Bool
	dropped   atomic.Int64
}

// New creates a bridge. Connect must be called before Run.
func New(cfg Config, sink Sink) *Bridge {
	if cfg.Prefix == "" {
		cfg.Prefix = "roomd"
	}
	if cfg.StateBase == "" {
		cfg.StateBase = "homeassistant/statestream"
	}
	if cfg.PublishRPS <= 0 {
		cfg.PublishRPS = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	origin := uuid.NewString()
	if cfg.ClientID == "" {
		cfg.ClientID = "roomd-" + origin[:8]
	}
	burst := int(cfg.PublishRPS)
	if burst < 1 {
		burst = 1
	}

	return &Bridge{
		cfg:     cfg,
		topics:  Topics{StateBase: cfg.StateBase, Prefix: cfg.Prefix},
		sink:    sink,
		domains: ParseMatcher(cfg.Domains),
		origin:  origin,
		limiter: rate.NewLimiter(rate.Limit(cfg.PublishRPS), burst),
		queue:   make(chan message, cfg.QueueSize),
	}
}

// Origin identifies messages published by this process.
func (b *Bridge) Origin() string { return b.origin }

// Connect dials the broker. Subscriptions are (re)established on every connect.
func (b *Bridge) Connect() error {
	opts := paho.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(b.topics.Status(), "offline", b.cfg.QoS, true)

	opts.SetOnConnectHandler(func(c paho.Client) {
		b.connected.Store(true)
		b.subscribe(c)
		c.Publish(b.topics.Status(), b.cfg.QoS, true, "online")
		log.Info().Str("broker", b.cfg.Broker).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.connected.Store(false)
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	b.client = paho.NewClient(opts)
	b.pub = b.client
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

func (b *Bridge) subscribe(c paho.Client) {
	c.Subscribe(b.topics.StateSubscription(), b.cfg.QoS, func(_ paho.Client, m paho.Message) {
		b.handleState(m.Topic(), m.Payload(), m.Retained())
	})
	c.Subscribe(b.topics.EventSubscription(), b.cfg.QoS, func(_ paho.Client, m paho.Message) {
		b.handleEvent(m.Topic(), m.Payload())
	})
}

// IsConnected reports the last known connection state.
func (b *Bridge) IsConnected() bool {
	return b.connected.Load()
}

// Close publishes the offline status and disconnects.
func (b *Bridge) Close() {
	if b.client == nil {
		return
	}
	if b.client.IsConnected() {
		b.client.Publish(b.topics.Status(), b.cfg.QoS, true, "offline").WaitTimeout(publishTimeout)
	}
	b.client.Disconnect(disconnectQuiesce)
	b.connected.Store(false)
}

// handleState feeds one statestream message to the sink. Retained messages are the
// broker's replay of the last known value, not a live transition.
func (b *Bridge) handleState(topic string, payload []byte, retained bool) {
	entity, ok := b.topics.ParseState(topic)
	if !ok || !b.domains.Matches(EntityDomain(entity)) {
		return
	}
	value := strings.Trim(strings.TrimSpace(string(payload)), `"`)
	log.Trace().Str("entity", entity).Str("value", value).Bool("retained", retained).Msg("State received")
	if retained {
		b.sink.Snapshot(entity, value)
		return
	}
	b.sink.SetState(entity, value)
}

func (b *Bridge) handleEvent(topic string, payload []byte) {
	name, ok := b.topics.ParseEvent(topic)
	if !ok {
		return
	}
	var env Envelope
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Error().Err(err).Str("event", name).Msg("Malformed event message")
			return
		}
	}
	if env.Origin == b.origin {
		return
	}
	log.Debug().Str("event", name).Str("origin", env.Origin).Msg("Event received")
	b.sink.Deliver(name, env.Data)
}

// CallService implements platform.Outbound.
func (b *Bridge) CallService(service string, data map[string]any) {
	b.enqueue(b.topics.Service(service), data)
}

// FireEvent implements platform.Outbound.
func (b *Bridge) FireEvent(name string, data map[string]any) {
	b.enqueue(b.topics.Event(name), data)
}

func (b *Bridge) enqueue(topic string, data map[string]any) {
	payload, err := json.Marshal(Envelope{Origin: b.origin, Data: data})
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to encode message")
		return
	}
	select {
	case b.queue <- message{topic: topic, payload: payload}:
	default:
		b.dropped.Add(1)
		log.Error().Err(ErrQueueFull).Str("topic", topic).Msg("Dropping outbound message")
	}
}

// Run drains the publish queue at the configured rate until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-b.queue:
			if err := b.limiter.Wait(ctx); err != nil {
				return nil
			}
			b.publish(m)
		}
	}
}

func (b *Bridge) publish(m message) {
	token := b.pub.Publish(m.topic, b.cfg.QoS, false, m.payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Warn().Str("topic", m.topic).Msg("Publish not acknowledged")
			return
		}
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("topic", m.topic).Msg("Publish failed")
		}
	}()
}
