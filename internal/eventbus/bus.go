package eventbus

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeStateChanged EventType = "state_changed"
	EventTypeHoldElapsed  EventType = "hold_elapsed"
	EventTypePlatform     EventType = "platform_event"
	EventTypeSchedule     EventType = "schedule"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event represents an event in the system.
// Key selects the worker shard: events sharing a key are handled in publish order.
type Event struct {
	Type EventType
	Key  string
	Data map[string]interface{}
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded, key-sharded worker pool.
// A bus created with zero workers runs handlers inline on the publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	// One queue per worker; an event's key picks the queue.
	queues []chan work
	wg     sync.WaitGroup

	// Shutdown signaling - closing this channel signals publishers to stop
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewInline creates a bus that runs handlers synchronously inside Publish.
func NewInline() *Bus {
	return NewWithConfig(0, 0)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	b := &Bus{
		handlers: make(map[EventType][]Handler),
		closing:  make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		q := make(chan work, queueSize)
		b.queues = append(b.queues, q)
		b.wg.Add(1)
		go b.worker(i, q)
	}

	if workerCount > 0 {
		log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	}
	return b
}

// worker processes events from its shard queue
func (b *Bus) worker(id int, queue <-chan work) {
	defer b.wg.Done()

	for w := range queue {
		b.run(id, w)
	}
}

func (b *Bus) run(id int, w work) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(w.event.Type)).
				Str("key", w.event.Key).
				Int("worker", id).
				Msg("Event handler panicked")
		}
	}()
	w.handler(w.event)
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the shard queue is full or bus is closing, events are dropped.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	if len(b.queues) == 0 {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		default:
		}
		for _, handler := range handlers {
			b.run(-1, work{event: event, handler: handler})
		}
		return
	}

	queue := b.queues[b.shard(event.Key)]
	for _, handler := range handlers {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		case queue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Str("key", event.Key).
				Msg("Event bus queue full, dropping event")
		}
	}
}

func (b *Bus) shard(key string) int {
	if len(b.queues) == 1 || key == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(b.queues)))
}

// Close shuts down the worker pool gracefully.
// First signals publishers to stop, then closes the queues and waits for workers.
func (b *Bus) Close(ctx context.Context) {
	alreadyClosed := true
	b.closeOnce.Do(func() {
		alreadyClosed = false
		close(b.closing)
	})
	if alreadyClosed {
		return
	}

	for _, q := range b.queues {
		close(q)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}

// Clear removes all handlers
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[EventType][]Handler)
}
