package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus implements an asynchronous publish-subscribe event system.
// The session loop publishes lifecycle events here and never waits for the
// consumers (metrics, MQTT, audit log, websocket feed).
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	wildcard []handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a handler function for a specific event type.
// The name parameter is used for logging/debugging purposes.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeAll registers a handler that receives every event.
func (eb *EventBus) SubscribeAll(name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.wildcard = append(eb.wildcard, handlerEntry{name: name, handler: handler})
	log.Debug().Str("handler", name).Msg("subscribed to all events")
}

func without(handlers []handlerEntry, name string) []handlerEntry {
	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	return filtered
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if handlers, exists := eb.handlers[eventType]; exists {
		eb.handlers[eventType] = without(handlers, name)
	}

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// UnsubscribeAll removes a named wildcard handler.
func (eb *EventBus) UnsubscribeAll(name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.wildcard = without(eb.wildcard, name)
}

func (eb *EventBus) targets(t EventType) []handlerEntry {
	typed := eb.handlers[t]
	if len(eb.wildcard) == 0 {
		return typed
	}
	out := make([]handlerEntry, 0, len(typed)+len(eb.wildcard))
	out = append(out, typed...)
	return append(out, eb.wildcard...)
}

func run(ctx context.Context, h handlerEntry, event Event) error {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	err := h.handler(ctx, event)
	if err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Emit publishes an event to all subscribed handlers asynchronously.
// Each handler runs in its own goroutine to prevent blocking.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	handlers := eb.targets(event.Type)
	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		h := h
		eb.wg.Add(1)
		go func() {
			defer eb.wg.Done()
			run(ctx, h, event)
		}()
	}
}

// EmitSync publishes an event and waits for all handlers to complete.
// Returns the first error encountered, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	handlers := append([]handlerEntry(nil), eb.targets(event.Type)...)
	eb.mu.RUnlock()

	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	var firstErr error
	var errOnce sync.Once
	var wg sync.WaitGroup

	for _, h := range handlers {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// Stop signals the EventBus to stop accepting new events and waits
// for all in-flight handlers to complete.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers an event of the given type
// reaches, wildcard handlers included.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType]) + len(eb.wildcard)
}
