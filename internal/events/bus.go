package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

type subscriber struct {
	name    string
	handler HandlerFunc
}

// EventBus fans routing, peer, battle and health events out to observers
// (journal, MQTT, health). Emit never blocks the caller, so the router can
// emit from the host loop; handlers never feed back into routing.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[EventType][]subscriber
	stopped bool
	wg      sync.WaitGroup
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[EventType][]subscriber)}
}

// Subscribe registers handler under name for one event type.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subs[eventType] = append(eb.subs[eventType], subscriber{name: name, handler: handler})
	log.Debug().Str("event", string(eventType)).Str("handler", name).Msg("subscribed to event")
}

// Unsubscribe removes every handler registered under name for eventType.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subs[eventType] = slices.DeleteFunc(slices.Clone(eb.subs[eventType]), func(s subscriber) bool {
		return s.name == name
	})
}

// Emit hands event to every subscriber on its own goroutine. A nil or
// stopped bus drops the event.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return
	}
	event = stamp(event)
	for _, s := range eb.subs[event.Type] {
		s := s
		eb.wg.Add(1)
		go func() {
			defer eb.wg.Done()
			deliver(ctx, s, event)
		}()
	}
}

// EmitSync delivers event and waits for every subscriber. It returns the
// first handler error.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	if eb == nil {
		return nil
	}
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	subs := slices.Clone(eb.subs[event.Type])
	eb.mu.RUnlock()

	event = stamp(event)
	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, s := range subs {
		i, s := i, s
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = deliver(ctx, s, event)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop drops further events and waits for handlers already running.
// Stop is idempotent.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

func stamp(event Event) Event {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	return event
}

// deliver runs one handler, logging its error or panic.
func deliver(ctx context.Context, s subscriber, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", string(event.Type)).Str("handler", s.name).Interface("panic", r).Msg("handler panicked")
		}
	}()
	if err = s.handler(ctx, event); err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Str("handler", s.name).Msg("handler returned error")
	}
	return err
}
