package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// queueSize bounds how far a subscriber may fall behind before events for
// it are dropped.
const queueSize = 256

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus fans session and system events out to named subscribers. Each
// subscriber owns a queue drained by one goroutine, so it sees events in
// emit order while a slow subscriber never stalls the session that
// produced the event.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	stopCh      chan struct{}
	stopped     bool
	wg          sync.WaitGroup
}

type delivery struct {
	ctx   context.Context
	event Event
}

type subscriber struct {
	name    string
	handler HandlerFunc
	types   map[EventType]bool
	queue   chan delivery
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string]*subscriber),
		stopCh:      make(chan struct{}),
	}
}

// Subscribe registers handler under name for eventType. Subscribing the same
// name to several types shares one queue, and the handler given last wins.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}

	sub, ok := eb.subscribers[name]
	if !ok {
		sub = &subscriber{
			name:  name,
			types: make(map[EventType]bool),
			queue: make(chan delivery, queueSize),
		}
		eb.subscribers[name] = sub
		eb.wg.Add(1)
		go eb.drain(sub)
	}
	sub.handler = handler
	sub.types[eventType] = true

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes eventType from the subscriber called name. A
// subscriber left without types is shut down once its queue is drained.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subscribers[name]
	if !ok || !sub.types[eventType] {
		return
	}
	delete(sub.types, eventType)
	if len(sub.types) == 0 {
		delete(eb.subscribers, name)
		close(sub.queue)
	}

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// Emit queues event for every subscriber of its type and returns
// immediately. Events for a subscriber whose queue is full are dropped.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	for _, sub := range eb.subscribers {
		if !sub.types[event.Type] {
			continue
		}
		select {
		case sub.queue <- delivery{ctx: ctx, event: event}:
		default:
			log.Warn().
				Str("event", string(event.Type)).
				Str("handler", sub.name).
				Msg("subscriber queue full, event dropped")
		}
	}
}

// EmitSync runs every handler of the event type concurrently, bypassing the
// queues, and waits for them. It returns the first error encountered.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	var targets []*subscriber
	for _, sub := range eb.subscribers {
		if sub.types[event.Type] {
			targets = append(targets, sub)
		}
	}
	eb.mu.RUnlock()

	var firstErr error
	var errOnce sync.Once
	var wg sync.WaitGroup

	for _, sub := range targets {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := invoke(ctx, sub.name, sub.handler, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}

	wg.Wait()
	return firstErr
}

func (eb *EventBus) drain(sub *subscriber) {
	defer eb.wg.Done()
	for d := range sub.queue {
		eb.mu.RLock()
		handler := sub.handler
		eb.mu.RUnlock()
		_ = invoke(d.ctx, sub.name, handler, d.event)
	}
}

// invoke runs one handler, logging its error or panic.
func invoke(ctx context.Context, name string, handler HandlerFunc, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", name).
			Msg("handler returned error")
	}
	return err
}

// Stop stops accepting events, lets every subscriber drain what is already
// queued and waits for them. Calling Stop again is a no-op.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for name, sub := range eb.subscribers {
		close(sub.queue)
		delete(eb.subscribers, name)
	}
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of subscribers of eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	n := 0
	for _, sub := range eb.subscribers {
		if sub.types[eventType] {
			n++
		}
	}
	return n
}
