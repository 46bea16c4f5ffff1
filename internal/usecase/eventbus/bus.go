// Package eventbus provides the in-process bus that carries search stage
// updates and profile lifecycle events to listeners such as the websocket
// gateway. Publishing never blocks the search pipeline: handlers run on
// their own goroutines.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lexmatch/internal/domain"
)

type subscriber struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is a goroutine-safe in-process event bus.
type Bus struct {
	mu       sync.RWMutex
	byType   map[domain.EventType][]subscriber
	wildcard []subscriber
	nextID   atomic.Uint64
	logger   *slog.Logger
	inflight sync.WaitGroup
	closed   atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		byType: make(map[domain.EventType][]subscriber),
		logger: logger,
	}
}

// Publish fans out an event to subscribers of its type and to wildcard
// subscribers, each on its own goroutine. A missing timestamp is stamped
// with the publish time. Panicking handlers are recovered and logged so a
// broken listener cannot take down a search in progress.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]subscriber, 0, len(b.byType[event.Type])+len(b.wildcard))
	targets = append(targets, b.byType[event.Type]...)
	targets = append(targets, b.wildcard...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.inflight.Add(1)
		go func(sub subscriber) {
			defer b.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						"event", string(event.Type),
						"panic", r,
					)
				}
			}()
			sub.handler(ctx, event)
		}(sub)
	}
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.byType[eventType] = append(b.byType[eventType], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byType[eventType] = removeSubscriber(b.byType[eventType], id)
	}
}

// SubscribeAll registers a handler for every event and returns its
// unsubscribe function. The websocket gateway uses this to forward the full
// stream to connected clients.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.wildcard = append(b.wildcard, subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.wildcard = removeSubscriber(b.wildcard, id)
	}
}

// Close stops accepting publishes and waits for in-flight handlers to
// return. Safe to call more than once.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.inflight.Wait()
}

func removeSubscriber(subs []subscriber, id uint64) []subscriber {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
