package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lexmatch/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.Default())
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventSearchCompleted, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventSearchCompleted {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventSearchCompleted})
	bus.Close() // drain
	if got.Load() != 1 {
		t.Fatalf("expected 1 delivery, got %d", got.Load())
	}
}

func TestTypedSubscriberIgnoresOtherTypes(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventSearchFailed, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventSearchCompleted})
	bus.Close()
	if got.Load() != 0 {
		t.Fatalf("typed subscriber must not receive other types, got %d", got.Load())
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventSearchStarted})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventProfileSaved})
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got.Load())
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventSearchStarted, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	unsub()
	bus.Publish(context.Background(), domain.Event{Type: domain.EventSearchStarted})
	bus.Close()

	if got.Load() != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", got.Load())
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	bus := newTestBus()

	var stamped atomic.Bool
	bus.Subscribe(domain.EventSearchStarted, func(_ context.Context, e domain.Event) {
		stamped.Store(!e.Timestamp.IsZero())
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventSearchStarted})
	bus.Close()

	if !stamped.Load() {
		t.Fatal("expected the bus to stamp a missing timestamp")
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventSearchSearching, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), domain.Event{Type: domain.EventSearchSearching})
		}()
	}
	wg.Wait()
	bus.Close()

	if got.Load() != 100 {
		t.Fatalf("expected 100 deliveries, got %d", got.Load())
	}
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventSearchFailed, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	bus.Subscribe(domain.EventSearchFailed, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventSearchFailed})
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("a panicking handler must not block others, got %d", got.Load())
	}
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventSearchCompleted, func(_ context.Context, _ domain.Event) {
		time.Sleep(50 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventSearchCompleted})
	bus.Close() // blocks until the handler returns

	if got.Load() != 1 {
		t.Fatalf("expected the handler to finish before Close returns, got %d", got.Load())
	}

	bus.Publish(context.Background(), domain.Event{Type: domain.EventSearchCompleted})
	time.Sleep(20 * time.Millisecond)
	if got.Load() != 1 {
		t.Fatalf("expected no delivery after close, got %d", got.Load())
	}
}
