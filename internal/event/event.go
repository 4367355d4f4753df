package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultSlotsPerHandler = 64
	defaultTimeout         = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory event bus for wiring services together. Each
// subscription gets its own worker-slot pool, so one slow handler cannot
// starve dispatch to the others.
type Bus struct {
	wg       sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]*subscription
}

type subscription struct {
	h     Handler
	slots chan struct{}
}

// NewBus creates a new event bus. Callers should call Stop for graceful
// shutdown.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]*subscription),
	}
}

// Subscribe registers a handler for an event name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], &subscription{
		h:     h,
		slots: make(chan struct{}, defaultSlotsPerHandler),
	})
}

// Publish dispatches an event to every handler subscribed to its name.
// Handlers run on their own goroutines; Publish only blocks when a
// handler's own slot pool is exhausted.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.handlers[e.Name()] {
		b.dispatch(ctx, sub, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, sub *subscription, e Event) {
	b.wg.Add(1)

	sub.slots <- struct{}{}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "event: handler panic",
					"event", e.Name(),
					"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
				)
			}

			cancel()
			<-sub.slots
			b.wg.Done()
		}()

		if err := sub.h(ctx, e); err != nil {
			slog.ErrorContext(ctx, "event: handle event failed",
				"event", e.Name(),
				"error", err,
			)
		}
	}()
}

// Stop waits for all in-flight handlers to finish.
func (b *Bus) Stop() {
	b.wg.Wait()
}
