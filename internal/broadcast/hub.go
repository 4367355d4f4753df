package broadcast

import (
	"sync"
	"sync/atomic"

	"ctfscore/internal/event"
)

const defaultQueueSize = 64

// Hub fans published events out to live subscribers. Delivery is ordered
// per subscriber but best-effort: each subscriber has a bounded queue, and
// when it is full the oldest queued event is dropped so the publisher
// never blocks on a lagging consumer. Events are not persisted; a
// subscriber only sees events published after it joined.
type Hub struct {
	queueSize int

	mu     sync.Mutex
	subs   []*Subscriber
	closed bool
}

// Subscriber is one live observer stream. Read events from C; the channel
// is closed on Unsubscribe or when the hub shuts down.
type Subscriber struct {
	ch      chan event.Event
	dropped atomic.Uint64
}

// C returns the subscriber's event stream.
func (s *Subscriber) C() <-chan event.Event { return s.ch }

// Dropped reports how many events were discarded because this subscriber
// fell behind.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{queueSize: queueSize}
}

// Subscribe registers a new observer. Returns nil after the hub is closed.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	s := &Subscriber{ch: make(chan event.Event, h.queueSize)}
	h.subs = append(h.subs, s)
	return s
}

// Unsubscribe removes the observer and closes its stream. Safe to call
// concurrently with Publish and safe to call twice.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subs {
		if sub == s {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Publish delivers e to every current subscriber in subscription order.
// It never blocks on a full queue: the subscriber's oldest event is
// dropped to make room.
func (h *Hub) Publish(e event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for _, s := range h.subs {
		select {
		case s.ch <- e:
			continue
		default:
		}

		// Queue full. Drop the oldest entry; the consumer may race us and
		// drain it first, in which case the send below succeeds anyway.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}

		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Len reports the current number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close shuts the hub down and closes every subscriber stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, s := range h.subs {
		close(s.ch)
	}
	h.subs = nil
}
