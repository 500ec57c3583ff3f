package livestream

import (
	"sync"
	"sync/atomic"
)

// EventKind discriminates Hub events.
type EventKind int

const (
	// EventMessage carries a LiveMessage.
	EventMessage EventKind = iota
	// EventStatus carries the new isStreaming value after a state change.
	EventStatus
	// EventError carries a non-fatal stream failure.
	EventError
)

// Event is one fan-out item delivered to Hub subscribers.
type Event struct {
	Kind      EventKind
	Message   *LiveMessage
	Streaming bool
	Err       error
}

// Hub fans events out to zero or more subscribers.
//
// Emit never blocks and never panics: a subscriber whose buffer is full drops
// the event (counted per subscription), and emitting into a closed Hub is a
// no-op. The Hub is only closed by Engine.Close after the producing strategy
// has been stopped, so producers never race a teardown.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buf    int
	closed bool
}

// NewHub returns a Hub whose subscriptions buffer up to buf events.
func NewHub(buf int) *Hub {
	if buf <= 0 {
		buf = 1
	}
	return &Hub{subs: map[*Subscription]struct{}{}, buf: buf}
}

// Subscribe registers a new subscriber. Subscribing to a closed Hub returns a
// subscription whose channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{ch: make(chan Event, h.buf), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		s.closed = true
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Emit delivers ev to every live subscriber without blocking.
func (h *Hub) Emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close tears the Hub down and closes all subscriber channels. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		if !s.closed {
			close(s.ch)
			s.closed = true
		}
	}
	h.subs = map[*Subscription]struct{}{}
}

// Subscription is one observer's view of a Hub.
type Subscription struct {
	ch      chan Event
	hub     *Hub
	dropped atomic.Uint64
	closed  bool // guarded by hub.mu
}

// Events returns the receive channel. It is closed when either the
// subscription or the Hub is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped reports how many events were discarded because the subscriber's
// buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes the event channel. Idempotent.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.closed {
		return
	}
	delete(s.hub.subs, s)
	close(s.ch)
	s.closed = true
}
