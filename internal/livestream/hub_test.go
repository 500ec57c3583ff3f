package livestream

import (
	"errors"
	"testing"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe()
	b := h.Subscribe()
	lm := LiveMessage{ID: "m1", SequenceNumber: 1}
	h.Emit(Event{Kind: EventMessage, Message: &lm})
	for _, sub := range []*Subscription{a, b} {
		ev := <-sub.Events()
		if ev.Kind != EventMessage || ev.Message.ID != "m1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe()
	h.Emit(Event{Kind: EventStatus, Streaming: true})
	h.Emit(Event{Kind: EventStatus, Streaming: false})
	if got := s.Dropped(); got != 1 {
		t.Fatalf("dropped: want 1, got %d", got)
	}
	// The buffered event is still deliverable.
	ev := <-s.Events()
	if !ev.Streaming {
		t.Fatalf("expected first emitted event, got %+v", ev)
	}
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	h := NewHub(2)
	s := h.Subscribe()
	h.Close()
	// Must not panic and must not deliver anything.
	h.Emit(Event{Kind: EventError, Err: errors.New("late")})
	if _, more := <-s.Events(); more {
		t.Fatalf("expected closed subscriber channel")
	}
}

func TestHubCloseIdempotent(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe()
	h.Close()
	h.Close()
	s.Close()
	s.Close()
}

func TestHubSubscribeAfterClose(t *testing.T) {
	h := NewHub(1)
	h.Close()
	s := h.Subscribe()
	if _, more := <-s.Events(); more {
		t.Fatalf("expected closed channel for late subscriber")
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe()
	b := h.Subscribe()
	a.Close()
	h.Emit(Event{Kind: EventStatus, Streaming: true})
	if ev := <-b.Events(); ev.Kind != EventStatus {
		t.Fatalf("live subscriber should still receive, got %+v", ev)
	}
	if _, more := <-a.Events(); more {
		t.Fatalf("closed subscriber should not receive")
	}
}
