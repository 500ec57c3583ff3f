package livestream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soliktomasz/BusLane-sub000/internal/broker"
	logpkg "github.com/soliktomasz/BusLane-sub000/pkg/log"
)

// scriptedPeek replays one response per Peek call; the last script entry
// repeats once the script is exhausted.
type scriptedPeek struct {
	mu     sync.Mutex
	calls  int
	froms  []int64
	script []func(ctx context.Context, maxCount int, from int64) ([]broker.Message, error)
	closed bool
}

func (s *scriptedPeek) Peek(ctx context.Context, maxCount int, from int64) ([]broker.Message, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.froms = append(s.froms, from)
	fn := s.script[len(s.script)-1]
	if i < len(s.script) {
		fn = s.script[i]
	}
	s.mu.Unlock()
	return fn(ctx, maxCount, from)
}

func (s *scriptedPeek) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedPeek) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func peekMsgs(seqs ...int64) []broker.Message {
	out := make([]broker.Message, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, broker.Message{ID: "m", Body: []byte("x"), SequenceNumber: seq})
	}
	return out
}

func peekNothing(context.Context, int, int64) ([]broker.Message, error) { return nil, nil }

func newTestCursor(recv broker.PeekReceiver, h *Hub) *cursorPoll {
	return &cursorPoll{
		recv:         recv,
		target:       Target{EntityPath: "orders"},
		snk:          sink{hub: h},
		logger:       logpkg.Nop(),
		batch:        10,
		peekTimeout:  200 * time.Millisecond,
		pollInterval: time.Millisecond,
		errorBackoff: time.Millisecond,
	}
}

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func TestCursorPollAdvancesAndDeduplicates(t *testing.T) {
	recv := &scriptedPeek{script: []func(context.Context, int, int64) ([]broker.Message, error){
		func(context.Context, int, int64) ([]broker.Message, error) { return peekMsgs(1, 2, 3), nil },
		// Overlapping replay at and below the watermark must be suppressed.
		func(context.Context, int, int64) ([]broker.Message, error) { return peekMsgs(2, 3, 4, 5), nil },
		peekNothing,
	}}
	h := NewHub(16)
	sub := h.Subscribe()
	c := newTestCursor(recv, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); c.run(ctx) }()

	var got []int64
	for len(got) < 5 {
		ev := nextEvent(t, sub)
		if ev.Kind != EventMessage {
			t.Fatalf("unexpected event kind %d", ev.Kind)
		}
		got = append(got, ev.Message.SequenceNumber)
	}
	cancel()
	<-done

	for i, seq := range got {
		if seq != int64(i+1) {
			t.Fatalf("sequence order: want %v, got %v", []int64{1, 2, 3, 4, 5}, got)
		}
	}
	recv.mu.Lock()
	first := recv.froms[0]
	second := recv.froms[1]
	recv.mu.Unlock()
	if first != 1 {
		t.Fatalf("first peek must start at sequence 1, got %d", first)
	}
	if second != 4 {
		t.Fatalf("second peek must resume past the watermark, got %d", second)
	}
	if !recv.wasClosed() {
		t.Fatalf("receiver not closed after loop exit")
	}
}

func TestCursorPollSelfHealsAfterError(t *testing.T) {
	boom := errors.New("transient broker failure")
	recv := &scriptedPeek{script: []func(context.Context, int, int64) ([]broker.Message, error){
		func(context.Context, int, int64) ([]broker.Message, error) { return nil, boom },
		func(context.Context, int, int64) ([]broker.Message, error) { return peekMsgs(1), nil },
		peekNothing,
	}}
	h := NewHub(16)
	sub := h.Subscribe()
	c := newTestCursor(recv, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); c.run(ctx) }()

	ev := nextEvent(t, sub)
	if ev.Kind != EventError || !errors.Is(ev.Err, boom) {
		t.Fatalf("expected error event, got %+v", ev)
	}
	ev = nextEvent(t, sub)
	if ev.Kind != EventMessage || ev.Message.SequenceNumber != 1 {
		t.Fatalf("expected recovery message, got %+v", ev)
	}
	cancel()
	<-done
}

func TestCursorPollTimeoutIsQuietIdle(t *testing.T) {
	recv := &scriptedPeek{script: []func(context.Context, int, int64) ([]broker.Message, error){
		func(ctx context.Context, _ int, _ int64) ([]broker.Message, error) {
			// Simulate a long-poll that runs out the per-call deadline.
			<-ctx.Done()
			return nil, ctx.Err()
		},
		func(context.Context, int, int64) ([]broker.Message, error) { return peekMsgs(1), nil },
		peekNothing,
	}}
	h := NewHub(16)
	sub := h.Subscribe()
	c := newTestCursor(recv, h)
	c.peekTimeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); c.run(ctx) }()

	// The first event must be the message, not an error for the idle tick.
	ev := nextEvent(t, sub)
	if ev.Kind != EventMessage || ev.Message.SequenceNumber != 1 {
		t.Fatalf("idle timeout leaked an event: %+v", ev)
	}
	cancel()
	<-done
}

func TestCursorPollStopsDuringBlockedPeek(t *testing.T) {
	recv := &scriptedPeek{script: []func(context.Context, int, int64) ([]broker.Message, error){
		func(ctx context.Context, _ int, _ int64) ([]broker.Message, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	h := NewHub(16)
	sub := h.Subscribe()
	c := newTestCursor(recv, h)
	c.peekTimeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); c.run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loop did not exit after cancellation")
	}
	// Cancellation must not masquerade as a broker error.
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event during shutdown: %+v", ev)
	default:
	}
	if !recv.wasClosed() {
		t.Fatalf("receiver not closed after cancellation")
	}
}
