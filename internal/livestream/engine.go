package livestream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soliktomasz/BusLane-sub000/internal/broker"
	logpkg "github.com/soliktomasz/BusLane-sub000/pkg/log"
)

// ErrEngineClosed is returned by StartStream after Close.
var ErrEngineClosed = errors.New("livestream: engine closed")

// Reference tunables. Overridable through Options.
const (
	DefaultPeekBatch        = 10
	DefaultPeekTimeout      = 30 * time.Second
	DefaultPollInterval     = time.Second
	DefaultErrorBackoff     = 5 * time.Second
	DefaultStopGrace        = 5 * time.Second
	DefaultSubscriberBuffer = 256

	// releaseTimeout bounds broker handle release during teardown so a hung
	// SDK call can never wedge StopStream.
	releaseTimeout = 5 * time.Second
)

// Options tunes an Engine. Zero values fall back to the defaults above.
type Options struct {
	PeekBatch        int
	PeekTimeout      time.Duration
	PollInterval     time.Duration
	ErrorBackoff     time.Duration
	StopGrace        time.Duration
	SubscriberBuffer int
	Logger           logpkg.Logger
}

func (o Options) withDefaults() Options {
	if o.PeekBatch <= 0 {
		o.PeekBatch = DefaultPeekBatch
	}
	if o.PeekTimeout <= 0 {
		o.PeekTimeout = DefaultPeekTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = DefaultErrorBackoff
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if o.Logger == nil {
		o.Logger = logpkg.Nop()
	}
	return o
}

// StartOption customizes a single StartStream call.
type StartOption func(*startOptions)

type startOptions struct {
	filter string
}

// WithFilter applies a CEL expression evaluated per message; only matching
// messages are emitted. A compile error fails the StartStream call.
func WithFilter(expr string) StartOption {
	return func(o *startOptions) { o.filter = expr }
}

// sink is the strategies' emission path: filter, then hub fan-out.
type sink struct {
	hub        *Hub
	flt        filter
	deadLetter bool
}

func (s sink) message(lm LiveMessage) {
	if !s.flt.Eval(lm, s.deadLetter) {
		return
	}
	s.hub.Emit(Event{Kind: EventMessage, Message: &lm})
}

func (s sink) error(err error) {
	s.hub.Emit(Event{Kind: EventError, Err: err})
}

// Engine owns the single-flight stream lifecycle: Idle -> Starting ->
// Streaming -> Stopping -> Idle. Errors during a running stream never change
// the state; they surface as EventError while the strategy self-heals.
type Engine struct {
	dial   broker.DialFunc
	opts   Options
	logger logpkg.Logger
	hub    *Hub

	// lifeMu serializes StartStream/StopStream/Close so two callers can never
	// interleave a teardown with a launch.
	lifeMu sync.Mutex

	// mu guards the fields below, which accessors read concurrently.
	mu        sync.Mutex
	state     State
	streaming bool
	target    Target
	mode      Mode
	cancel    context.CancelFunc
	done      chan struct{}
	client    broker.Client
	closed    bool
}

// New builds an Engine that dials the broker with dial on each StartStream.
func New(dial broker.DialFunc, opts Options) *Engine {
	o := opts.withDefaults()
	return &Engine{
		dial:   dial,
		opts:   o,
		logger: o.Logger.With(logpkg.Component("livestream")),
		hub:    NewHub(o.SubscriberBuffer),
	}
}

// Subscribe registers an observer on the engine's event hub.
func (e *Engine) Subscribe() *Subscription { return e.hub.Subscribe() }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Streaming reports whether a stream is active.
func (e *Engine) Streaming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streaming
}

// Active returns the target and mode of the running stream, if any.
func (e *Engine) Active() (Target, Mode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target, e.mode, e.streaming
}

// StartStream stops any active stream, connects the broker, and launches the
// requested strategy in the background.
//
// The dial and receiver-creation steps run synchronously: their failures are
// returned to the caller and leave the engine Idle. Everything after launch
// is reported through the event hub. Restarting with an identical target and
// mode still performs a full stop/start cycle.
func (e *Engine) StartStream(ctx context.Context, target Target, mode Mode, opts ...StartOption) error {
	if err := target.Validate(); err != nil {
		return err
	}
	var so startOptions
	for _, opt := range opts {
		opt(&so)
	}
	flt, err := newFilter(so.filter)
	if err != nil {
		return fmt.Errorf("livestream: compile filter: %w", err)
	}

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEngineClosed
	}

	// Single-flight: the prior stream drains fully before the broker sees a
	// new receiver from this engine.
	e.stopActive(ctx)

	e.setState(StateStarting)
	client, err := e.dial(ctx)
	if err != nil {
		e.setState(StateIdle)
		return fmt.Errorf("livestream: connect: %w", err)
	}

	snk := sink{hub: e.hub, flt: flt, deadLetter: target.DeadLetter}
	var run func(context.Context)
	switch mode {
	case ModePushSubscribe:
		recv, rerr := client.NewPushReceiver(target.EntityPath, target.receiverOptions())
		if rerr != nil {
			e.releaseClient(client)
			e.setState(StateIdle)
			return fmt.Errorf("livestream: create push receiver: %w", rerr)
		}
		strat := &pushSubscribe{recv: recv, target: target, snk: snk, logger: e.logger}
		run = strat.run
	default:
		recv, rerr := client.NewPeekReceiver(target.EntityPath, target.receiverOptions())
		if rerr != nil {
			e.releaseClient(client)
			e.setState(StateIdle)
			return fmt.Errorf("livestream: create peek receiver: %w", rerr)
		}
		strat := &cursorPoll{
			recv:         recv,
			target:       target,
			snk:          snk,
			logger:       e.logger,
			batch:        e.opts.PeekBatch,
			peekTimeout:  e.opts.PeekTimeout,
			pollInterval: e.opts.PollInterval,
			errorBackoff: e.opts.ErrorBackoff,
		}
		run = strat.run
	}

	// The stream outlives the caller's ctx; only StopStream/Close end it.
	sctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.mu.Lock()
	e.target, e.mode = target, mode
	e.cancel, e.done, e.client = cancel, done, client
	e.mu.Unlock()
	e.setState(StateStreaming)
	go func() {
		defer close(done)
		run(sctx)
	}()
	e.logger.Info("stream started",
		logpkg.Str("entity", target.String()),
		logpkg.Str("mode", mode.String()))
	return nil
}

// StopStream cancels the active stream, waits up to the stop grace period for
// it to drain, releases broker handles, and returns the engine to Idle. It is
// a no-op when nothing is streaming.
func (e *Engine) StopStream(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	e.stopActive(ctx)
	return nil
}

// stopActive performs the teardown sequence. Caller holds lifeMu.
func (e *Engine) stopActive(ctx context.Context) {
	e.mu.Lock()
	cancel, done, client := e.cancel, e.done, e.client
	e.cancel, e.done, e.client = nil, nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	e.setState(StateStopping)
	cancel()
	select {
	case <-done:
	case <-time.After(e.opts.StopGrace):
		// Deliberately non-blocking: proceed and let the cancelled activity
		// die on its next suspension point.
		e.logger.Warn("stream did not exit within grace period",
			logpkg.Dur("grace", e.opts.StopGrace))
	case <-ctx.Done():
		e.logger.Warn("stop wait abandoned", logpkg.Err(ctx.Err()))
	}
	e.releaseClient(client)
	e.setState(StateIdle)
	e.logger.Info("stream stopped")
}

func (e *Engine) releaseClient(client broker.Client) {
	if client == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := client.Close(cctx); err != nil {
		e.logger.Warn("close broker client", logpkg.Err(err))
	}
}

// setState transitions the state machine and fires a status event exactly
// once per actual isStreaming change.
func (e *Engine) setState(next State) {
	e.mu.Lock()
	if e.state == next {
		e.mu.Unlock()
		return
	}
	e.state = next
	streaming := next == StateStreaming
	changed := streaming != e.streaming
	e.streaming = streaming
	e.mu.Unlock()
	if changed {
		e.hub.Emit(Event{Kind: EventStatus, Streaming: streaming})
	}
}

// Close stops any active stream and permanently closes the event hub. Safe to
// call multiple times; subsequent calls are no-ops.
func (e *Engine) Close() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.stopActive(context.Background())
	e.hub.Close()
	return nil
}
