package broker

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations against a closed client or receiver.
var ErrClosed = errors.New("broker: closed")

// Message is a broker message as seen by a receiver. Peeked messages carry no
// settlement handle; push deliveries wrap a Message in a Delivery.
type Message struct {
	ID             string
	CorrelationID  string
	ContentType    string
	Body           []byte
	SequenceNumber int64
	SessionID      string
	EnqueuedAt     time.Time
	Properties     map[string]any
}

// ReceiverOptions scopes a receiver to an entity.
//
// For a queue, leave Subscription empty. For a topic, Subscription names the
// subscription to attach to. DeadLetter selects the entity's dead-letter
// sub-queue instead of its main queue.
type ReceiverOptions struct {
	Subscription string
	DeadLetter   bool
}

// PeekReceiver reads messages non-destructively. Peek never removes a message
// or acquires a lock on it.
type PeekReceiver interface {
	// Peek returns up to maxCount messages whose sequence number is >=
	// fromSequence, in sequence order. It honors ctx's deadline independently
	// of any outer cancellation. An empty result is not an error.
	Peek(ctx context.Context, maxCount int, fromSequence int64) ([]Message, error)

	Close(ctx context.Context) error
}

// Delivery is one push-delivered message together with its settlement handle.
// Abandon releases the delivery lock so the message returns to the entity
// unconsumed.
type Delivery struct {
	Message Message
	Abandon func(ctx context.Context) error
}

// PushHandler is invoked once per delivery. Deliveries are sequential: the
// receiver does not dispatch the next message until the handler returns.
type PushHandler func(ctx context.Context, d Delivery)

// PushReceiver delivers messages through callbacks.
type PushReceiver interface {
	// Start begins dispatching deliveries to onMessage and receive failures
	// to onError. It does not block; dispatch stops when ctx is cancelled or
	// Stop is called. Calling Start twice is an error.
	Start(ctx context.Context, onMessage PushHandler, onError func(error)) error

	// Stop halts dispatch and releases the underlying receiver.
	Stop(ctx context.Context) error
}

// Client is a connected broker client able to create receivers.
type Client interface {
	NewPeekReceiver(entityPath string, opts ReceiverOptions) (PeekReceiver, error)
	NewPushReceiver(entityPath string, opts ReceiverOptions) (PushReceiver, error)
	Close(ctx context.Context) error
}

// DialFunc connects a Client. Credential resolution is the caller's concern;
// implementations typically close over a connection string or an in-process
// broker instance.
type DialFunc func(ctx context.Context) (Client, error)
