package azsb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/soliktomasz/BusLane-sub000/internal/broker"
)

// Dialer returns a broker.DialFunc that connects with a Service Bus
// connection string.
func Dialer(connectionString string) broker.DialFunc {
	return func(ctx context.Context) (broker.Client, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inner, err := azservicebus.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("azsb: connect: %w", err)
		}
		return &client{inner: inner}, nil
	}
}

type client struct {
	inner *azservicebus.Client
}

func (c *client) newReceiver(entityPath string, opts broker.ReceiverOptions, mode azservicebus.ReceiveMode) (*azservicebus.Receiver, error) {
	ro := &azservicebus.ReceiverOptions{ReceiveMode: mode}
	if opts.DeadLetter {
		ro.SubQueue = azservicebus.SubQueueDeadLetter
	}
	if opts.Subscription != "" {
		return c.inner.NewReceiverForSubscription(entityPath, opts.Subscription, ro)
	}
	return c.inner.NewReceiverForQueue(entityPath, ro)
}

func (c *client) NewPeekReceiver(entityPath string, opts broker.ReceiverOptions) (broker.PeekReceiver, error) {
	// Peek works in either mode; peek-lock keeps the receiver link from ever
	// auto-consuming if a caller misuses it.
	r, err := c.newReceiver(entityPath, opts, azservicebus.ReceiveModePeekLock)
	if err != nil {
		return nil, fmt.Errorf("azsb: create peek receiver: %w", err)
	}
	return &peekReceiver{inner: r}, nil
}

func (c *client) NewPushReceiver(entityPath string, opts broker.ReceiverOptions) (broker.PushReceiver, error) {
	r, err := c.newReceiver(entityPath, opts, azservicebus.ReceiveModePeekLock)
	if err != nil {
		return nil, fmt.Errorf("azsb: create push receiver: %w", err)
	}
	return &pushReceiver{inner: r}, nil
}

func (c *client) Close(ctx context.Context) error {
	return c.inner.Close(ctx)
}

type peekReceiver struct {
	inner *azservicebus.Receiver
}

func (r *peekReceiver) Peek(ctx context.Context, maxCount int, fromSequence int64) ([]broker.Message, error) {
	from := fromSequence
	peeked, err := r.inner.PeekMessages(ctx, maxCount, &azservicebus.PeekMessagesOptions{
		FromSequenceNumber: &from,
	})
	if err != nil {
		return nil, err
	}
	out := make([]broker.Message, 0, len(peeked))
	for _, m := range peeked {
		out = append(out, toMessage(m))
	}
	return out, nil
}

func (r *peekReceiver) Close(ctx context.Context) error {
	return r.inner.Close(ctx)
}

type pushReceiver struct {
	mu      sync.Mutex
	inner   *azservicebus.Receiver
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func (r *pushReceiver) Start(ctx context.Context, onMessage broker.PushHandler, onError func(error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("azsb: push receiver already started")
	}
	r.started = true
	rctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(rctx, onMessage, onError)
	return nil
}

// loop receives one message at a time in peek-lock mode and hands it to the
// handler with an Abandon settlement.
func (r *pushReceiver) loop(ctx context.Context, onMessage broker.PushHandler, onError func(error)) {
	defer close(r.done)
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := r.inner.ReceiveMessages(ctx, 1, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			onError(err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, m := range msgs {
			m := m
			onMessage(ctx, broker.Delivery{
				Message: toMessage(m),
				Abandon: func(actx context.Context) error {
					return r.inner.AbandonMessage(actx, m, nil)
				},
			})
		}
	}
}

func (r *pushReceiver) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.inner.Close(ctx)
}

func toMessage(m *azservicebus.ReceivedMessage) broker.Message {
	out := broker.Message{
		ID:         m.MessageID,
		Body:       m.Body,
		Properties: m.ApplicationProperties,
	}
	if m.CorrelationID != nil {
		out.CorrelationID = *m.CorrelationID
	}
	if m.ContentType != nil {
		out.ContentType = *m.ContentType
	}
	if m.SequenceNumber != nil {
		out.SequenceNumber = *m.SequenceNumber
	}
	if m.SessionID != nil {
		out.SessionID = *m.SessionID
	}
	if m.EnqueuedTime != nil {
		out.EnqueuedAt = *m.EnqueuedTime
	}
	return out
}
