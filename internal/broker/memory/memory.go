package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soliktomasz/BusLane-sub000/internal/broker"
)

// deadLetterSuffix mirrors the managed broker's dead-letter sub-queue path.
const deadLetterSuffix = "/$DeadLetterQueue"

// Broker is an in-process message broker.
type Broker struct {
	mu       sync.Mutex
	entities map[string]*entity
	subs     map[string][]string // topic -> subscription names
}

// New returns an empty Broker.
func New() *Broker {
	return &Broker{entities: map[string]*entity{}, subs: map[string][]string{}}
}

// entityKey builds the canonical entity path.
func entityKey(entityPath, subscription string, deadLetter bool) string {
	k := entityPath
	if subscription != "" {
		k += "/Subscriptions/" + subscription
	}
	if deadLetter {
		k += deadLetterSuffix
	}
	return k
}

type stored struct {
	msg           broker.Message
	locked        bool
	deliveryCount int
}

type entity struct {
	mu      sync.Mutex
	lastSeq int64
	msgs    []*stored
	notify  chan struct{}
}

func newEntity() *entity { return &entity{notify: make(chan struct{})} }

// append assigns sequence numbers and wakes waiters.
func (e *entity) append(msgs []broker.Message) []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	seqs := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		e.lastSeq++
		m.SequenceNumber = e.lastSeq
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.EnqueuedAt.IsZero() {
			m.EnqueuedAt = time.Now().UTC()
		}
		e.msgs = append(e.msgs, &stored{msg: m})
		seqs = append(seqs, e.lastSeq)
	}
	close(e.notify)
	e.notify = make(chan struct{})
	return seqs
}

// waitCh returns the channel closed on the next append.
func (e *entity) waitCh() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notify
}

func (b *Broker) entity(key string, create bool) (*entity, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entities[key]
	if !ok && create {
		e = newEntity()
		b.entities[key] = e
		ok = true
	}
	return e, ok
}

// CreateQueue creates an empty queue (and its dead-letter sub-queue).
func (b *Broker) CreateQueue(name string) {
	b.entity(name, true)
	b.entity(name+deadLetterSuffix, true)
}

// CreateSubscription attaches a subscription to a topic. Messages sent to the
// topic afterwards fan out to every subscription.
func (b *Broker) CreateSubscription(topic, subscription string) {
	key := entityKey(topic, subscription, false)
	b.entity(key, true)
	b.entity(key+deadLetterSuffix, true)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], subscription)
	b.mu.Unlock()
}

// Send appends messages to a queue (auto-created) or fans them out to a
// topic's subscriptions. Returns assigned sequence numbers; for topics the
// numbers come from the first subscription.
func (b *Broker) Send(entityPath string, msgs ...broker.Message) []int64 {
	b.mu.Lock()
	subs := append([]string(nil), b.subs[entityPath]...)
	b.mu.Unlock()
	if len(subs) == 0 {
		e, _ := b.entity(entityPath, true)
		return e.append(msgs)
	}
	sort.Strings(subs)
	var first []int64
	for i, s := range subs {
		e, _ := b.entity(entityKey(entityPath, s, false), true)
		seqs := e.append(msgs)
		if i == 0 {
			first = seqs
		}
	}
	return first
}

// SendToDeadLetter appends messages directly to an entity's dead-letter
// sub-queue.
func (b *Broker) SendToDeadLetter(entityPath, subscription string, msgs ...broker.Message) []int64 {
	e, _ := b.entity(entityKey(entityPath, subscription, true), true)
	return e.append(msgs)
}

// Len reports the number of messages currently held by an entity.
func (b *Broker) Len(entityPath, subscription string, deadLetter bool) int {
	e, ok := b.entity(entityKey(entityPath, subscription, deadLetter), false)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.msgs)
}

// DeliveryCount reports how many times the message with the given sequence
// number has been push-delivered.
func (b *Broker) DeliveryCount(entityPath, subscription string, seq int64) int {
	e, ok := b.entity(entityKey(entityPath, subscription, false), false)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.msgs {
		if s.msg.SequenceNumber == seq {
			return s.deliveryCount
		}
	}
	return 0
}

// Dial returns a broker.Client bound to this Broker. It satisfies
// broker.DialFunc.
func (b *Broker) Dial(ctx context.Context) (broker.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &client{b: b}, nil
}

type client struct {
	mu     sync.Mutex
	b      *Broker
	closed bool
}

func (c *client) resolve(entityPath string, opts broker.ReceiverOptions) (*entity, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, broker.ErrClosed
	}
	key := entityKey(entityPath, opts.Subscription, opts.DeadLetter)
	e, ok := c.b.entity(key, false)
	if !ok {
		return nil, fmt.Errorf("memory: entity %q not found", key)
	}
	return e, nil
}

func (c *client) NewPeekReceiver(entityPath string, opts broker.ReceiverOptions) (broker.PeekReceiver, error) {
	e, err := c.resolve(entityPath, opts)
	if err != nil {
		return nil, err
	}
	return &peekReceiver{e: e}, nil
}

func (c *client) NewPushReceiver(entityPath string, opts broker.ReceiverOptions) (broker.PushReceiver, error) {
	e, err := c.resolve(entityPath, opts)
	if err != nil {
		return nil, err
	}
	return &pushReceiver{e: e}, nil
}

func (c *client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type peekReceiver struct {
	mu     sync.Mutex
	e      *entity
	closed bool
}

func (r *peekReceiver) Peek(ctx context.Context, maxCount int, fromSequence int64) ([]broker.Message, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, broker.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxCount <= 0 {
		return nil, nil
	}
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	var out []broker.Message
	for _, s := range r.e.msgs {
		if s.msg.SequenceNumber < fromSequence {
			continue
		}
		out = append(out, copyMessage(s.msg))
		if len(out) >= maxCount {
			break
		}
	}
	return out, nil
}

func (r *peekReceiver) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

type pushReceiver struct {
	mu      sync.Mutex
	e       *entity
	started bool
	stop    context.CancelFunc
	done    chan struct{}
	cursor  int64
}

func (r *pushReceiver) Start(ctx context.Context, onMessage broker.PushHandler, onError func(error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("memory: push receiver already started")
	}
	r.started = true
	rctx, cancel := context.WithCancel(ctx)
	r.stop = cancel
	r.done = make(chan struct{})
	go r.loop(rctx, onMessage)
	return nil
}

func (r *pushReceiver) loop(ctx context.Context, onMessage broker.PushHandler) {
	defer close(r.done)
	for {
		if ctx.Err() != nil {
			return
		}
		s, ch := r.next()
		if s == nil {
			select {
			case <-ch:
			case <-ctx.Done():
				return
			}
			continue
		}
		abandoned := make(chan struct{})
		var settle sync.Once
		d := broker.Delivery{
			Message: copyMessage(s.msg),
			Abandon: func(context.Context) error {
				settle.Do(func() {
					r.e.mu.Lock()
					s.locked = false
					r.e.mu.Unlock()
					close(abandoned)
				})
				return nil
			},
		}
		onMessage(ctx, d)
		select {
		case <-abandoned:
		default:
			// Handler never settled; release the lock so the message stays
			// available to real consumers.
			r.e.mu.Lock()
			s.locked = false
			r.e.mu.Unlock()
		}
	}
}

// next locks and returns the first undelivered message past the receiver's
// cursor, or nil plus a wake channel when none is available.
func (r *pushReceiver) next() (*stored, <-chan struct{}) {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	for _, s := range r.e.msgs {
		if s.msg.SequenceNumber <= r.cursor || s.locked {
			continue
		}
		s.locked = true
		s.deliveryCount++
		r.cursor = s.msg.SequenceNumber
		return s, nil
	}
	return nil, r.e.notify
}

func (r *pushReceiver) Stop(ctx context.Context) error {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func copyMessage(m broker.Message) broker.Message {
	out := m
	out.Body = append([]byte(nil), m.Body...)
	if m.Properties != nil {
		props := make(map[string]any, len(m.Properties))
		for k, v := range m.Properties {
			props[k] = v
		}
		out.Properties = props
	}
	return out
}

// Entities lists the canonical paths of all entities, sorted.
func (b *Broker) Entities() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.entities))
	for k := range b.entities {
		if strings.HasSuffix(k, deadLetterSuffix) {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
