package livestream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soliktomasz/BusLane-sub000/internal/broker"
)

// SourceKind identifies the kind of entity a message came from.
type SourceKind int

const (
	SourceQueue SourceKind = iota
	SourceSubscription
)

// String returns the wire name of the source kind.
func (k SourceKind) String() string {
	if k == SourceSubscription {
		return "subscription"
	}
	return "queue"
}

// MarshalJSON encodes the kind as its string name.
func (k SourceKind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

// UnmarshalJSON decodes the string name form.
func (k *SourceKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "queue":
		*k = SourceQueue
	case "subscription":
		*k = SourceSubscription
	default:
		return fmt.Errorf("livestream: unknown source kind %q", s)
	}
	return nil
}

// Mode selects the delivery strategy for a stream.
type Mode int

const (
	ModeCursorPoll Mode = iota
	ModePushSubscribe
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	if m == ModePushSubscribe {
		return "push"
	}
	return "poll"
}

// ParseMode converts a mode name ("poll", "push") to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "poll", "cursor", "":
		return ModeCursorPoll, nil
	case "push", "subscribe":
		return ModePushSubscribe, nil
	default:
		return ModeCursorPoll, fmt.Errorf("livestream: unknown mode %q", s)
	}
}

// State is the engine lifecycle state. The terminal state is always
// StateIdle; there is no error state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Target addresses the entity a stream observes. It is immutable for the
// lifetime of one stream instance; changing targets requires a stop/start
// cycle.
type Target struct {
	// EntityPath is the queue name, or the topic name when Subscription is
	// set.
	EntityPath string `json:"entityPath"`
	// Subscription names a topic subscription. Empty for queues.
	Subscription string `json:"subscription,omitempty"`
	// DeadLetter selects the entity's dead-letter sub-queue.
	DeadLetter bool `json:"deadLetter,omitempty"`
}

// Kind reports whether the target is a queue or a subscription.
func (t Target) Kind() SourceKind {
	if t.Subscription != "" {
		return SourceSubscription
	}
	return SourceQueue
}

// Validate checks the target is addressable.
func (t Target) Validate() error {
	if strings.TrimSpace(t.EntityPath) == "" {
		return errors.New("livestream: target entity path is empty")
	}
	return nil
}

// String returns the canonical entity path, including the subscription
// segment and dead-letter suffix when present.
func (t Target) String() string {
	s := t.EntityPath
	if t.Subscription != "" {
		s += "/Subscriptions/" + t.Subscription
	}
	if t.DeadLetter {
		s += "/$DeadLetterQueue"
	}
	return s
}

func (t Target) receiverOptions() broker.ReceiverOptions {
	return broker.ReceiverOptions{Subscription: t.Subscription, DeadLetter: t.DeadLetter}
}

// LiveMessage is an immutable snapshot of one delivered message plus stream
// metadata. It is constructed once per delivery event and never mutated
// afterwards.
type LiveMessage struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlationId,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	Body          string `json:"body"`
	// ReceivedAt is the stream-local delivery timestamp, not a broker-assigned
	// one.
	ReceivedAt time.Time  `json:"receivedAtUtc"`
	SourceName string     `json:"sourceName"`
	SourceKind SourceKind `json:"sourceKind"`
	// ParentTopic is set only when SourceKind is SourceSubscription.
	ParentTopic    string         `json:"parentTopicName,omitempty"`
	SequenceNumber int64          `json:"sequenceNumber"`
	SessionID      string         `json:"sessionId,omitempty"`
	Properties     map[string]any `json:"applicationProperties,omitempty"`
}

func newLiveMessage(m broker.Message, t Target, receivedAt time.Time) LiveMessage {
	lm := LiveMessage{
		ID:             m.ID,
		CorrelationID:  m.CorrelationID,
		ContentType:    m.ContentType,
		Body:           string(m.Body),
		ReceivedAt:     receivedAt,
		SourceKind:     t.Kind(),
		SequenceNumber: m.SequenceNumber,
		SessionID:      m.SessionID,
		Properties:     m.Properties,
	}
	if t.Subscription != "" {
		lm.SourceName = t.Subscription
		lm.ParentTopic = t.EntityPath
	} else {
		lm.SourceName = t.EntityPath
	}
	return lm
}
