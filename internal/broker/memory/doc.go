// Package memory implements an in-process broker backing the broker.Client
// interfaces.
//
// # Overview
//
// Entities hold sequence-numbered messages that peeking never removes. Queues
// are auto-created on first send; topic subscriptions are created explicitly
// and each subscription receives its own copy of every message sent to the
// topic. Every entity owns a dead-letter sub-queue addressed with the
// /$DeadLetterQueue suffix.
//
// Push receivers observe: each receiver instance delivers a message at most
// once, locks it for the duration of the callback, and abandoning returns it
// to the entity with an incremented delivery count.
//
// The package is used by the engine tests and by `buslane serve --endpoint
// memory:` demo mode.
package memory
