// Package broker defines the client surface the stream engine consumes from
// a message broker.
//
// # Overview
//
// The engine only needs three capabilities: connect, peek messages beyond a
// sequence number without removing them, and receive push deliveries that can
// be abandoned back to the broker unconsumed. Everything else a broker SDK
// offers (send, complete, purge, management operations) is deliberately
// absent from these interfaces.
//
// Two implementations ship with BusLane: broker/memory, a self-contained
// in-process broker used by tests and demo mode, and broker/azsb, an adapter
// over the Azure Service Bus SDK.
package broker
