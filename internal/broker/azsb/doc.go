// Package azsb adapts the Azure Service Bus SDK to the broker.Client
// interfaces.
//
// Peek receivers map to PeekMessages with an explicit FromSequenceNumber so
// the engine's cursor drives the broker-side position. Push receivers run a
// peek-lock receive loop with a single in-flight delivery; settlement is
// exposed only as Abandon, so a monitoring session can never complete or
// dead-letter a message.
package azsb
