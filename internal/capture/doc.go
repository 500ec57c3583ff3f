// Package capture implements the local message-capture store.
//
// # Overview
//
// While a monitoring session streams, every emitted live message can be
// recorded so the operator can browse what the session saw after the fact.
// Entries are keyed per entity with a locally assigned sequence number and
// persisted in Pebble. Keys are lexicographically ordered for range scans:
//   - cap/{entity}/m           (entity metadata: lastSeq)
//   - cap/{entity}/e/{seq_be8} (entries)
//
// Entries are stored as: varint headerLen | header | payload |
// crc32c(header|payload), where the header carries the stream-local receipt
// timestamp in milliseconds.
//
// Capture is a byproduct record, not resumable stream state: the engine's
// cursor never reads from it.
package capture
