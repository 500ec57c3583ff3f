// Package pebblestore wraps a Pebble database with BusLane's fsync policy
// and small key/value helpers.
//
// The wrapper exists so callers never deal with Pebble's value closers or
// write options directly: Get copies values out, and Set/CommitBatch apply
// the durability mode chosen at open time. The capture store is the only
// consumer.
package pebblestore
