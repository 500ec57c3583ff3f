// Package log provides BusLane's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. It is backed by the standard library
// slog with text or JSON handlers, so output stays consistent across the
// CLI, the monitor server, and the stream engine.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.FormatText),
//	)
//	l = l.With(log.Component("engine"))
//	l.Info("stream started", log.Str("entity", "orders"))
//
// Tests that need a logger but no output should use log.Nop().
package log
