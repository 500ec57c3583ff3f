// Package monitor wires the monitor process: broker dialer selection, the
// stream engine, the capture recorder, and the HTTP server. It is the
// programmatic form of `buslane serve`.
package monitor
