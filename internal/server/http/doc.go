// Package httpserver exposes the monitor's HTTP surface: stream control,
// a Server-Sent Events feed of live events, capture browsing, and health.
//
// Routes:
//
//	POST /v1/stream/start   {"entityPath","subscription","deadLetter","mode","filter"}
//	POST /v1/stream/stop
//	GET  /v1/stream/status
//	GET  /v1/stream/events  (SSE: message/status/error events)
//	GET  /v1/captures[?entity=...&from=...&limit=...&reverse=true]
//	GET  /v1/healthz
//
// Only the initial connect/receiver-creation step of a start request can
// fail the HTTP call; once a stream runs, failures flow through the SSE feed
// as error events.
package httpserver
