package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soliktomasz/BusLane-sub000/internal/broker"
	"github.com/soliktomasz/BusLane-sub000/internal/broker/memory"
	"github.com/soliktomasz/BusLane-sub000/internal/capture"
	"github.com/soliktomasz/BusLane-sub000/internal/livestream"
	pebblestore "github.com/soliktomasz/BusLane-sub000/internal/storage/pebble"
)

func newTestServer(t *testing.T, b *memory.Broker, rec *capture.Recorder) *Server {
	t.Helper()
	eng := livestream.New(b.Dial, livestream.Options{
		PollInterval: time.Millisecond,
		ErrorBackoff: time.Millisecond,
		StopGrace:    time.Second,
	})
	t.Cleanup(func() { eng.Close() })
	return New(eng, rec, nil)
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	var decoded map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response not JSON: %v: %s", err, w.Body.String())
		}
	}
	return w, decoded
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, memory.New(), nil)
	w, body := doJSON(t, s, http.MethodGet, "/v1/healthz", "")
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", w.Code, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, memory.New(), nil)
	req := httptest.NewRequest(http.MethodOptions, "/v1/stream/start", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight: %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func TestStartStopStatus(t *testing.T) {
	b := memory.New()
	b.CreateQueue("orders")
	s := newTestServer(t, b, nil)

	w, _ := doJSON(t, s, http.MethodGet, "/v1/stream/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}

	w, body := doJSON(t, s, http.MethodPost, "/v1/stream/start", `{"entityPath":"orders","mode":"poll"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start: %d %v", w.Code, body)
	}
	if body["streaming"] != true || body["target"] != "orders" || body["mode"] != "poll" {
		t.Fatalf("start body: %v", body)
	}

	_, body = doJSON(t, s, http.MethodGet, "/v1/stream/status", "")
	if body["streaming"] != true || body["state"] != "streaming" || body["target"] != "orders" {
		t.Fatalf("status while streaming: %v", body)
	}

	w, body = doJSON(t, s, http.MethodPost, "/v1/stream/stop", "")
	if w.Code != http.StatusOK || body["streaming"] != false {
		t.Fatalf("stop: %d %v", w.Code, body)
	}

	_, body = doJSON(t, s, http.MethodGet, "/v1/stream/status", "")
	if body["streaming"] != false || body["state"] != "idle" {
		t.Fatalf("status after stop: %v", body)
	}
}

func TestStartValidation(t *testing.T) {
	s := newTestServer(t, memory.New(), nil)

	w, _ := doJSON(t, s, http.MethodGet, "/v1/stream/start", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET start: %d", w.Code)
	}
	w, _ = doJSON(t, s, http.MethodPost, "/v1/stream/start", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad body: %d", w.Code)
	}
	w, _ = doJSON(t, s, http.MethodPost, "/v1/stream/start", `{"entityPath":"","mode":"poll"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty entity: %d", w.Code)
	}
	w, _ = doJSON(t, s, http.MethodPost, "/v1/stream/start", `{"entityPath":"q","mode":"teleport"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad mode: %d", w.Code)
	}
	// Unknown entity: the broker rejects receiver creation.
	w, _ = doJSON(t, s, http.MethodPost, "/v1/stream/start", `{"entityPath":"missing"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("unknown entity: %d", w.Code)
	}
}

func TestCapturesDisabled(t *testing.T) {
	s := newTestServer(t, memory.New(), nil)
	w, _ := doJSON(t, s, http.MethodGet, "/v1/captures", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("captures without recorder: %d", w.Code)
	}
}

func TestCapturesListingAndRead(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	rec := capture.NewRecorder(db)
	for i := 0; i < 3; i++ {
		if _, err := rec.Record("orders", time.Now(), []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	s := newTestServer(t, memory.New(), rec)

	w, body := doJSON(t, s, http.MethodGet, "/v1/captures", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	entities, _ := body["entities"].([]any)
	if len(entities) != 1 || entities[0] != "orders" {
		t.Fatalf("entities: %v", body)
	}

	w, body = doJSON(t, s, http.MethodGet, "/v1/captures?entity=orders&limit=2&reverse=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("read: %d", w.Code)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries: %v", body)
	}
	first, _ := entries[0].(map[string]any)
	if first["seq"] != float64(3) {
		t.Fatalf("reverse order: %v", entries)
	}

	w, _ = doJSON(t, s, http.MethodGet, "/v1/captures?entity=orders&from=oops", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad from: %d", w.Code)
	}
}

// sseRecorder is a flushable, mutex-guarded ResponseWriter so the test can
// read the body while the handler goroutine is still streaming.
type sseRecorder struct {
	mu     sync.Mutex
	header http.Header
	buf    bytes.Buffer
}

func newSSERecorder() *sseRecorder { return &sseRecorder{header: http.Header{}} }

func (r *sseRecorder) Header() http.Header  { return r.header }
func (r *sseRecorder) WriteHeader(code int) {}
func (r *sseRecorder) Flush()               {}

func (r *sseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *sseRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func TestEventsSSE(t *testing.T) {
	b := memory.New()
	b.CreateQueue("q")
	b.Send("q", broker.Message{ID: "m1", Body: []byte("hello")})
	s := newTestServer(t, b, nil)

	rctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/stream/events", nil).WithContext(rctx)
	w := newSSERecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.srv.Handler.ServeHTTP(w, req)
	}()

	// Give the SSE subscriber time to register before events flow.
	time.Sleep(20 * time.Millisecond)
	if _, body := doJSON(t, s, http.MethodPost, "/v1/stream/start", `{"entityPath":"q"}`); body["streaming"] != true {
		t.Fatalf("start: %v", body)
	}

	deadline := time.After(2 * time.Second)
	for {
		out := w.String()
		if strings.Contains(out, "event: status") && strings.Contains(out, "event: message") && strings.Contains(out, `"id":"m1"`) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("SSE output incomplete: %q", w.String())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("SSE handler did not exit on disconnect")
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
}
