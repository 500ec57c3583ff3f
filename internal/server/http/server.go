package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/soliktomasz/BusLane-sub000/internal/capture"
	"github.com/soliktomasz/BusLane-sub000/internal/livestream"
	logpkg "github.com/soliktomasz/BusLane-sub000/pkg/log"
)

// Server serves the monitor HTTP API.
type Server struct {
	eng    *livestream.Engine
	rec    *capture.Recorder // nil when capture is disabled
	srv    *http.Server
	lis    net.Listener
	logger logpkg.Logger
}

// New builds a Server around an engine and an optional capture recorder.
func New(eng *livestream.Engine, rec *capture.Recorder, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.Nop()
	}
	mux := http.NewServeMux()
	s := &Server{eng: eng, rec: rec, logger: logger.With(logpkg.Component("http")), srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/stream/start", s.handleStart)
	mux.HandleFunc("/v1/stream/stop", s.handleStop)
	mux.HandleFunc("/v1/stream/status", s.handleStatus)
	mux.HandleFunc("/v1/stream/events", s.handleEventsSSE)
	mux.HandleFunc("/v1/captures", s.handleCaptures)
	return s
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close force-closes the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startReq struct {
	EntityPath   string `json:"entityPath"`
	Subscription string `json:"subscription"`
	DeadLetter   bool   `json:"deadLetter"`
	Mode         string `json:"mode"`
	Filter       string `json:"filter"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode, err := livestream.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	target := livestream.Target{
		EntityPath:   req.EntityPath,
		Subscription: req.Subscription,
		DeadLetter:   req.DeadLetter,
	}
	if err := target.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.eng.StartStream(r.Context(), target, mode, livestream.WithFilter(req.Filter)); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streaming": true, "target": target.String(), "mode": mode.String()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.eng.StopStream(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streaming": false})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	target, mode, streaming := s.eng.Active()
	resp := map[string]any{
		"state":     s.eng.State().String(),
		"streaming": streaming,
	}
	if streaming {
		resp["target"] = target.String()
		resp["mode"] = mode.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEventsSSE streams hub events as Server-Sent Events until the client
// disconnects.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.eng.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, more := <-sub.Events():
			if !more {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev livestream.Event) error {
	var name string
	var data any
	switch ev.Kind {
	case livestream.EventMessage:
		name, data = "message", ev.Message
	case livestream.EventStatus:
		name, data = "status", map[string]bool{"streaming": ev.Streaming}
	case livestream.EventError:
		name, data = "error", map[string]string{"error": ev.Err.Error()}
	default:
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + name + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

type captureEntry struct {
	Seq          uint64          `json:"seq"`
	ReceivedAtMs int64           `json:"receivedAtMs"`
	Message      json.RawMessage `json:"message"`
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if s.rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "capture disabled"})
		return
	}
	q := r.URL.Query()
	entity := q.Get("entity")
	if entity == "" {
		entities, err := s.rec.Entities()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
		return
	}
	var opts capture.ReadOptions
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts.FromSeq = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts.Limit = n
	}
	opts.Reverse = q.Get("reverse") == "true"
	entries, err := s.rec.Read(entity, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]captureEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, captureEntry{Seq: e.Seq, ReceivedAtMs: e.ReceivedAtMs, Message: json.RawMessage(e.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": entity, "entries": out})
}
