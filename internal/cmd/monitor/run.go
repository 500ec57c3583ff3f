package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/soliktomasz/BusLane-sub000/internal/broker"
	"github.com/soliktomasz/BusLane-sub000/internal/broker/azsb"
	"github.com/soliktomasz/BusLane-sub000/internal/broker/memory"
	"github.com/soliktomasz/BusLane-sub000/internal/capture"
	cfgpkg "github.com/soliktomasz/BusLane-sub000/internal/config"
	"github.com/soliktomasz/BusLane-sub000/internal/livestream"
	httpserver "github.com/soliktomasz/BusLane-sub000/internal/server/http"
	pebblestore "github.com/soliktomasz/BusLane-sub000/internal/storage/pebble"
	logpkg "github.com/soliktomasz/BusLane-sub000/pkg/log"
)

// Options for the monitor process.
type Options struct {
	Config  cfgpkg.Config
	DataDir string
	Logger  logpkg.Logger
}

// Run starts the monitor server and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	cfg := opts.Config

	dial, err := NewDialer(cfg.Endpoint, logger)
	if err != nil {
		return err
	}

	eng := livestream.New(dial, livestream.Options{
		PeekBatch:        cfg.Stream.PeekBatch,
		PeekTimeout:      cfg.Stream.PeekTimeout(),
		PollInterval:     cfg.Stream.PollInterval(),
		ErrorBackoff:     cfg.Stream.ErrorBackoff(),
		StopGrace:        cfg.Stream.StopGrace(),
		SubscriberBuffer: cfg.Stream.SubscriberBuffer,
		Logger:           logger,
	})
	defer eng.Close()

	var rec *capture.Recorder
	var wg sync.WaitGroup
	if cfg.Capture.Enabled {
		dataDir := cfg.Capture.DataDir
		if dataDir == "" {
			dataDir = opts.DataDir
		}
		if dataDir == "" {
			dataDir = cfgpkg.DefaultDataDir()
		}
		db, derr := pebblestore.Open(pebblestore.Options{
			DataDir: filepath.Join(dataDir, "captures"),
			Fsync:   pebblestore.FsyncModeNever,
		})
		if derr != nil {
			return fmt.Errorf("open capture store: %w", derr)
		}
		defer db.Close()
		rec = capture.NewRecorder(db)
		wg.Add(1)
		go func() {
			defer wg.Done()
			recordLoop(eng, rec, cfg.Capture.MaxBytes, logger.With(logpkg.Component("capture")))
		}()
	}

	logger.Info("starting buslane monitor",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("endpoint", redactEndpoint(cfg.Endpoint)),
		logpkg.Bool("capture", cfg.Capture.Enabled))

	hsrv := httpserver.New(eng, rec, logger)
	err = hsrv.ListenAndServe(sctx, cfg.HTTPAddr)

	// Close the engine before waiting: closing the hub ends recordLoop.
	_ = eng.Close()
	wg.Wait()
	if err != nil && sctx.Err() == nil {
		return err
	}
	return nil
}

// NewDialer picks a broker dialer for the endpoint. "memory:" runs the
// in-process demo broker with a small traffic generator.
func NewDialer(endpoint string, logger logpkg.Logger) (broker.DialFunc, error) {
	switch {
	case endpoint == "":
		return nil, fmt.Errorf("monitor: endpoint is empty")
	case strings.HasPrefix(endpoint, "memory:"):
		b := memory.New()
		seedDemo(b)
		return b.Dial, nil
	default:
		return azsb.Dialer(endpoint), nil
	}
}

// seedDemo creates demo entities and starts a background traffic generator
// that keeps sending until the process exits.
func seedDemo(b *memory.Broker) {
	b.CreateQueue("demo")
	b.CreateSubscription("orders", "audit")
	go func() {
		for i := 0; ; i++ {
			body, _ := json.Marshal(map[string]any{"n": i, "at": time.Now().UTC().Format(time.RFC3339)})
			msg := broker.Message{
				ID:          uuid.NewString(),
				ContentType: "application/json",
				Body:        body,
				Properties:  map[string]any{"source": "demo"},
			}
			b.Send("demo", msg)
			if i%3 == 0 {
				b.Send("orders", msg)
			}
			time.Sleep(2 * time.Second)
		}
	}()
}

// recordLoop copies emitted live messages into the capture store until the
// engine's hub closes.
func recordLoop(eng *livestream.Engine, rec *capture.Recorder, maxBytes int64, logger logpkg.Logger) {
	sub := eng.Subscribe()
	defer sub.Close()
	written := 0
	for ev := range sub.Events() {
		if ev.Kind != livestream.EventMessage || ev.Message == nil {
			continue
		}
		entity := captureEntity(*ev.Message)
		payload, err := json.Marshal(ev.Message)
		if err != nil {
			continue
		}
		if _, err := rec.Record(entity, ev.Message.ReceivedAt, payload); err != nil {
			logger.Warn("record capture", logpkg.Str("entity", entity), logpkg.Err(err))
			continue
		}
		written++
		if maxBytes > 0 && written%128 == 0 {
			if _, err := rec.TrimToMaxBytes(entity, maxBytes); err != nil {
				logger.Warn("trim capture", logpkg.Str("entity", entity), logpkg.Err(err))
			}
		}
	}
}

func captureEntity(lm livestream.LiveMessage) string {
	if lm.ParentTopic != "" {
		return lm.ParentTopic + "/Subscriptions/" + lm.SourceName
	}
	return lm.SourceName
}

// redactEndpoint hides credential material in connection strings for logs.
func redactEndpoint(endpoint string) string {
	if i := strings.Index(endpoint, "SharedAccessKey="); i >= 0 {
		return endpoint[:i] + "SharedAccessKey=***"
	}
	return endpoint
}
