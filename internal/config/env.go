package config

import (
	"os"
	"strconv"
)

// FromEnv overlays BUSLANE_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("BUSLANE_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("BUSLANE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	overlayInt("BUSLANE_STREAM_PEEK_BATCH", &cfg.Stream.PeekBatch)
	overlayInt("BUSLANE_STREAM_PEEK_TIMEOUT_MS", &cfg.Stream.PeekTimeoutMs)
	overlayInt("BUSLANE_STREAM_POLL_INTERVAL_MS", &cfg.Stream.PollIntervalMs)
	overlayInt("BUSLANE_STREAM_ERROR_BACKOFF_MS", &cfg.Stream.ErrorBackoffMs)
	overlayInt("BUSLANE_STREAM_STOP_GRACE_MS", &cfg.Stream.StopGraceMs)
	overlayInt("BUSLANE_STREAM_SUBSCRIBER_BUFFER", &cfg.Stream.SubscriberBuffer)
	if v := os.Getenv("BUSLANE_CAPTURE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Capture.Enabled = b
		}
	}
	if v := os.Getenv("BUSLANE_CAPTURE_DATA_DIR"); v != "" {
		cfg.Capture.DataDir = v
	}
	if v := os.Getenv("BUSLANE_CAPTURE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Capture.MaxBytes = n
		}
	}
}

func overlayInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
