package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level monitor configuration loaded from file/env.
type Config struct {
	// Endpoint is the broker connection string, or "memory:" for the
	// in-process demo broker.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// HTTPAddr is the monitor server listen address.
	HTTPAddr string        `json:"httpAddr" yaml:"httpAddr"`
	Stream   StreamConfig  `json:"stream" yaml:"stream"`
	Capture  CaptureConfig `json:"capture" yaml:"capture"`
}

// StreamConfig carries engine tunables, in milliseconds where durations are
// involved so the file form stays unit-free.
type StreamConfig struct {
	PeekBatch        int `json:"peekBatch" yaml:"peekBatch"`
	PeekTimeoutMs    int `json:"peekTimeoutMs" yaml:"peekTimeoutMs"`
	PollIntervalMs   int `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	ErrorBackoffMs   int `json:"errorBackoffMs" yaml:"errorBackoffMs"`
	StopGraceMs      int `json:"stopGraceMs" yaml:"stopGraceMs"`
	SubscriberBuffer int `json:"subscriberBuffer" yaml:"subscriberBuffer"`
}

// PeekTimeout returns the configured peek timeout as a duration.
func (s StreamConfig) PeekTimeout() time.Duration {
	return time.Duration(s.PeekTimeoutMs) * time.Millisecond
}

// PollInterval returns the configured poll interval as a duration.
func (s StreamConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// ErrorBackoff returns the configured error backoff as a duration.
func (s StreamConfig) ErrorBackoff() time.Duration {
	return time.Duration(s.ErrorBackoffMs) * time.Millisecond
}

// StopGrace returns the configured stop grace period as a duration.
func (s StreamConfig) StopGrace() time.Duration {
	return time.Duration(s.StopGraceMs) * time.Millisecond
}

// CaptureConfig controls local message capture.
type CaptureConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// MaxBytes caps the stored bytes per captured entity. Zero disables
	// trimming.
	MaxBytes int64 `json:"maxBytes" yaml:"maxBytes"`
}

// Default returns built-in defaults matching the engine's reference
// constants.
func Default() Config {
	return Config{
		Endpoint: "memory:",
		HTTPAddr: ":8080",
		Stream: StreamConfig{
			PeekBatch:        10,
			PeekTimeoutMs:    30_000,
			PollIntervalMs:   1_000,
			ErrorBackoffMs:   5_000,
			StopGraceMs:      5_000,
			SubscriberBuffer: 256,
		},
		Capture: CaptureConfig{
			Enabled:  true,
			MaxBytes: 64 << 20,
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
