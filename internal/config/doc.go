// Package config provides loading and environment overlay for BusLane's
// monitor configuration. It exposes a Default() baseline, file loading in
// JSON or YAML, and a BUSLANE_* environment overlay.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/buslane.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
