package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
		err  bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.err != (err != nil) {
			t.Fatalf("ParseLevel(%q) err = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Fatalf("ParseFormat(json) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Fatalf("ParseFormat empty = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("ParseFormat(xml) accepted")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithLevel(WarnLevel), WithOutput(&buf))
	logger.Info("hidden")
	logger.Warn("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info leaked past warn level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn entry missing: %q", out)
	}
}

func TestJSONOutputFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithFormat(FormatJSON), WithOutput(&buf))
	logger.Info("stream started", Str("entity", "orders"), Int("batch", 10), Err(errors.New("boom")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output not JSON: %v: %q", err, buf.String())
	}
	if entry["msg"] != "stream started" || entry["level"] != "INFO" {
		t.Fatalf("entry: %v", entry)
	}
	if entry["entity"] != "orders" || entry["batch"] != float64(10) {
		t.Fatalf("fields: %v", entry)
	}
	if entry["error"] != "boom" {
		t.Fatalf("error field: %v", entry)
	}
}

func TestWithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithFormat(FormatJSON), WithOutput(&buf)).With(Component("livestream"))
	logger.Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if entry["component"] != "livestream" {
		t.Fatalf("component field missing: %v", entry)
	}
}

func TestNopLoggerIsSilent(t *testing.T) {
	logger := Nop()
	logger.Debug("x")
	logger.Info("x")
	logger.Warn("x")
	logger.Error("x")
	if logger.With(Str("k", "v")) == nil {
		t.Fatalf("With returned nil")
	}
}
