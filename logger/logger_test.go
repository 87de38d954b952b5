package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "production", "info")
	log.WithField("record_id", 7).Info("processed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "processed" {
		t.Fatalf("msg = %v", entry["msg"])
	}
	if entry["service"] != "audio-converter" {
		t.Fatalf("service = %v", entry["service"])
	}
	if entry["record_id"] != float64(7) {
		t.Fatalf("record_id = %v", entry["record_id"])
	}
}

func TestNewWithOutputLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "staging", "warn")
	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info line written at warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}
