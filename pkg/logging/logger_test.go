package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
}

func TestComponentAndSessionAttributes(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	base := initLogger(&buf, Config{Level: "info", Format: "json"})
	logger := NewSessionLogger(NewComponentLogger(base, "session"), "abc")
	logger.Info("session_accepted")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["component"] != "session" || rec["session_id"] != "abc" {
		t.Fatalf("unexpected attributes: %v", rec)
	}
	if rec["msg"] != "session_accepted" {
		t.Fatalf("unexpected message: %v", rec["msg"])
	}
}
