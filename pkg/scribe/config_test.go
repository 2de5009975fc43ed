package scribe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scribe.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
vendors:
  transcriber:
    provider: openai
    settings:
      api_key: ${SCRIBE_TEST_OPENAI_KEY}
  summarizer:
    provider: mock
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("SCRIBE_TEST_OPENAI_KEY", "sk-test")
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Audio.SampleRate != 44100 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Audio.Bitrate != "192k" || cfg.Audio.Language != "ja" {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Server.ServerAddr != ":8080" || cfg.Server.WebsocketPath != "/ws" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Server.SampleRate != 44100 || cfg.Server.Channels != 1 {
		t.Fatalf("server audio format not derived from audio section: %+v", cfg.Server)
	}
	if cfg.Vendors.Transcoder.Provider != "ffmpeg" {
		t.Fatalf("expected ffmpeg transcoder by default, got %q", cfg.Vendors.Transcoder.Provider)
	}
	if cfg.Capture.RetentionDays != 0 {
		t.Fatalf("expected retention disabled by default")
	}
	if cfg.Live.Enabled {
		t.Fatalf("expected live channel disabled by default")
	}
	if got := cfg.Vendors.Transcriber.Settings["api_key"]; got != "sk-test" {
		t.Fatalf("expected env expansion in settings, got %v", got)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SCRIBE_TEST_CAPTURE_DIR", "/var/lib/scribe")
	cfg, err := LoadConfig(writeConfig(t, `
server:
  addr: 127.0.0.1:9000
  allowed_origins: ["https://example.com"]
  allow_any_origin: false
audio:
  sample_rate: 16000
  language: en
capture:
  dir: ${SCRIBE_TEST_CAPTURE_DIR}
  retention_days: 7
pipeline:
  retries: 2
live:
  enabled: true
vendors:
  live_stt:
    provider: mock
  transcriber:
    provider: mock
  summarizer:
    provider: mock
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ServerAddr != "127.0.0.1:9000" || cfg.Server.AllowAnyOrigin {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://example.com" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Server.SampleRate != 16000 {
		t.Fatalf("sample rate override lost: %+v %+v", cfg.Audio, cfg.Server)
	}
	if cfg.Capture.Dir != "/var/lib/scribe" {
		t.Fatalf("expected expanded capture dir, got %q", cfg.Capture.Dir)
	}
	if cfg.Capture.RetentionDays != 7 || cfg.Pipeline.Retries != 2 {
		t.Fatalf("unexpected overrides: %+v %+v", cfg.Capture, cfg.Pipeline)
	}
	if !cfg.Live.Enabled || cfg.Vendors.LiveSTT.Provider != "mock" {
		t.Fatalf("expected live channel enabled with mock provider")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"vendors.transcriber.provider": `
vendors:
  summarizer:
    provider: mock
`,
		"vendors.live_stt.provider": `
live:
  enabled: true
vendors:
  transcriber:
    provider: mock
  summarizer:
    provider: mock
`,
		"audio.sample_rate": `
audio:
  sample_rate: -1
vendors:
  transcriber:
    provider: mock
  summarizer:
    provider: mock
`,
	}
	for want, body := range cases {
		_, err := LoadConfig(writeConfig(t, body))
		if err == nil {
			t.Fatalf("expected validation error mentioning %s", want)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error mentioning %s, got %v", want, err)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
