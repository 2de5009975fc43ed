package scribe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/harunnryd/scribe/pkg/adapters/stt"
	"github.com/harunnryd/scribe/pkg/adapters/summarize"
	"github.com/harunnryd/scribe/pkg/providers/deepgram"
	"github.com/harunnryd/scribe/pkg/providers/ffmpeg"
	"github.com/harunnryd/scribe/pkg/providers/mock"
	"github.com/harunnryd/scribe/pkg/providers/openai"
)

func defaultRegistry() *ProviderRegistry {
	reg := NewProviderRegistry()
	RegisterDefaultProviders(reg)
	return reg
}

func TestProviderRegistryUnknownProvider(t *testing.T) {
	reg := NewProviderRegistry()
	if _, err := reg.BuildTranscoder("sox", Config{}, nil); err == nil || !strings.Contains(err.Error(), "sox") {
		t.Fatalf("expected not registered error, got %v", err)
	}
	if _, err := reg.BuildLiveSTTFactory("nope", Config{}, nil); err == nil {
		t.Fatalf("expected not registered error")
	}
}

func TestProviderRegistryNamesAreCaseInsensitive(t *testing.T) {
	reg := NewProviderRegistry()
	reg.RegisterSummarizer(" Mock ", func(Config, *slog.Logger) (summarize.Summarizer, error) {
		return &mock.Summarizer{}, nil
	})
	s, err := reg.BuildSummarizer("MOCK", Config{}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s.Name() != "mock_summarizer" {
		t.Fatalf("unexpected summarizer %s", s.Name())
	}
}

func TestDefaultProvidersBuildConcreteAdapters(t *testing.T) {
	reg := defaultRegistry()
	cfg := Config{}
	cfg.Vendors.Transcoder = VendorConfig{Provider: "ffmpeg", Settings: map[string]any{"binary": "/usr/bin/ffmpeg"}}
	cfg.Vendors.Transcriber = VendorConfig{Provider: "openai", Settings: map[string]any{"api_key": "sk", "model": "whisper-1"}}
	cfg.Vendors.Summarizer = VendorConfig{Provider: "openai", Settings: map[string]any{"api_key": "sk", "max_tokens": "256"}}

	tc, err := reg.BuildTranscoder(cfg.Vendors.Transcoder.Provider, cfg, nil)
	if err != nil {
		t.Fatalf("transcoder: %v", err)
	}
	if _, ok := tc.(*ffmpeg.Transcoder); !ok {
		t.Fatalf("expected ffmpeg transcoder, got %T", tc)
	}
	tr, err := reg.BuildTranscriber(cfg.Vendors.Transcriber.Provider, cfg, nil)
	if err != nil {
		t.Fatalf("transcriber: %v", err)
	}
	if _, ok := tr.(*openai.Transcriber); !ok {
		t.Fatalf("expected openai transcriber, got %T", tr)
	}
	sm, err := reg.BuildSummarizer(cfg.Vendors.Summarizer.Provider, cfg, nil)
	if err != nil {
		t.Fatalf("summarizer: %v", err)
	}
	if _, ok := sm.(*openai.Summarizer); !ok {
		t.Fatalf("expected openai summarizer, got %T", sm)
	}
}

func TestDefaultProvidersValidateSettings(t *testing.T) {
	reg := defaultRegistry()

	cfg := Config{}
	cfg.Vendors.Transcriber = VendorConfig{Provider: "openai", Settings: map[string]any{"model": "whisper-1"}}
	if _, err := reg.BuildTranscriber("openai", cfg, nil); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected missing api_key error, got %v", err)
	}

	cfg.Vendors.Transcoder = VendorConfig{Provider: "ffmpeg", Settings: map[string]any{"bitrate": "128k"}}
	if _, err := reg.BuildTranscoder("ffmpeg", cfg, nil); err == nil || !strings.Contains(err.Error(), "unknown: bitrate") {
		t.Fatalf("expected unknown key error, got %v", err)
	}

	cfg.Vendors.LiveSTT = VendorConfig{Provider: "deepgram", Settings: map[string]any{"api_key": "dg", "encoding": "mulaw"}}
	if _, err := reg.BuildLiveSTTFactory("deepgram", cfg, nil); err == nil || !strings.Contains(err.Error(), "linear16") {
		t.Fatalf("expected encoding error, got %v", err)
	}
}

func TestDeepgramFactoryUsesSessionAudioFormat(t *testing.T) {
	reg := defaultRegistry()
	cfg := Config{}
	cfg.Vendors.LiveSTT = VendorConfig{Provider: "deepgram", Settings: map[string]any{"api_key": "dg"}}
	factory, err := reg.BuildLiveSTTFactory("deepgram", cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ch := factory(stt.Config{SessionID: "s1", SampleRate: 16000, Channels: 1, Language: "ja"})
	if _, ok := ch.(*deepgram.StreamingSTT); !ok {
		t.Fatalf("expected deepgram channel, got %T", ch)
	}
	if err := ch.Write([]byte{0, 0}); err == nil {
		t.Fatalf("expected write before start to fail")
	}
	if err := ch.End(); err != nil {
		t.Fatalf("end before start: %v", err)
	}
}

func TestMockLiveFactoryEmitsConfiguredTranscript(t *testing.T) {
	reg := defaultRegistry()
	cfg := Config{}
	cfg.Vendors.LiveSTT = VendorConfig{Provider: "mock", Settings: map[string]any{"transcript": "konnichiwa"}}
	factory, err := reg.BuildLiveSTTFactory("mock", cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ch := factory(stt.Config{SessionID: "s1"})
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ch.Write([]byte{1, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = ch.End()
	var texts []string
	for r := range ch.Results() {
		texts = append(texts, r.Text)
	}
	if len(texts) != 1 || texts[0] != "konnichiwa" {
		t.Fatalf("unexpected results %v", texts)
	}
}
