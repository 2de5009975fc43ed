package scribe

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/scribe/pkg/adapters/stt"
	"github.com/harunnryd/scribe/pkg/adapters/summarize"
	"github.com/harunnryd/scribe/pkg/adapters/transcode"
	"github.com/harunnryd/scribe/pkg/adapters/transcribe"
)

type LiveSTTFactoryBuilder func(cfg Config, logger *slog.Logger) (stt.Factory, error)
type TranscoderFactory func(cfg Config, logger *slog.Logger) (transcode.Transcoder, error)
type TranscriberFactory func(cfg Config, logger *slog.Logger) (transcribe.Transcriber, error)
type SummarizerFactory func(cfg Config, logger *slog.Logger) (summarize.Summarizer, error)

// ProviderRegistry maps vendor names from the config onto constructors.
// Names are matched case-insensitively.
type ProviderRegistry struct {
	liveSTT     map[string]LiveSTTFactoryBuilder
	transcoder  map[string]TranscoderFactory
	transcriber map[string]TranscriberFactory
	summarizer  map[string]SummarizerFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		liveSTT:     make(map[string]LiveSTTFactoryBuilder),
		transcoder:  make(map[string]TranscoderFactory),
		transcriber: make(map[string]TranscriberFactory),
		summarizer:  make(map[string]SummarizerFactory),
	}
}

func (r *ProviderRegistry) RegisterLiveSTT(name string, factory LiveSTTFactoryBuilder) {
	r.liveSTT[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTranscoder(name string, factory TranscoderFactory) {
	r.transcoder[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.transcriber[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterSummarizer(name string, factory SummarizerFactory) {
	r.summarizer[providerKey(name)] = factory
}

func (r *ProviderRegistry) BuildLiveSTTFactory(provider string, cfg Config, logger *slog.Logger) (stt.Factory, error) {
	fn := r.liveSTT[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("live stt provider not registered: %s", provider)
	}
	return fn(cfg, logger)
}

func (r *ProviderRegistry) BuildTranscoder(provider string, cfg Config, logger *slog.Logger) (transcode.Transcoder, error) {
	fn := r.transcoder[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("transcoder provider not registered: %s", provider)
	}
	return fn(cfg, logger)
}

func (r *ProviderRegistry) BuildTranscriber(provider string, cfg Config, logger *slog.Logger) (transcribe.Transcriber, error) {
	fn := r.transcriber[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("transcriber provider not registered: %s", provider)
	}
	return fn(cfg, logger)
}

func (r *ProviderRegistry) BuildSummarizer(provider string, cfg Config, logger *slog.Logger) (summarize.Summarizer, error) {
	fn := r.summarizer[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("summarizer provider not registered: %s", provider)
	}
	return fn(cfg, logger)
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
