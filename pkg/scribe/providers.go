package scribe

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/scribe/pkg/adapters/stt"
	"github.com/harunnryd/scribe/pkg/adapters/summarize"
	"github.com/harunnryd/scribe/pkg/adapters/transcode"
	"github.com/harunnryd/scribe/pkg/adapters/transcribe"
	"github.com/harunnryd/scribe/pkg/configutil"
	"github.com/harunnryd/scribe/pkg/providers/deepgram"
	"github.com/harunnryd/scribe/pkg/providers/ffmpeg"
	"github.com/harunnryd/scribe/pkg/providers/mock"
	"github.com/harunnryd/scribe/pkg/providers/openai"
	"github.com/harunnryd/scribe/pkg/resilience"
)

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	Encoding       string `mapstructure:"encoding"`
	Interim        *bool  `mapstructure:"interim"`
	SmartFormat    *bool  `mapstructure:"smart_format"`
	UtteranceEndMS *int   `mapstructure:"utterance_end_ms"`
}

type ffmpegSettings struct {
	Binary        string `mapstructure:"binary"`
	Codec         string `mapstructure:"codec"`
	GracePeriodMS int    `mapstructure:"grace_period_ms"`
}

type openAIClientSettings struct {
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	TimeoutMS         int    `mapstructure:"timeout_ms"`
	UseCircuitBreaker *bool  `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMs int    `mapstructure:"circuit_cooldown_ms"`
}

type openAITranscriberSettings struct {
	Client openAIClientSettings `mapstructure:",squash"`
	Model  string               `mapstructure:"model"`
	Prompt string               `mapstructure:"prompt"`
}

type openAISummarizerSettings struct {
	Client      openAIClientSettings `mapstructure:",squash"`
	Model       string               `mapstructure:"model"`
	Instruction string               `mapstructure:"instruction"`
	MaxTokens   int                  `mapstructure:"max_tokens"`
	Temperature float32              `mapstructure:"temperature"`
}

type mockSTTSettings struct {
	Transcript        string `mapstructure:"transcript"`
	InterimTranscript string `mapstructure:"interim_transcript"`
	EmitInterim       *bool  `mapstructure:"emit_interim"`
}

type mockPipelineSettings struct {
	Text    string `mapstructure:"text"`
	Prefix  string `mapstructure:"prefix"`
	DelayMS int    `mapstructure:"delay_ms"`
}

// RegisterDefaultProviders installs every vendor shipped with scribe.
func RegisterDefaultProviders(reg *ProviderRegistry) {
	reg.RegisterLiveSTT("deepgram", func(cfg Config, logger *slog.Logger) (stt.Factory, error) {
		const path = "vendors.live_stt.settings"
		var settings deepgramSettings
		schema := configutil.SchemaFor(settings, "api_key")
		if err := configutil.Decode(path, cfg.Vendors.LiveSTT.Settings, schema, &settings); err != nil {
			return nil, err
		}
		encoding := configutil.StringValue(settings.Encoding, "linear16")
		if !strings.EqualFold(encoding, "linear16") {
			return nil, fmt.Errorf("%s.encoding must be linear16, got %s", path, encoding)
		}
		utteranceEnd := configutil.IntValue(settings.UtteranceEndMS, 1000)
		if utteranceEnd < 0 || utteranceEnd > 5000 {
			return nil, fmt.Errorf("%s.utterance_end_ms must be between 0 and 5000, got %d", path, utteranceEnd)
		}
		model := configutil.StringValue(settings.Model, "nova-2")
		interim := configutil.BoolValue(settings.Interim, true)
		smartFormat := configutil.BoolValue(settings.SmartFormat, true)

		return func(sc stt.Config) stt.StreamingSTT {
			return deepgram.New(deepgram.Config{
				APIKey:         settings.APIKey,
				Model:          model,
				Language:       configutil.StringValue(settings.Language, sc.Language),
				SampleRate:     sc.SampleRate,
				Channels:       sc.Channels,
				Encoding:       encoding,
				Interim:        interim,
				SmartFormat:    smartFormat,
				UtteranceEndMS: utteranceEnd,
				SessionID:      sc.SessionID,
				Logger:         logger,
			})
		}, nil
	})

	reg.RegisterLiveSTT("mock", func(cfg Config, _ *slog.Logger) (stt.Factory, error) {
		var settings mockSTTSettings
		schema := configutil.SchemaFor(settings)
		if err := configutil.Decode("vendors.live_stt.settings", cfg.Vendors.LiveSTT.Settings, schema, &settings); err != nil {
			return nil, err
		}
		return func(stt.Config) stt.StreamingSTT {
			return mock.NewSTT(mock.STTConfig{
				Transcript:        settings.Transcript,
				InterimTranscript: settings.InterimTranscript,
				EmitInterim:       configutil.BoolValue(settings.EmitInterim, false),
			})
		}, nil
	})

	reg.RegisterTranscoder("ffmpeg", func(cfg Config, logger *slog.Logger) (transcode.Transcoder, error) {
		var settings ffmpegSettings
		schema := configutil.SchemaFor(settings)
		if err := configutil.Decode("vendors.transcoder.settings", cfg.Vendors.Transcoder.Settings, schema, &settings); err != nil {
			return nil, err
		}
		return ffmpeg.New(ffmpeg.Config{
			Binary:      settings.Binary,
			Codec:       settings.Codec,
			GracePeriod: configutil.Millis(settings.GracePeriodMS, 5*time.Second),
			Logger:      logger,
		}), nil
	})

	reg.RegisterTranscoder("mock", func(cfg Config, _ *slog.Logger) (transcode.Transcoder, error) {
		settings, err := decodeMockPipeline("vendors.transcoder.settings", cfg.Vendors.Transcoder.Settings)
		if err != nil {
			return nil, err
		}
		return &mock.Transcoder{Delay: configutil.Millis(settings.DelayMS, 0)}, nil
	})

	reg.RegisterTranscriber("openai", func(cfg Config, logger *slog.Logger) (transcribe.Transcriber, error) {
		var settings openAITranscriberSettings
		schema := configutil.SchemaFor(settings, "api_key")
		if err := configutil.Decode("vendors.transcriber.settings", cfg.Vendors.Transcriber.Settings, schema, &settings); err != nil {
			return nil, err
		}
		return openai.NewTranscriber(openai.TranscriberConfig{
			ClientConfig: openAIClient(settings.Client),
			Model:        settings.Model,
			Prompt:       settings.Prompt,
			Breaker:      openAIBreaker(settings.Client),
			Logger:       logger,
		}), nil
	})

	reg.RegisterTranscriber("mock", func(cfg Config, _ *slog.Logger) (transcribe.Transcriber, error) {
		settings, err := decodeMockPipeline("vendors.transcriber.settings", cfg.Vendors.Transcriber.Settings)
		if err != nil {
			return nil, err
		}
		return &mock.Transcriber{Text: settings.Text, Delay: configutil.Millis(settings.DelayMS, 0)}, nil
	})

	reg.RegisterSummarizer("openai", func(cfg Config, logger *slog.Logger) (summarize.Summarizer, error) {
		var settings openAISummarizerSettings
		schema := configutil.SchemaFor(settings, "api_key")
		if err := configutil.Decode("vendors.summarizer.settings", cfg.Vendors.Summarizer.Settings, schema, &settings); err != nil {
			return nil, err
		}
		return openai.NewSummarizer(openai.SummarizerConfig{
			ClientConfig: openAIClient(settings.Client),
			Model:        settings.Model,
			Instruction:  settings.Instruction,
			MaxTokens:    settings.MaxTokens,
			Temperature:  settings.Temperature,
			Breaker:      openAIBreaker(settings.Client),
			Logger:       logger,
		}), nil
	})

	reg.RegisterSummarizer("mock", func(cfg Config, _ *slog.Logger) (summarize.Summarizer, error) {
		settings, err := decodeMockPipeline("vendors.summarizer.settings", cfg.Vendors.Summarizer.Settings)
		if err != nil {
			return nil, err
		}
		return &mock.Summarizer{Prefix: settings.Prefix, Delay: configutil.Millis(settings.DelayMS, 0)}, nil
	})
}

func openAIClient(s openAIClientSettings) openai.ClientConfig {
	return openai.ClientConfig{
		APIKey:  s.APIKey,
		BaseURL: s.BaseURL,
		Timeout: configutil.Millis(s.TimeoutMS, 2*time.Minute),
	}
}

func openAIBreaker(s openAIClientSettings) *resilience.CircuitBreaker {
	if !configutil.BoolValue(s.UseCircuitBreaker, true) {
		return nil
	}
	threshold := s.CircuitThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return resilience.NewCircuitBreaker(threshold, configutil.Millis(s.CircuitCooldownMs, 30*time.Second))
}

func decodeMockPipeline(path string, raw map[string]any) (mockPipelineSettings, error) {
	var settings mockPipelineSettings
	err := configutil.Decode(path, raw, configutil.SchemaFor(settings), &settings)
	return settings, err
}
