package scribe

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/harunnryd/scribe/pkg/transports/websocket"
	"github.com/spf13/viper"
)

type Config struct {
	Server        websocket.Config    `mapstructure:"server"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Capture       CaptureConfig       `mapstructure:"capture"`
	Session       SessionConfig       `mapstructure:"session"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Live          LiveConfig          `mapstructure:"live"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	LiveSTT     VendorConfig `mapstructure:"live_stt"`
	Transcoder  VendorConfig `mapstructure:"transcoder"`
	Transcriber VendorConfig `mapstructure:"transcriber"`
	Summarizer  VendorConfig `mapstructure:"summarizer"`
}

// AudioConfig describes the PCM every client is expected to stream and the
// parameters of the compressed artifact.
type AudioConfig struct {
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
	Bitrate    string `mapstructure:"bitrate"`
	Language   string `mapstructure:"language"`
}

type CaptureConfig struct {
	Dir        string `mapstructure:"dir"`
	BufferSize int    `mapstructure:"buffer_size"`
	// RetentionDays of zero keeps artifacts forever.
	RetentionDays int `mapstructure:"retention_days"`
}

type SessionConfig struct {
	QueueSize      int `mapstructure:"queue_size"`
	DrainTimeoutMS int `mapstructure:"drain_timeout_ms"`
}

type PipelineConfig struct {
	Retries        int `mapstructure:"retries"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
	StageTimeoutMS int `mapstructure:"stage_timeout_ms"`
}

type LiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ObservabilityConfig struct {
	Prometheus bool   `mapstructure:"prometheus"`
	JSONLPath  string `mapstructure:"jsonl_path"`
	// Timeline and Usage write timeline.jsonl and usage.json into each
	// session directory.
	Timeline  bool `mapstructure:"timeline"`
	Usage     bool `mapstructure:"usage"`
	Latency   bool `mapstructure:"latency"`
	LogEvents bool `mapstructure:"log_events"`
	// LogSampleRate thins the debug event mirror; 1 logs every event.
	LogSampleRate float64 `mapstructure:"log_sample_rate"`
	// EventBuffer sizes the async observer queue.
	EventBuffer int `mapstructure:"event_buffer"`
}

type PrivacyConfig struct {
	// RedactTranscripts masks personal data in logged and traced transcript
	// text. Transcript artifacts are stored verbatim.
	RedactTranscripts bool `mapstructure:"redact_transcripts"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.allow_any_origin", true)
	v.SetDefault("server.read_limit", 1<<20)
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.bitrate", "192k")
	v.SetDefault("audio.language", "ja")
	v.SetDefault("capture.dir", "captures")
	v.SetDefault("capture.buffer_size", 64*1024)
	v.SetDefault("capture.retention_days", 0)
	v.SetDefault("session.queue_size", 64)
	v.SetDefault("session.drain_timeout_ms", 120000)
	v.SetDefault("pipeline.retries", 0)
	v.SetDefault("pipeline.retry_backoff_ms", 500)
	v.SetDefault("pipeline.stage_timeout_ms", 0)
	v.SetDefault("vendors.transcoder.provider", "ffmpeg")
	v.SetDefault("live.enabled", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("observability.prometheus", true)
	v.SetDefault("observability.jsonl_path", "")
	v.SetDefault("observability.timeline", true)
	v.SetDefault("observability.usage", true)
	v.SetDefault("observability.latency", true)
	v.SetDefault("observability.log_events", false)
	v.SetDefault("observability.log_sample_rate", 1.0)
	v.SetDefault("observability.event_buffer", 1024)
	v.SetDefault("privacy.redact_transcripts", false)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	// The server speaks the same PCM format the sessions capture.
	cfg.Server.SampleRate = cfg.Audio.SampleRate
	cfg.Server.Channels = cfg.Audio.Channels

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels)
	}
	if strings.TrimSpace(c.Capture.Dir) == "" {
		return fmt.Errorf("capture.dir is required")
	}
	if c.Capture.RetentionDays < 0 {
		return fmt.Errorf("capture.retention_days must not be negative")
	}
	if c.Pipeline.Retries < 0 {
		return fmt.Errorf("pipeline.retries must not be negative")
	}
	if strings.TrimSpace(c.Vendors.Transcoder.Provider) == "" {
		return fmt.Errorf("vendors.transcoder.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Transcriber.Provider) == "" {
		return fmt.Errorf("vendors.transcriber.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Summarizer.Provider) == "" {
		return fmt.Errorf("vendors.summarizer.provider is required")
	}
	if c.Live.Enabled && strings.TrimSpace(c.Vendors.LiveSTT.Provider) == "" {
		return fmt.Errorf("vendors.live_stt.provider is required when live.enabled is set")
	}
	if !strings.HasPrefix(c.Server.WebsocketPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WebsocketPath)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.LiveSTT.Settings = expandSettings(cfg.Vendors.LiveSTT.Settings)
	cfg.Vendors.Transcoder.Settings = expandSettings(cfg.Vendors.Transcoder.Settings)
	cfg.Vendors.Transcriber.Settings = expandSettings(cfg.Vendors.Transcriber.Settings)
	cfg.Vendors.Summarizer.Settings = expandSettings(cfg.Vendors.Summarizer.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
