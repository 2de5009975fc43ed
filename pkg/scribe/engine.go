package scribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/harunnryd/scribe/pkg/adapters/stt"
	"github.com/harunnryd/scribe/pkg/capture"
	"github.com/harunnryd/scribe/pkg/configutil"
	"github.com/harunnryd/scribe/pkg/frames"
	"github.com/harunnryd/scribe/pkg/logging"
	"github.com/harunnryd/scribe/pkg/metrics"
	"github.com/harunnryd/scribe/pkg/observers"
	"github.com/harunnryd/scribe/pkg/pipeline"
	"github.com/harunnryd/scribe/pkg/redact"
	"github.com/harunnryd/scribe/pkg/resilience"
	"github.com/harunnryd/scribe/pkg/runner"
	"github.com/harunnryd/scribe/pkg/session"
	"github.com/harunnryd/scribe/pkg/transports/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Logger    *slog.Logger
	// Observers receive every event in addition to the configured sinks.
	Observers []metrics.Observer
	// Banner receives the startup banner. Nil writes to stdout.
	Banner io.Writer

	OnLiveTranscript func(frames.TranscriptFrame)
	OnReport         func(session.Report)
}

// Engine owns every long-lived component of one scribe process.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	providers *ProviderRegistry

	ctx    context.Context
	cancel context.CancelFunc

	arena    *capture.Arena
	pipeline *pipeline.Runner
	manager  *session.Manager
	server   *websocket.Server
	runner   *runner.LifecycleRunner

	observer metrics.Observer
	async    *metrics.AsyncObserver
	jsonl    *metrics.JSONLObserver
	timeline *observers.TimelineObserver
	registry *prometheus.Registry
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
		RegisterDefaultProviders(providers)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "engine"),
		providers: providers,
		ctx:       ctx,
		cancel:    cancel,
	}
	if err := e.build(opts, logger); err != nil {
		cancel()
		e.closeObservers()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(opts EngineOptions, logger *slog.Logger) error {
	cfg := e.cfg
	redact.SetEnabled(cfg.Privacy.RedactTranscripts)

	arena, err := capture.NewArena(cfg.Capture.Dir)
	if err != nil {
		return fmt.Errorf("capture arena: %w", err)
	}
	e.arena = arena
	if err := e.buildObservers(opts.Observers, logger); err != nil {
		return err
	}

	transcoder, err := e.providers.BuildTranscoder(cfg.Vendors.Transcoder.Provider, cfg, logger)
	if err != nil {
		return err
	}
	transcriber, err := e.providers.BuildTranscriber(cfg.Vendors.Transcriber.Provider, cfg, logger)
	if err != nil {
		return err
	}
	summarizer, err := e.providers.BuildSummarizer(cfg.Vendors.Summarizer.Provider, cfg, logger)
	if err != nil {
		return err
	}
	retry := resilience.RetryPolicy{}
	if cfg.Pipeline.Retries > 0 {
		retry = resilience.NewRetryPolicy(cfg.Pipeline.Retries, configutil.Millis(cfg.Pipeline.RetryBackoffMS, 500*time.Millisecond))
	}
	e.pipeline, err = pipeline.NewRunner(pipeline.Config{
		Transcoder:   transcoder,
		Transcriber:  transcriber,
		Summarizer:   summarizer,
		Retry:        retry,
		StageTimeout: configutil.Millis(cfg.Pipeline.StageTimeoutMS, 0),
		Observer:     e.observer,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	var live stt.Factory
	if cfg.Live.Enabled {
		live, err = e.providers.BuildLiveSTTFactory(cfg.Vendors.LiveSTT.Provider, cfg, logger)
		if err != nil {
			return err
		}
	}

	e.manager, err = session.NewManager(e.ctx, session.Config{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		Bitrate:     cfg.Audio.Bitrate,
		Language:    cfg.Audio.Language,
		QueueSize:   cfg.Session.QueueSize,
		BufferSize:  cfg.Capture.BufferSize,
		LiveEnabled: cfg.Live.Enabled,
	}, session.Services{
		Arena:            arena,
		LiveSTT:          live,
		Pipeline:         e.pipeline,
		Observer:         e.observer,
		Logger:           logger,
		OnLiveTranscript: opts.OnLiveTranscript,
		OnReport:         opts.OnReport,
	})
	if err != nil {
		return err
	}

	serverOpts := []websocket.Option{websocket.WithLogger(logger)}
	if e.registry != nil {
		serverOpts = append(serverOpts, websocket.WithMetricsHandler(e.MetricsHandler()))
	}
	e.server = websocket.New(cfg.Server, e.manager, serverOpts...)

	e.runner = runner.NewLifecycleRunner(
		runner.DrainerFunc(e.manager.Drain),
		runner.Hooks{OnStart: e.start, OnStop: e.stopServer},
		configutil.Millis(cfg.Session.DrainTimeoutMS, 2*time.Minute),
	).WithLogger(e.logger)
	if opts.Banner != nil {
		e.runner.WithBanner(opts.Banner)
	}
	return nil
}

func (e *Engine) buildObservers(extra []metrics.Observer, logger *slog.Logger) error {
	obs := e.cfg.Observability
	sinks := append([]metrics.Observer(nil), extra...)
	if obs.Latency {
		sinks = append(sinks, observers.NewLatencyObserver(logging.NewComponentLogger(logger, "latency")))
	}
	if obs.LogEvents {
		var mirror metrics.Observer = observers.NewLoggerObserver(logger)
		if obs.LogSampleRate > 0 && obs.LogSampleRate < 1 {
			mirror = metrics.NewSamplingObserver(mirror, obs.LogSampleRate)
		}
		sinks = append(sinks, mirror)
	}
	if obs.Timeline {
		e.timeline = observers.NewTimelineObserver(e.arena.SessionDir)
		sinks = append(sinks, e.timeline)
	}
	if obs.Usage {
		sinks = append(sinks, observers.NewUsageObserver(e.arena.SessionDir, e.cfg.Audio.SampleRate, e.cfg.Audio.Channels))
	}
	if obs.Prometheus {
		e.registry = prometheus.NewRegistry()
		e.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		prom, err := metrics.NewPrometheusObserver(e.registry)
		if err != nil {
			return fmt.Errorf("prometheus observer: %w", err)
		}
		sinks = append(sinks, prom)
	}
	if path := obs.JSONLPath; path != "" {
		jsonl, err := metrics.OpenJSONLObserver(path)
		if err != nil {
			return fmt.Errorf("jsonl observer: %w", err)
		}
		e.jsonl = jsonl
		sinks = append(sinks, jsonl)
	}
	if len(sinks) == 0 {
		e.observer = metrics.NoopObserver{}
		return nil
	}
	e.async = metrics.NewAsyncObserver(metrics.NewMultiObserver(sinks...), obs.EventBuffer,
		metrics.EventSessionClosed, metrics.EventPipelineDone, metrics.EventSummaryProduced)
	e.observer = e.async
	return nil
}

func (e *Engine) start(ctx context.Context) error {
	if days := e.cfg.Capture.RetentionDays; days > 0 {
		removed, err := e.arena.Purge(time.Duration(days) * 24 * time.Hour)
		if err != nil {
			e.logger.Warn("capture_purge_failed", slog.String("error", err.Error()))
		} else if removed > 0 {
			e.logger.Info("capture_purged", slog.Int("removed", removed), slog.Int("retention_days", days))
		}
	}
	if err := e.server.Start(ctx); err != nil {
		return err
	}
	args := []any{slog.String("capture_dir", e.arena.Root()), slog.Bool("live", e.cfg.Live.Enabled)}
	for k, v := range e.server.ReadyFields() {
		args = append(args, slog.Any(k, v))
	}
	e.logger.Info("engine_ready", args...)
	return nil
}

// stopServer closes every connection so open sessions finalize their
// captures; the drainer then waits for their pipelines.
func (e *Engine) stopServer() {
	e.logger.Info("engine_draining", slog.Int("active_sessions", e.manager.Active()))
	if err := e.server.Stop(); err != nil {
		e.logger.Warn("transport_stop_failed", slog.String("error", err.Error()))
	}
}

// Run serves until ctx is cancelled or Stop is called, then drains sessions
// and flushes observers. Pipelines still running after the drain timeout are
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	err := e.runner.Run(ctx)
	e.cancel()
	e.closeObservers()
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("engine_stopped", slog.String("error", err.Error()))
		return err
	}
	e.logger.Info("engine_stopped")
	return nil
}

func (e *Engine) Stop() error {
	return e.runner.Stop()
}

func (e *Engine) closeObservers() {
	if e.async != nil {
		e.async.Close()
		if dropped := e.async.Dropped(); dropped > 0 {
			e.logger.Warn("metrics_events_dropped", slog.Int64("dropped", dropped))
		}
	}
	if e.jsonl != nil {
		if err := e.jsonl.Close(); err != nil {
			e.logger.Warn("jsonl_close_failed", slog.String("error", err.Error()))
		}
	}
	if e.timeline != nil {
		if err := e.timeline.Close(); err != nil {
			e.logger.Warn("timeline_close_failed", slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) Config() Config                      { return e.cfg }
func (e *Engine) Manager() *session.Manager           { return e.manager }
func (e *Engine) Server() *websocket.Server           { return e.server }
func (e *Engine) Pipeline() *pipeline.Runner          { return e.pipeline }
func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }
func (e *Engine) State() runner.State                 { return e.runner.State() }

// MetricsHandler serves the Prometheus registry, or nil when disabled.
func (e *Engine) MetricsHandler() http.Handler {
	if e.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
