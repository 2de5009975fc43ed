package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harunnryd/scribe/pkg/logging"
	"github.com/harunnryd/scribe/pkg/redact"
	"github.com/harunnryd/scribe/pkg/scribe"
	"github.com/harunnryd/scribe/pkg/session"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the scribe config file")
	flag.Parse()

	cfg, err := scribe.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.InitLogger(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("config_loaded",
		slog.String("config_path", *configPath),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("channels", cfg.Audio.Channels),
		slog.String("language", cfg.Audio.Language),
		slog.String("transcoder", cfg.Vendors.Transcoder.Provider),
		slog.String("transcriber", cfg.Vendors.Transcriber.Provider),
		slog.String("summarizer", cfg.Vendors.Summarizer.Provider),
		slog.Bool("live", cfg.Live.Enabled))

	providers := scribe.NewProviderRegistry()
	scribe.RegisterDefaultProviders(providers)

	engine, err := scribe.NewEngine(scribe.EngineOptions{
		Config:    cfg,
		Providers: providers,
		Logger:    logger,
		OnReport:  reportLogger(logger),
	})
	if err != nil {
		logger.Error("engine_init_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			logger.Info("shutdown_signal", slog.String("signal", sig.String()))
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("scribe_exit", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// reportLogger prints each finished session's outcome and summary.
func reportLogger(logger *slog.Logger) func(session.Report) {
	return func(r session.Report) {
		attrs := []any{
			slog.String("session_id", r.SessionID),
			slog.String("raw", r.Paths.Raw),
			slog.Int64("bytes", r.Bytes),
		}
		if r.Err != nil {
			logger.Warn("session_report", append(attrs, slog.String("error", r.Err.Error()))...)
			return
		}
		if r.Result != nil {
			attrs = append(attrs,
				slog.String("compressed", r.Result.CompressedPath),
				slog.String("transcript", r.Result.TranscriptPath),
				slog.String("summary", redact.Text(r.Result.Summary)))
		}
		logger.Info("session_report", attrs...)
	}
}
