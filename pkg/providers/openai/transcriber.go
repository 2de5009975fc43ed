package openai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/harunnryd/scribe/pkg/adapters/transcribe"
	"github.com/harunnryd/scribe/pkg/errorsx"
	"github.com/harunnryd/scribe/pkg/logging"
	"github.com/harunnryd/scribe/pkg/resilience"
	openai "github.com/sashabaranov/go-openai"
)

type TranscriberConfig struct {
	ClientConfig
	Model string
	// Prompt biases recognition toward expected vocabulary.
	Prompt  string
	Breaker *resilience.CircuitBreaker
	Logger  *slog.Logger
}

// Transcriber runs batch speech recognition through the audio transcription
// endpoint.
type Transcriber struct {
	cfg    TranscriberConfig
	cli    *openai.Client
	logger *slog.Logger
}

func NewTranscriber(cfg TranscriberConfig) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	return &Transcriber{
		cfg:    cfg,
		cli:    newClient(cfg.ClientConfig),
		logger: logging.NewComponentLogger(cfg.Logger, "openai_transcriber"),
	}
}

func (t *Transcriber) Name() string { return "openai_transcriber" }

func (t *Transcriber) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Transcript, error) {
	var resp openai.AudioResponse
	err := t.cfg.Breaker.Execute(func() error {
		var err error
		resp, err = t.cli.CreateTranscription(ctx, openai.AudioRequest{
			Model:    t.cfg.Model,
			FilePath: req.AudioPath,
			Prompt:   t.cfg.Prompt,
			Language: req.Language,
			Format:   openai.AudioResponseFormatVerboseJSON,
		})
		return classify(err, errorsx.ReasonTranscribe)
	})
	if err != nil {
		t.logger.Error("transcription_failed",
			slog.String("path", req.AudioPath),
			slog.String("error", err.Error()))
		return transcribe.Transcript{}, classify(err, errorsx.ReasonTranscribe)
	}

	out := transcribe.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
	}
	if out.Language == "" {
		out.Language = req.Language
	}
	for _, seg := range resp.Segments {
		out.Segments = append(out.Segments, transcribe.Segment{
			ID:    seg.ID,
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	t.logger.Info("transcription_done",
		slog.String("path", req.AudioPath),
		slog.Int("segments", len(out.Segments)),
		slog.Float64("duration_s", out.Duration))
	return out, nil
}

var _ transcribe.Transcriber = (*Transcriber)(nil)
