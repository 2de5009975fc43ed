package openai

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/harunnryd/scribe/pkg/adapters/summarize"
	"github.com/harunnryd/scribe/pkg/errorsx"
	"github.com/harunnryd/scribe/pkg/logging"
	"github.com/harunnryd/scribe/pkg/resilience"
	openai "github.com/sashabaranov/go-openai"
)

type SummarizerConfig struct {
	ClientConfig
	Model       string
	Instruction string
	MaxTokens   int
	Temperature float32
	Breaker     *resilience.CircuitBreaker
	Logger      *slog.Logger
}

// Summarizer asks a chat model for a summary of a finished transcript.
type Summarizer struct {
	cfg    SummarizerConfig
	cli    *openai.Client
	logger *slog.Logger
}

func NewSummarizer(cfg SummarizerConfig) *Summarizer {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if strings.TrimSpace(cfg.Instruction) == "" {
		cfg.Instruction = summarize.DefaultInstruction
	}
	return &Summarizer{
		cfg:    cfg,
		cli:    newClient(cfg.ClientConfig),
		logger: logging.NewComponentLogger(cfg.Logger, "openai_summarizer"),
	}
}

func (s *Summarizer) Name() string { return "openai_summarizer" }

func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: s.cfg.Instruction,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: transcript,
			},
		},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}

	var resp openai.ChatCompletionResponse
	err := s.cfg.Breaker.Execute(func() error {
		var err error
		resp, err = s.cli.CreateChatCompletion(ctx, req)
		return classify(err, errorsx.ReasonSummarize)
	})
	if err != nil {
		s.logger.Error("summary_failed", slog.String("error", err.Error()))
		return "", classify(err, errorsx.ReasonSummarize)
	}
	if len(resp.Choices) == 0 {
		return "", errorsx.Wrap(errors.New("no summary choices returned"), errorsx.ReasonSummarize)
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	s.logger.Info("summary_done",
		slog.Int("chars", len(summary)),
		slog.Int("total_tokens", resp.Usage.TotalTokens))
	return summary, nil
}

var _ summarize.Summarizer = (*Summarizer)(nil)
