package mock

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/harunnryd/scribe/pkg/adapters/summarize"
	"github.com/harunnryd/scribe/pkg/adapters/transcode"
	"github.com/harunnryd/scribe/pkg/adapters/transcribe"
)

// calls is a goroutine-safe invocation log.
type calls[T any] struct {
	mu   sync.Mutex
	list []T
}

func (c *calls[T]) add(v T) {
	c.mu.Lock()
	c.list = append(c.list, v)
	c.mu.Unlock()
}

func (c *calls[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.list...)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Transcoder copies the raw input behind a fake header so tests can check
// which capture fed which artifact.
type Transcoder struct {
	Err   error
	Delay time.Duration
	calls calls[transcode.Request]
}

func (t *Transcoder) Name() string { return "mock_transcoder" }

func (t *Transcoder) Transcode(ctx context.Context, req transcode.Request) error {
	t.calls.add(req)
	if err := wait(ctx, t.Delay); err != nil {
		return err
	}
	if t.Err != nil {
		return t.Err
	}
	raw, err := os.ReadFile(req.InputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(req.OutputPath, append([]byte("MOCK"), raw...), 0o644)
}

func (t *Transcoder) Calls() []transcode.Request { return t.calls.snapshot() }

// Transcriber returns Text for every file, or Err.
type Transcriber struct {
	Text  string
	Err   error
	Delay time.Duration
	calls calls[transcribe.Request]
}

func (t *Transcriber) Name() string { return "mock_transcriber" }

func (t *Transcriber) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Transcript, error) {
	t.calls.add(req)
	if err := wait(ctx, t.Delay); err != nil {
		return transcribe.Transcript{}, err
	}
	if t.Err != nil {
		return transcribe.Transcript{}, t.Err
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return transcribe.Transcript{}, err
	}
	text := t.Text
	if text == "" {
		text = "mock transcript"
	}
	return transcribe.Transcript{
		Text:     text,
		Language: req.Language,
		Segments: []transcribe.Segment{{ID: 0, Start: 0, End: 1, Text: text}},
	}, nil
}

func (t *Transcriber) Calls() []transcribe.Request { return t.calls.snapshot() }

// Summarizer prefixes the transcript with Prefix, or fails with Err.
type Summarizer struct {
	Prefix string
	Err    error
	Delay  time.Duration
	calls  calls[string]
}

func (s *Summarizer) Name() string { return "mock_summarizer" }

func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	s.calls.add(transcript)
	if err := wait(ctx, s.Delay); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	prefix := s.Prefix
	if prefix == "" {
		prefix = "summary: "
	}
	return prefix + transcript, nil
}

func (s *Summarizer) Calls() []string { return s.calls.snapshot() }

var (
	_ transcode.Transcoder   = (*Transcoder)(nil)
	_ transcribe.Transcriber = (*Transcriber)(nil)
	_ summarize.Summarizer   = (*Summarizer)(nil)
)
