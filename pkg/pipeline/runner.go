package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/scribe/pkg/adapters/summarize"
	"github.com/harunnryd/scribe/pkg/adapters/transcode"
	"github.com/harunnryd/scribe/pkg/adapters/transcribe"
	"github.com/harunnryd/scribe/pkg/errorsx"
	"github.com/harunnryd/scribe/pkg/logging"
	"github.com/harunnryd/scribe/pkg/metrics"
	"github.com/harunnryd/scribe/pkg/resilience"
)

// Job is the input of one post-capture run. All paths belong to one session.
type Job struct {
	SessionID      string
	RawPath        string
	CompressedPath string
	TranscriptPath string
	SampleRate     int
	Channels       int
	Bitrate        string
	Language       string
}

// Result keeps every artifact produced before the run stopped.
type Result struct {
	SessionID      string
	State          State
	FailedStage    State
	CompressedPath string
	TranscriptPath string
	Transcript     *transcribe.Transcript
	Summary        string
	Err            error
	Timings        map[State]time.Duration
}

// StageError reports which stage halted the pipeline.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage.String() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

type Config struct {
	Transcoder  transcode.Transcoder
	Transcriber transcribe.Transcriber
	Summarizer  summarize.Summarizer
	// Retry applies to each stage's provider call. The zero value makes a
	// single attempt.
	Retry        resilience.RetryPolicy
	StageTimeout time.Duration
	Observer     metrics.Observer
	Logger       *slog.Logger
}

// Runner executes Transcoding -> Transcribing -> Summarizing for one session
// at a time per call. It holds no per-run state, so runs for different
// sessions may proceed concurrently.
type Runner struct {
	cfg       Config
	logger    *slog.Logger
	mu        sync.RWMutex
	listeners []StateListener
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Transcoder == nil || cfg.Transcriber == nil || cfg.Summarizer == nil {
		return nil, errors.New("pipeline: transcoder, transcriber and summarizer are required")
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoopObserver{}
	}
	return &Runner{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "pipeline"),
	}, nil
}

// AddListener registers a listener for state changes of every run.
func (r *Runner) AddListener(l StateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Run blocks until the pipeline reaches Done or Failed. Extra listeners only
// observe this run.
func (r *Runner) Run(ctx context.Context, job Job, extra ...StateListener) Result {
	r.mu.RLock()
	listeners := append(append([]StateListener(nil), r.listeners...), extra...)
	r.mu.RUnlock()

	m := newMachine(job.SessionID, listeners)
	logger := logging.NewSessionLogger(r.logger, job.SessionID)
	res := Result{
		SessionID: job.SessionID,
		Timings:   make(map[State]time.Duration, 3),
	}

	fail := func(stage State, err error) Result {
		res.State = StateFailed
		res.FailedStage = stage
		res.Err = &StageError{Stage: stage, Err: err}
		_ = m.transition(StateFailed, res.Err)
		logger.Error("pipeline_stage_failed",
			slog.String("stage", stage.String()),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		r.record(metrics.EventPipelineDone, job.SessionID, 0, map[string]string{"state": StateFailed.String(), "stage": stage.String()})
		return res
	}

	// Transcoding
	_ = m.transition(StateTranscoding, nil)
	err := r.stage(ctx, job.SessionID, StateTranscoding, &res, func(ctx context.Context) error {
		return r.transcode(ctx, job)
	})
	if err != nil {
		return fail(StateTranscoding, err)
	}
	res.CompressedPath = job.CompressedPath
	logger.Info("pipeline_transcoded", slog.String("path", job.CompressedPath))

	// Transcribing
	_ = m.transition(StateTranscribing, nil)
	var transcript transcribe.Transcript
	err = r.stage(ctx, job.SessionID, StateTranscribing, &res, func(ctx context.Context) error {
		var err error
		transcript, err = r.cfg.Transcriber.Transcribe(ctx, transcribe.Request{
			AudioPath: job.CompressedPath,
			Language:  job.Language,
		})
		return errorsx.Wrap(err, errorsx.ReasonTranscribe)
	})
	if err != nil {
		return fail(StateTranscribing, err)
	}
	res.Transcript = &transcript
	if job.TranscriptPath != "" {
		if err := writeTranscript(job.TranscriptPath, transcript); err != nil {
			return fail(StateTranscribing, errorsx.Wrap(err, errorsx.ReasonTranscribe))
		}
		res.TranscriptPath = job.TranscriptPath
	}
	logger.Info("pipeline_transcribed",
		slog.Int("chars", len(transcript.Text)),
		slog.Int("segments", len(transcript.Segments)))

	// Summarizing
	_ = m.transition(StateSummarizing, nil)
	var summary string
	err = r.stage(ctx, job.SessionID, StateSummarizing, &res, func(ctx context.Context) error {
		var err error
		summary, err = r.cfg.Summarizer.Summarize(ctx, transcript.Text)
		return errorsx.Wrap(err, errorsx.ReasonSummarize)
	})
	if err != nil {
		return fail(StateSummarizing, err)
	}
	res.Summary = strings.TrimSpace(summary)
	res.State = StateDone
	_ = m.transition(StateDone, nil)

	logger.Info("pipeline_done", slog.Int("summary_chars", len(res.Summary)))
	r.recordFields(metrics.EventSummaryProduced, job.SessionID, float64(len(res.Summary)), nil,
		map[string]any{"summary": res.Summary})
	r.record(metrics.EventPipelineDone, job.SessionID, 0, map[string]string{"state": StateDone.String()})
	return res
}

func (r *Runner) stage(ctx context.Context, sessionID string, stage State, res *Result, fn func(context.Context) error) error {
	start := time.Now()
	err := r.cfg.Retry.DoContext(ctx, func(ctx context.Context) error {
		if r.cfg.StageTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.cfg.StageTimeout)
			defer cancel()
		}
		return fn(ctx)
	})
	elapsed := time.Since(start)
	res.Timings[stage] = elapsed

	tags := map[string]string{"stage": stage.String()}
	if err != nil {
		tags["reason_code"] = string(errorsx.Reason(err))
		r.record(metrics.EventStageFailed, sessionID, elapsed.Seconds(), tags)
		return err
	}
	r.record(metrics.EventStageCompleted, sessionID, elapsed.Seconds(), tags)
	return nil
}

func (r *Runner) transcode(ctx context.Context, job Job) error {
	info, err := os.Stat(job.RawPath)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("raw capture: %w", err), errorsx.ReasonTranscode)
	}
	if info.IsDir() {
		return errorsx.New(errorsx.ReasonTranscode, "raw capture is a directory: "+job.RawPath)
	}
	err = r.cfg.Transcoder.Transcode(ctx, transcode.Request{
		InputPath:   job.RawPath,
		OutputPath:  job.CompressedPath,
		InputFormat: "s16le",
		SampleRate:  job.SampleRate,
		Channels:    job.Channels,
		Bitrate:     job.Bitrate,
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTranscode)
	}
	out, err := os.Stat(job.CompressedPath)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("compressed artifact missing: %w", err), errorsx.ReasonTranscode)
	}
	if out.Size() == 0 {
		return errorsx.New(errorsx.ReasonTranscode, "compressed artifact is empty: "+job.CompressedPath)
	}
	return nil
}

func (r *Runner) record(name, sessionID string, value float64, tags map[string]string) {
	r.recordFields(name, sessionID, value, tags, nil)
}

func (r *Runner) recordFields(name, sessionID string, value float64, tags map[string]string, fields map[string]any) {
	t := map[string]string{"session_id": sessionID}
	for k, v := range tags {
		t[k] = v
	}
	r.cfg.Observer.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   t,
		Fields: fields,
	})
}

// writeTranscript stores the transcript next to the session's other artifacts.
// The file appears atomically via rename.
func writeTranscript(path string, t transcribe.Transcript) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
