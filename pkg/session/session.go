package session

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/scribe/pkg/adapters/stt"
	"github.com/harunnryd/scribe/pkg/audio"
	"github.com/harunnryd/scribe/pkg/capture"
	"github.com/harunnryd/scribe/pkg/errorsx"
	"github.com/harunnryd/scribe/pkg/frames"
	"github.com/harunnryd/scribe/pkg/metrics"
	"github.com/harunnryd/scribe/pkg/pipeline"
	"github.com/harunnryd/scribe/pkg/redact"
	"github.com/harunnryd/scribe/pkg/transports"
)

type eventKind int

const (
	eventFrame eventKind = iota
	eventClose
	eventFlushed
	eventPipelineDone
)

type event struct {
	kind   eventKind
	frame  frames.AudioFrame
	err    error
	flush  capture.Result
	result pipeline.Result
}

// Report is the final account of a session, delivered once after it closes.
type Report struct {
	SessionID string
	Paths     capture.Paths
	Bytes     int64
	Frames    uint64
	State     State
	Err       error
	Result    *pipeline.Result
	Started   time.Time
	Closed    time.Time
}

// Session owns one connection's capture, live channel and pipeline run. All
// state changes happen on the goroutine started by run; the transport and the
// sink only post events to it.
type Session struct {
	id        string
	info      transports.ConnInfo
	paths     capture.Paths
	cfg       Config
	svc       *Services
	ctx       context.Context
	logger    *slog.Logger
	observer  metrics.Observer
	listeners []Listener
	onRelease func(*Session, Report)

	inbound   chan event
	control   chan event
	done      chan struct{}
	closeOnce sync.Once

	state   atomic.Int32
	bytes   atomic.Int64
	frames  atomic.Uint64
	started time.Time

	// owned by the run goroutine
	sink      capture.Sink
	sinkEnded bool
	live      stt.StreamingSTT
	triggered bool
	liveWG    sync.WaitGroup

	mu     sync.Mutex
	err    error
	result *pipeline.Result
}

func (s *Session) ID() string        { return s.id }
func (s *Session) SessionID() string { return s.id }
func (s *Session) Paths() capture.Paths {
	return s.paths
}
func (s *Session) State() State { return State(s.state.Load()) }
func (s *Session) Bytes() int64 { return s.bytes.Load() }

// Done is closed once the session has reached Closed and released its
// resources.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that closed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Result returns the pipeline result once the pipeline has finished.
func (s *Session) Result() *pipeline.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// OnFrame queues a frame for the session goroutine. It blocks while the
// queue is full, which applies backpressure to this connection only.
func (s *Session) OnFrame(f frames.AudioFrame) error {
	select {
	case <-s.done:
		return s.closedErr()
	default:
	}
	select {
	case s.inbound <- event{kind: eventFrame, frame: f}:
		return nil
	case <-s.done:
		return s.closedErr()
	}
}

// OnClose queues the terminal signal. Only the first call has an effect.
func (s *Session) OnClose(err error) {
	s.closeOnce.Do(func() {
		select {
		case s.inbound <- event{kind: eventClose, err: err}:
		case <-s.done:
		}
	})
}

func (s *Session) closedErr() error {
	if err := s.Err(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSessionClosed)
	}
	return errorsx.New(errorsx.ReasonSessionClosed, "session closed")
}

// onSinkComplete runs on whatever goroutine the sink reports from. It never
// blocks; duplicates beyond the queue capacity are dropped since only the
// first one is honored anyway.
func (s *Session) onSinkComplete(res capture.Result) {
	select {
	case s.control <- event{kind: eventFlushed, flush: res}:
	default:
		s.logger.Warn("capture_flush_signal_dropped")
	}
}

func (s *Session) run() {
	defer s.release()
	for s.State() != StateClosed {
		var ev event
		select {
		case ev = <-s.inbound:
		case ev = <-s.control:
		}
		switch ev.kind {
		case eventFrame:
			s.handleFrame(ev.frame)
		case eventClose:
			s.handleClose(ev.err)
		case eventFlushed:
			s.handleFlushed(ev.flush)
		case eventPipelineDone:
			s.handlePipelineDone(ev.result)
		}
	}
}

func (s *Session) handleFrame(f frames.AudioFrame) {
	switch s.State() {
	case StateConnected:
		s.transition(StateCapturing, nil)
	case StateCapturing:
	default:
		s.logger.Warn("frame_after_close_dropped", slog.Uint64("seq", f.Seq()))
		return
	}

	data := f.RawPayload()
	if err := s.sink.Write(data); err != nil {
		s.fail(errorsx.Wrap(err, errorsx.ReasonSinkWrite))
		return
	}
	s.bytes.Add(int64(len(data)))
	s.frames.Add(1)

	if s.live != nil {
		if err := s.live.Write(data); err != nil {
			s.logger.Warn("live_channel_failed",
				slog.String("reason_code", string(errorsx.Reason(err))),
				slog.Uint64("seq", f.Seq()),
				slog.String("error", err.Error()))
			s.record(metrics.EventLiveError, 0, map[string]string{"reason_code": string(errorsx.Reason(err))})
			s.endLive()
		}
	}
	s.record(metrics.EventFrame, float64(len(data)), nil)
}

func (s *Session) handleClose(err error) {
	if err != nil {
		s.logger.Warn("client_connection_error",
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
	} else {
		s.logger.Info("client_disconnected", slog.Uint64("frames", s.frames.Load()))
	}
	s.transition(StateFinalizing, nil)
	s.endLive()

	s.sinkEnded = true
	if err := s.sink.End(); err != nil {
		s.fail(errorsx.Wrap(err, errorsx.ReasonSinkFlush))
	}
}

func (s *Session) handleFlushed(res capture.Result) {
	if s.triggered {
		s.logger.Warn("duplicate_capture_flush_ignored")
		return
	}
	if s.State() != StateFinalizing {
		s.logger.Warn("capture_flush_out_of_order", slog.String("state", s.State().String()))
		return
	}
	s.triggered = true

	s.logger.Info("capture_flushed",
		slog.String("path", res.Path),
		slog.Int64("bytes", res.Bytes),
		slog.Duration("audio", audio.PCMDuration(res.Bytes, s.cfg.SampleRate, s.cfg.Channels)))
	s.record(metrics.EventCaptureFlushed, float64(res.Bytes), nil)
	s.transition(StatePipeline, nil)

	job := pipeline.Job{
		SessionID:      s.id,
		RawPath:        s.paths.Raw,
		CompressedPath: s.paths.Compressed,
		TranscriptPath: s.paths.Transcript,
		SampleRate:     s.cfg.SampleRate,
		Channels:       s.cfg.Channels,
		Bitrate:        s.cfg.Bitrate,
		Language:       s.cfg.Language,
	}
	go func() {
		// The pipeline runs on the manager context so a client disconnect
		// never cancels an in-flight provider call.
		result := s.svc.Pipeline.Run(s.ctx, job, pipeline.ListenerFunc(s.onPipelineState))
		select {
		case s.control <- event{kind: eventPipelineDone, result: result}:
		case <-s.done:
		}
	}()
}

func (s *Session) onPipelineState(ev pipeline.StateChange) {
	s.logger.Debug("pipeline_state",
		slog.String("from", ev.From.String()),
		slog.String("to", ev.To.String()))
}

func (s *Session) handlePipelineDone(res pipeline.Result) {
	s.mu.Lock()
	s.result = &res
	s.mu.Unlock()
	if res.Err != nil {
		s.setErr(res.Err)
		s.logger.Warn("session_pipeline_failed",
			slog.String("stage", res.FailedStage.String()),
			slog.String("error", res.Err.Error()))
	} else {
		s.logger.Info("session_pipeline_completed",
			slog.String("transcript_path", res.TranscriptPath),
			slog.String("summary", res.Summary))
	}
	s.transition(StateClosed, res.Err)
}

// fail tears the session down after a durable sink error.
func (s *Session) fail(err error) {
	s.logger.Error("session_failed",
		slog.String("reason_code", string(errorsx.Reason(err))),
		slog.String("category", string(errorsx.Classify(err))),
		slog.String("error", err.Error()))
	if !s.sinkEnded {
		s.sinkEnded = true
		_ = s.sink.Abort()
	}
	s.endLive()
	s.setErr(err)
	s.transition(StateClosed, err)
}

func (s *Session) endLive() {
	if s.live == nil {
		return
	}
	live := s.live
	s.live = nil
	s.liveWG.Add(1)
	go func() {
		defer s.liveWG.Done()
		if err := live.End(); err != nil {
			s.logger.Warn("live_channel_end_failed", slog.String("error", err.Error()))
		}
	}()
}

func (s *Session) consumeLive(live stt.StreamingSTT) {
	defer s.liveWG.Done()
	for r := range live.Results() {
		if r.Err != nil {
			s.logger.Warn("live_recognition_error",
				slog.String("reason_code", string(errorsx.Reason(r.Err))),
				slog.String("error", r.Err.Error()))
			s.record(metrics.EventLiveError, 0, map[string]string{"reason_code": string(errorsx.Reason(r.Err))})
			continue
		}
		s.logger.Info("live_transcript",
			slog.String("text", redact.Text(r.Text)),
			slog.Bool("is_final", r.IsFinal))
		s.recordFields(metrics.EventLiveTranscript, 0,
			map[string]string{"is_final": strconv.FormatBool(r.IsFinal)},
			map[string]any{"text": r.Text})
		if s.svc.OnLiveTranscript != nil {
			s.svc.OnLiveTranscript(frames.NewTranscriptFrame(s.id, time.Now().UnixNano(), r.Text, r.IsFinal,
				map[string]string{frames.MetaSource: live.Name()}))
		}
	}
}

func (s *Session) release() {
	if s.sink != nil && !s.sinkEnded {
		s.sinkEnded = true
		_ = s.sink.Abort()
	}
	s.endLive()
	s.liveWG.Wait()
	close(s.done)

	report := Report{
		SessionID: s.id,
		Paths:     s.paths,
		Bytes:     s.bytes.Load(),
		Frames:    s.frames.Load(),
		State:     s.State(),
		Err:       s.Err(),
		Result:    s.Result(),
		Started:   s.started,
		Closed:    time.Now(),
	}
	outcome := "ok"
	if report.Err != nil {
		outcome = string(errorsx.Classify(report.Err))
	}
	s.record(metrics.EventSessionClosed, float64(report.Bytes), map[string]string{"outcome": outcome})
	s.logger.Info("session_closed",
		slog.String("outcome", outcome),
		slog.Int64("bytes", report.Bytes),
		slog.Uint64("frames", report.Frames),
		slog.Duration("elapsed", report.Closed.Sub(report.Started)))
	if s.onRelease != nil {
		s.onRelease(s, report)
	}
}

func (s *Session) transition(to State, cause error) {
	from := s.State()
	if !canTransition(from, to) {
		s.logger.Warn("invalid_session_transition",
			slog.String("error", (&InvalidTransitionError{From: from, To: to}).Error()))
		return
	}
	s.state.Store(int32(to))
	ev := StateChange{
		SessionID: s.id,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Err:       cause,
	}
	s.logger.Debug("session_state", slog.String("from", from.String()), slog.String("to", to.String()))
	for _, l := range s.listeners {
		l.OnSessionState(ev)
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Session) record(name string, value float64, tags map[string]string) {
	s.recordFields(name, value, tags, nil)
}

func (s *Session) recordFields(name string, value float64, tags map[string]string, fields map[string]any) {
	t := map[string]string{"session_id": s.id}
	for k, v := range tags {
		t[k] = v
	}
	s.observer.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   t,
		Fields: fields,
	})
}
