package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/scribe/pkg/adapters/stt"
	"github.com/harunnryd/scribe/pkg/errorsx"
	"github.com/harunnryd/scribe/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

var errNotStarted = errors.New("deepgram: channel not started")

type Config struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Channels       int
	Encoding       string
	Interim        bool
	SmartFormat    bool
	UtteranceEndMS int
	SessionID      string
	Logger         *slog.Logger
	// CloseGrace bounds how long End waits for the SDK to finish streaming
	// before the connection is torn down. Defaults to 5s.
	CloseGrace time.Duration
}

// StreamingSTT forwards raw PCM to Deepgram's live endpoint through a pipe
// and turns callback messages into stt.Result values.
type StreamingSTT struct {
	cfg    Config
	logger *slog.Logger

	dgClient   *client.WSCallback
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	streamDone chan struct{}

	started  atomic.Bool
	ended    atomic.Bool
	endOnce  sync.Once
	outMu    sync.RWMutex
	out      chan stt.Result
	closed   bool
	dropped  atomic.Int64
	metaOnce sync.Once
}

func New(cfg Config) *StreamingSTT {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = 5 * time.Second
	}
	logger := logging.NewComponentLogger(cfg.Logger, "deepgram_stt")
	if cfg.SessionID != "" {
		logger = logging.NewSessionLogger(logger, cfg.SessionID)
	}
	return &StreamingSTT{
		cfg:        cfg,
		logger:     logger,
		out:        make(chan stt.Result, 256),
		streamDone: make(chan struct{}),
	}
}

func (s *StreamingSTT) Name() string { return "deepgram_streaming" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.pipeReader, s.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		Channels:       s.cfg.Channels,
		InterimResults: s.cfg.Interim,
		SmartFormat:    s.cfg.SmartFormat,
	}
	if s.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", s.cfg.UtteranceEndMS)
	}

	s.logger.Info("initializing deepgram connection",
		slog.String("model", s.cfg.Model),
		slog.String("language", s.cfg.Language),
		slog.Int("sample_rate", s.cfg.SampleRate))

	dgClient, err := client.NewWSUsingCallback(s.ctx, s.cfg.APIKey, clientOptions, transcriptOptions, &callback{parent: s})
	if err != nil {
		s.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonChannelConnect)
	}
	s.dgClient = dgClient

	if connected := s.dgClient.Connect(); !connected {
		s.logger.Error("deepgram_connect_failed")
		return errorsx.New(errorsx.ReasonChannelConnect, "deepgram connection failed")
	}
	s.started.Store(true)
	s.logger.Info("deepgram_connected", slog.String("model", s.cfg.Model))

	go s.stream(s.dgClient.Stream)
	return nil
}

// stream pumps the pipe into the SDK. Once the SDK returns, for whatever
// reason, the read side of the pipe is closed so Write fails fast instead of
// blocking the caller.
func (s *StreamingSTT) stream(send func(io.Reader) error) {
	defer close(s.streamDone)
	err := send(s.pipeReader)
	cause := err
	if cause == nil {
		cause = io.ErrClosedPipe
	}
	_ = s.pipeReader.CloseWithError(cause)
	if err != nil && s.ctx.Err() == nil && !errors.Is(err, io.EOF) {
		s.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		s.emit(stt.Result{Err: errorsx.Wrap(err, errorsx.ReasonChannelSend)})
	}
}

// Write forwards PCM bytes unchanged. It is a no-op once End has been called.
func (s *StreamingSTT) Write(p []byte) error {
	if s.ended.Load() {
		return nil
	}
	if !s.started.Load() {
		return errorsx.Wrap(errNotStarted, errorsx.ReasonChannelSend)
	}
	if len(p) == 0 {
		return nil
	}
	if _, err := s.pipeWriter.Write(p); err != nil {
		if s.ended.Load() {
			return nil
		}
		s.logger.Error("failed to send audio to deepgram", slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonChannelSend)
	}
	return nil
}

// End closes the audio pipe, lets the SDK finish streaming, then stops the
// connection. Later calls do nothing.
func (s *StreamingSTT) End() error {
	s.endOnce.Do(func() {
		s.ended.Store(true)
		s.logger.Info("closing deepgram connection")
		if s.pipeWriter != nil {
			_ = s.pipeWriter.Close()
		}
		if s.started.Load() {
			timer := time.NewTimer(s.cfg.CloseGrace)
			select {
			case <-s.streamDone:
			case <-timer.C:
				s.logger.Warn("deepgram_close_grace_expired", slog.Duration("grace", s.cfg.CloseGrace))
			}
			timer.Stop()
		}
		if s.cancel != nil {
			s.cancel()
		}
		if s.dgClient != nil {
			s.dgClient.Stop()
		}
		s.closeOut()
		if n := s.dropped.Load(); n > 0 {
			s.logger.Warn("deepgram_results_dropped", slog.Int64("dropped", n))
		}
	})
	return nil
}

func (s *StreamingSTT) Results() <-chan stt.Result { return s.out }

// Dropped counts results that arrived after the channel was torn down.
func (s *StreamingSTT) Dropped() int64 { return s.dropped.Load() }

// emit delivers results in recognizer order, waiting for room in the buffer
// until the channel is cancelled.
func (s *StreamingSTT) emit(r stt.Result) {
	s.outMu.RLock()
	defer s.outMu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	var done <-chan struct{}
	if s.ctx != nil {
		done = s.ctx.Done()
	}
	select {
	case s.out <- r:
	case <-done:
		s.dropped.Add(1)
	}
}

func (s *StreamingSTT) closeOut() {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

type callback struct {
	parent *StreamingSTT
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal
	c.parent.logger.Debug("transcript_received",
		slog.String("transcript", transcript),
		slog.Bool("is_final", isFinal))
	c.parent.emit(stt.Result{Text: transcript, IsFinal: isFinal})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.metaOnce.Do(func() {
		c.parent.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	})
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event")
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event")
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emit(stt.Result{
		Err: errorsx.New(errorsx.ReasonChannelRecognize, er.ErrCode+": "+er.ErrMsg),
	})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.String("data", string(byData)))
	return nil
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
