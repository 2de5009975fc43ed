package mock

import (
	"bytes"
	"context"
	"sync"

	"github.com/harunnryd/scribe/pkg/adapters/stt"
	"github.com/harunnryd/scribe/pkg/errorsx"
)

type STTConfig struct {
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	// StartErr makes Start fail.
	StartErr error
	// WriteErr is returned by every Write after FailAfter successful writes.
	WriteErr  error
	FailAfter int
	// RecognizeErr is emitted as a result error after the first write.
	RecognizeErr error
}

// StreamingSTT records every byte it receives and emits canned results after
// the first write.
type StreamingSTT struct {
	cfg      STTConfig
	out      chan stt.Result
	mu       sync.Mutex
	started  bool
	ended    bool
	emitted  bool
	writes   int
	endCalls int
	buf      bytes.Buffer
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &StreamingSTT{cfg: cfg, out: make(chan stt.Result, 16)}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if s.cfg.StartErr != nil {
		return errorsx.Wrap(s.cfg.StartErr, errorsx.ReasonChannelConnect)
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *StreamingSTT) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	if !s.started {
		return errorsx.New(errorsx.ReasonChannelSend, "mock stt not started")
	}
	if s.cfg.WriteErr != nil && s.writes >= s.cfg.FailAfter {
		return errorsx.Wrap(s.cfg.WriteErr, errorsx.ReasonChannelSend)
	}
	s.writes++
	s.buf.Write(p)
	if !s.emitted {
		s.emitted = true
		if s.cfg.EmitInterim {
			interim := s.cfg.InterimTranscript
			if interim == "" {
				interim = s.cfg.Transcript
			}
			s.out <- stt.Result{Text: interim}
		}
		if s.cfg.RecognizeErr != nil {
			s.out <- stt.Result{Err: errorsx.Wrap(s.cfg.RecognizeErr, errorsx.ReasonChannelRecognize)}
		}
		s.out <- stt.Result{Text: s.cfg.Transcript, IsFinal: true}
	}
	return nil
}

func (s *StreamingSTT) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endCalls++
	if s.ended {
		return nil
	}
	s.ended = true
	close(s.out)
	return nil
}

func (s *StreamingSTT) Results() <-chan stt.Result { return s.out }

// Bytes returns a copy of everything written so far.
func (s *StreamingSTT) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func (s *StreamingSTT) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *StreamingSTT) EndCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endCalls
}

func (s *StreamingSTT) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
