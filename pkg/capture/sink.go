package capture

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/harunnryd/scribe/pkg/errorsx"
)

// Result describes a fully flushed capture.
type Result struct {
	Path    string
	Bytes   int64
	Flushed time.Time
}

// Sink is the durable capture contract. End flushes and then reports
// completion through the callback given at construction; Abort releases the
// file without reporting completion.
type Sink interface {
	Write(p []byte) error
	End() error
	Abort() error
	Path() string
	Written() int64
}

// ErrSinkClosed is returned by Write after End or Abort.
var ErrSinkClosed = errors.New("capture sink closed")

type sinkState int

const (
	sinkOpen sinkState = iota
	sinkEnded
	sinkAborted
)

// FileSink appends raw PCM to a file through a buffered writer.
type FileSink struct {
	mu         sync.Mutex
	path       string
	f          *os.File
	w          *bufio.Writer
	written    int64
	state      sinkState
	onComplete func(Result)
}

// OpenFileSink creates path exclusively. bufSize <= 0 selects 64KiB.
func OpenFileSink(path string, bufSize int, onComplete func(Result)) (*FileSink, error) {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("open capture: %w", err), errorsx.ReasonSinkOpen)
	}
	return &FileSink{
		path:       path,
		f:          f,
		w:          bufio.NewWriterSize(f, bufSize),
		onComplete: onComplete,
	}, nil
}

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *FileSink) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sinkOpen {
		return errorsx.Wrap(ErrSinkClosed, errorsx.ReasonSinkWrite)
	}
	n, err := s.w.Write(p)
	s.written += int64(n)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("write capture: %w", err), errorsx.ReasonSinkWrite)
	}
	return nil
}

// End flushes buffered bytes, syncs and closes the file. The completion
// callback runs after the close succeeds and never more than once.
func (s *FileSink) End() error {
	s.mu.Lock()
	if s.state != sinkOpen {
		s.mu.Unlock()
		return nil
	}
	s.state = sinkEnded
	err := s.w.Flush()
	if err == nil {
		err = s.f.Sync()
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	res := Result{Path: s.path, Bytes: s.written, Flushed: time.Now()}
	cb := s.onComplete
	s.mu.Unlock()

	if err != nil {
		return errorsx.Wrap(fmt.Errorf("flush capture: %w", err), errorsx.ReasonSinkFlush)
	}
	if cb != nil {
		cb(res)
	}
	return nil
}

func (s *FileSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sinkOpen {
		return nil
	}
	s.state = sinkAborted
	return s.f.Close()
}

var _ Sink = (*FileSink)(nil)
