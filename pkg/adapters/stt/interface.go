package stt

import (
	"context"
)

// Result is one recognizer emission. Err is set for recognition errors, which
// are reported but never end the session.
type Result struct {
	Text    string
	IsFinal bool
	Err     error
}

// StreamingSTT defines the contract for a live transcription channel.
// Write after End and repeated End calls are no-ops. Results are delivered in
// recognizer order and the channel is closed once End has completed.
type StreamingSTT interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start opens the connection to the recognizer.
	Start(ctx context.Context) error
	// Write streams raw PCM bytes to the recognizer.
	Write(p []byte) error
	// End closes the channel exactly once.
	End() error
	// Results returns interim/final transcripts and recognition errors.
	Results() <-chan Result
}

// Config contains vendor-agnostic live STT configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Channels   int
	Language   string
}

// Factory builds one channel per session.
type Factory func(cfg Config) StreamingSTT
