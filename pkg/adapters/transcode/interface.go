package transcode

import "context"

// Request describes a raw PCM to compressed audio conversion.
type Request struct {
	InputPath   string
	OutputPath  string
	InputFormat string // e.g. "s16le"
	SampleRate  int
	Channels    int
	Bitrate     string // e.g. "192k"
}

// Transcoder converts a finished raw capture into a compressed artifact.
// Transcode returns only after the output file is complete.
type Transcoder interface {
	Name() string
	Transcode(ctx context.Context, req Request) error
}
