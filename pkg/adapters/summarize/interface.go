package summarize

import "context"

// DefaultInstruction is the role prompt used when none is configured.
const DefaultInstruction = "You summarize meeting and voice-note transcripts. " +
	"Reply with a short summary in the transcript's language covering the main topics, decisions and action items."

// Summarizer derives a short summary from a complete transcript.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, transcript string) (string, error)
}
