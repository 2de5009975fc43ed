package frames

import "sync"

type Kind string

const (
	KindAudio      Kind = "audio"
	KindTranscript Kind = "transcript"
)

const (
	MetaSessionID = "session_id"
	MetaSource    = "source"
	MetaRemote    = "remote_addr"
	MetaIsFinal   = "is_final"
)

type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
}

// AudioFrame is one binary message of signed 16-bit little-endian PCM.
// Seq is assigned by the transport in arrival order starting at 1.
type AudioFrame struct {
	seq  uint64
	pts  int64
	data []byte
	rate int
	ch   int
	meta map[string]string
}

func NewAudioFrame(sessionID string, seq uint64, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{
		seq:  seq,
		pts:  pts,
		data: data,
		rate: rate,
		ch:   ch,
		meta: mergeMeta(sessionID, meta),
	}
}

func (a AudioFrame) Kind() Kind              { return KindAudio }
func (a AudioFrame) PTS() int64              { return a.pts }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) Seq() uint64             { return a.seq }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Len() int                { return len(a.data) }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }

// TranscriptFrame carries one live recognition result.
type TranscriptFrame struct {
	pts   int64
	text  string
	final bool
	meta  map[string]string
}

func NewTranscriptFrame(sessionID string, pts int64, text string, final bool, meta map[string]string) TranscriptFrame {
	m := mergeMeta(sessionID, meta)
	if final {
		m[MetaIsFinal] = "true"
	} else {
		m[MetaIsFinal] = "false"
	}
	return TranscriptFrame{pts: pts, text: text, final: final, meta: m}
}

func (t TranscriptFrame) Kind() Kind              { return KindTranscript }
func (t TranscriptFrame) PTS() int64              { return t.pts }
func (t TranscriptFrame) Meta() map[string]string { return cloneMeta(t.meta) }
func (t TranscriptFrame) Text() string            { return t.text }
func (t TranscriptFrame) IsFinal() bool           { return t.final }

// SeqGen hands out per-connection sequence numbers.
type SeqGen struct {
	mu    sync.Mutex
	value uint64
}

func (g *SeqGen) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value++
	return g.value
}

// Last returns the most recently issued number, zero if none.
func (g *SeqGen) Last() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func mergeMeta(sessionID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 2+len(meta))
	if sessionID != "" {
		out[MetaSessionID] = sessionID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
