package metrics

import "time"

// Event names emitted by sessions and the post-capture pipeline.
const (
	EventSessionOpened   = "session_opened"
	EventSessionClosed   = "session_closed"
	EventFrame           = "frame"
	EventLiveTranscript  = "live_transcript"
	EventLiveError       = "live_error"
	EventCaptureFlushed  = "capture_flushed"
	EventStageCompleted  = "stage_completed"
	EventStageFailed     = "stage_failed"
	EventPipelineDone    = "pipeline_done"
	EventSummaryProduced = "summary_produced"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// MultiObserver fans one event out to several observers.
type MultiObserver struct {
	observers []Observer
}

func NewMultiObserver(obs ...Observer) *MultiObserver {
	out := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return &MultiObserver{observers: out}
}

func (m *MultiObserver) RecordEvent(ev MetricsEvent) {
	for _, o := range m.observers {
		o.RecordEvent(ev)
	}
}
