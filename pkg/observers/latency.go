package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/scribe/pkg/metrics"
)

// LatencyObserver logs how long each phase of a session took once the
// session closes.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	opened     time.Time
	firstFrame time.Time
	firstLive  time.Time
	flushed    time.Time
	pipeline   time.Time
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := sessionOf(ev)
	if id == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[id]
	if t == nil {
		t = &trace{}
		o.traces[id] = t
	}
	switch ev.Name {
	case metrics.EventSessionOpened:
		t.opened = ev.Time
	case metrics.EventFrame:
		if t.firstFrame.IsZero() {
			t.firstFrame = ev.Time
		}
	case metrics.EventLiveTranscript:
		if t.firstLive.IsZero() {
			t.firstLive = ev.Time
		}
	case metrics.EventCaptureFlushed:
		t.flushed = ev.Time
	case metrics.EventPipelineDone:
		t.pipeline = ev.Time
	case metrics.EventSessionClosed:
		delete(o.traces, id)
		o.mu.Unlock()
		o.logLatency(id, t, ev.Time)
		return
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logLatency(id string, t *trace, closed time.Time) {
	o.log.Info("session_latency",
		"session_id", id,
		"first_frame_ms", durationMs(t.opened, t.firstFrame),
		"first_live_ms", durationMs(t.firstFrame, t.firstLive),
		"capture_ms", durationMs(t.opened, t.flushed),
		"pipeline_ms", durationMs(t.flushed, t.pipeline),
		"total_ms", durationMs(t.opened, closed),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}

var _ metrics.Observer = (*LatencyObserver)(nil)
