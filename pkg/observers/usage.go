package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/scribe/pkg/audio"
	"github.com/harunnryd/scribe/pkg/metrics"
)

// UsageFile is the per-session usage summary written when a session closes.
const UsageFile = "usage.json"

// UsageSummary totals what a session consumed from billable providers.
type UsageSummary struct {
	SessionID       string             `json:"session_id"`
	AudioSeconds    float64            `json:"audio_seconds"`
	CapturedBytes   int64              `json:"captured_bytes"`
	Frames          int                `json:"frames"`
	LiveTranscripts int                `json:"live_transcripts"`
	LiveErrors      int                `json:"live_errors"`
	StageSeconds    map[string]float64 `json:"stage_seconds,omitempty"`
	SummaryChars    int                `json:"summary_chars"`
	Outcome         string             `json:"outcome"`
	RecordedAtUTC   string             `json:"recorded_at_utc"`
}

// UsageObserver accumulates per-session usage and writes it to the session
// directory on close.
type UsageObserver struct {
	dirFor     DirFunc
	sampleRate int
	channels   int
	mu         sync.Mutex
	stats      map[string]*UsageSummary
}

func NewUsageObserver(dirFor DirFunc, sampleRate, channels int) *UsageObserver {
	return &UsageObserver{
		dirFor:     dirFor,
		sampleRate: sampleRate,
		channels:   channels,
		stats:      make(map[string]*UsageSummary),
	}
}

func (o *UsageObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := sessionOf(ev)
	if id == "" {
		return
	}
	o.mu.Lock()
	stat := o.stats[id]
	if stat == nil {
		stat = &UsageSummary{SessionID: id}
		o.stats[id] = stat
	}
	switch ev.Name {
	case metrics.EventFrame:
		stat.Frames++
	case metrics.EventCaptureFlushed:
		stat.CapturedBytes = int64(ev.Value)
		stat.AudioSeconds = audio.PCMDuration(stat.CapturedBytes, o.sampleRate, o.channels).Seconds()
	case metrics.EventLiveTranscript:
		stat.LiveTranscripts++
	case metrics.EventLiveError:
		stat.LiveErrors++
	case metrics.EventStageCompleted, metrics.EventStageFailed:
		if stat.StageSeconds == nil {
			stat.StageSeconds = make(map[string]float64)
		}
		stat.StageSeconds[ev.Tags["stage"]] += ev.Value
	case metrics.EventSummaryProduced:
		stat.SummaryChars = int(ev.Value)
	case metrics.EventSessionClosed:
		stat.Outcome = ev.Tags["outcome"]
		delete(o.stats, id)
		o.mu.Unlock()
		_ = o.write(stat)
		return
	}
	o.mu.Unlock()
}

func (o *UsageObserver) write(stat *UsageSummary) error {
	if o.dirFor == nil {
		return nil
	}
	dir := o.dirFor(stat.SessionID)
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	stat.RecordedAtUTC = time.Now().UTC().Format(time.RFC3339)
	b, err := json.MarshalIndent(stat, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, UsageFile), b, 0o644)
}

var _ metrics.Observer = (*UsageObserver)(nil)
