package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/scribe/pkg/metrics"
	"github.com/harunnryd/scribe/pkg/redact"
)

// TimelineFile is the per-session trace written next to the capture.
const TimelineFile = "timeline.jsonl"

// DirFunc resolves the artifact directory of a session.
type DirFunc func(sessionID string) string

// TimelineObserver appends every session-scoped event to a JSONL trace in
// that session's directory. The file is closed when the session closes.
type TimelineObserver struct {
	dirFor DirFunc
	mu     sync.Mutex
	files  map[string]*os.File
}

func NewTimelineObserver(dirFor DirFunc) *TimelineObserver {
	return &TimelineObserver{dirFor: dirFor, files: make(map[string]*os.File)}
}

func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := sessionOf(ev)
	if id == "" || o.dirFor == nil {
		return
	}
	entry := timelineEvent{
		Time:      ev.Time.UTC(),
		Event:     ev.Name,
		SessionID: id,
		Value:     ev.Value,
		Tags:      withoutSession(ev.Tags),
		Fields:    redact.Fields(ev.Fields),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.fileForLocked(id)
	if f == nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
	if ev.Name == metrics.EventSessionClosed {
		_ = f.Close()
		delete(o.files, id)
	}
}

// Close closes the traces of sessions that never reported closing.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for _, f := range o.files {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	o.files = make(map[string]*os.File)
	return err
}

type timelineEvent struct {
	Time      time.Time         `json:"time"`
	Event     string            `json:"event"`
	SessionID string            `json:"session_id"`
	Value     float64           `json:"value,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

func (o *TimelineObserver) fileForLocked(id string) *os.File {
	if f := o.files[id]; f != nil {
		return f
	}
	dir := o.dirFor(id)
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	// The session directory is created by the capture arena; a missing one
	// means the session was purged or never allocated.
	f, err := os.OpenFile(filepath.Join(dir, TimelineFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	o.files[id] = f
	return f
}

func sessionOf(ev metrics.MetricsEvent) string {
	if ev.Tags == nil {
		return ""
	}
	id := strings.TrimSpace(ev.Tags["session_id"])
	if id != filepath.Base(id) {
		return ""
	}
	return id
}

func withoutSession(in map[string]string) map[string]string {
	if len(in) <= 1 {
		return nil
	}
	out := make(map[string]string, len(in)-1)
	for k, v := range in {
		if k != "session_id" {
			out[k] = v
		}
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
