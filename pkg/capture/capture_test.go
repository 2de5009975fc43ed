package capture

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/scribe/pkg/errorsx"
)

func TestAllocateIsUniquePerSession(t *testing.T) {
	arena, err := NewArena(t.TempDir())
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	a, err := arena.Allocate("session-a")
	if err != nil {
		t.Fatalf("allocate a: %v", err)
	}
	b, err := arena.Allocate("session-b")
	if err != nil {
		t.Fatalf("allocate b: %v", err)
	}
	if a.Raw == b.Raw || a.Compressed == b.Compressed || a.Transcript == b.Transcript {
		t.Fatalf("sessions share artifact paths: %+v %+v", a, b)
	}
	if _, err := arena.Allocate("session-a"); !errorsx.HasReason(err, errorsx.ReasonSinkOpen) {
		t.Fatalf("expected reallocation to fail with sink_open, got %v", err)
	}
	if _, err := arena.Allocate("../escape"); err == nil {
		t.Fatalf("expected path traversal to be rejected")
	}
}

func TestDiscardRemovesOnlySessionDirectories(t *testing.T) {
	root := t.TempDir()
	arena, err := NewArena(root)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	p, err := arena.Allocate("session-a")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := arena.Discard(p); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := os.Stat(p.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected session dir removed, got %v", err)
	}
	if err := arena.Discard(Paths{Dir: root}); err == nil {
		t.Fatalf("expected the arena root to be refused")
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("arena root must survive: %v", err)
	}
}

func TestFileSinkWritesInOrderAndCompletesOnce(t *testing.T) {
	arena, _ := NewArena(t.TempDir())
	paths, _ := arena.Allocate("s1")

	var results []Result
	sink, err := OpenFileSink(paths.Raw, 16, func(r Result) { results = append(results, r) })
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var want bytes.Buffer
	for i := 0; i < 10; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, 37)
		want.Write(chunk)
		if err := sink.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if len(results) != 0 {
		t.Fatalf("completion fired before End")
	}
	if err := sink.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := sink.End(); err != nil {
		t.Fatalf("second end: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(results))
	}
	if results[0].Bytes != int64(want.Len()) || sink.Written() != int64(want.Len()) {
		t.Fatalf("unexpected byte count: %+v", results[0])
	}
	got, err := os.ReadFile(paths.Raw)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("capture content mismatch")
	}
	if err := sink.Write([]byte{1}); !errorsx.HasReason(err, errorsx.ReasonSinkWrite) {
		t.Fatalf("expected sink_write after End, got %v", err)
	}
}

func TestFileSinkAbortSkipsCompletion(t *testing.T) {
	dir := t.TempDir()
	fired := false
	sink, err := OpenFileSink(filepath.Join(dir, "raw"), 0, func(Result) { fired = true })
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = sink.Write([]byte{1, 2})
	if err := sink.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if err := sink.End(); err != nil {
		t.Fatalf("end after abort: %v", err)
	}
	if fired {
		t.Fatalf("completion must not fire after abort")
	}
}

func TestOpenFileSinkRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw")
	if err := os.WriteFile(path, []byte("other session"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := OpenFileSink(path, 0, nil); !errorsx.HasReason(err, errorsx.ReasonSinkOpen) {
		t.Fatalf("expected sink_open error, got %v", err)
	}
}

func TestPurgeRemovesOldSessions(t *testing.T) {
	arena, _ := NewArena(t.TempDir())
	old, _ := arena.Allocate("old")
	fresh, _ := arena.Allocate("fresh")
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old.Dir, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	removed, err := arena.Purge(24 * time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(old.Dir); !os.IsNotExist(err) {
		t.Fatalf("old session should be gone")
	}
	if _, err := os.Stat(fresh.Dir); err != nil {
		t.Fatalf("fresh session should remain: %v", err)
	}
	if n, _ := arena.Purge(0); n != 0 {
		t.Fatalf("zero max age must not purge")
	}
}
