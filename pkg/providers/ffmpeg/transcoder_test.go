package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/harunnryd/scribe/pkg/adapters/transcode"
	"github.com/harunnryd/scribe/pkg/errorsx"
)

func TestBuildArgs(t *testing.T) {
	tr := New(Config{})
	args, err := tr.buildArgs(transcode.Request{
		InputPath:  "in.raw",
		OutputPath: "out.mp3",
		SampleRate: 44100,
		Channels:   1,
		Bitrate:    "192k",
	})
	if err != nil {
		t.Fatalf("build args: %v", err)
	}
	got := strings.Join(args, " ")
	want := "-hide_banner -loglevel error -y -f s16le -ar 44100 -ac 1 -i in.raw -codec:a libmp3lame -b:a 192k out.mp3"
	if got != want {
		t.Fatalf("args mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildArgsRejectsMissingRate(t *testing.T) {
	tr := New(Config{})
	if _, err := tr.buildArgs(transcode.Request{InputPath: "a", OutputPath: "b"}); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
}

func TestTranscodeMissingBinary(t *testing.T) {
	dir := t.TempDir()
	tr := New(Config{Binary: filepath.Join(dir, "no-such-ffmpeg")})
	err := tr.Transcode(context.Background(), transcode.Request{
		InputPath:  filepath.Join(dir, "in.raw"),
		OutputPath: filepath.Join(dir, "out.mp3"),
		SampleRate: 44100,
	})
	if !errorsx.HasReason(err, errorsx.ReasonTranscode) {
		t.Fatalf("expected transcode reason, got %v", err)
	}
}

func TestTranscodeWithFakeBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script binary")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-ffmpeg")
	// The last argument is the output path.
	script := "#!/bin/sh\nfor last; do :; done\nprintf 'ID3' > \"$last\"\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	out := filepath.Join(dir, "out.mp3")
	tr := New(Config{Binary: bin})
	err := tr.Transcode(context.Background(), transcode.Request{
		InputPath:  filepath.Join(dir, "in.raw"),
		OutputPath: out,
		SampleRate: 44100,
		Bitrate:    "192k",
	})
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil || string(b) != "ID3" {
		t.Fatalf("unexpected output %q err=%v", b, err)
	}
}

func TestTranscodeFailureIncludesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script binary")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-ffmpeg")
	script := "#!/bin/sh\necho 'Invalid data found when processing input' >&2\nexit 1\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	tr := New(Config{Binary: bin})
	err := tr.Transcode(context.Background(), transcode.Request{
		InputPath:  filepath.Join(dir, "in.raw"),
		OutputPath: filepath.Join(dir, "out.mp3"),
		SampleRate: 44100,
	})
	if err == nil || !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}
