package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/harunnryd/scribe/pkg/adapters/transcode"
	"github.com/harunnryd/scribe/pkg/errorsx"
	"github.com/harunnryd/scribe/pkg/logging"
)

type Config struct {
	// Binary defaults to "ffmpeg" resolved through PATH.
	Binary      string
	Codec       string
	GracePeriod time.Duration
	Logger      *slog.Logger
}

// Transcoder converts raw little-endian PCM into a compressed file by running
// the ffmpeg binary.
type Transcoder struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Transcoder {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Codec == "" {
		cfg.Codec = "libmp3lame"
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	return &Transcoder{cfg: cfg, logger: logging.NewComponentLogger(cfg.Logger, "ffmpeg")}
}

func (t *Transcoder) Name() string { return "ffmpeg" }

func (t *Transcoder) Transcode(ctx context.Context, req transcode.Request) error {
	args, err := t.buildArgs(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTranscode)
	}

	cmd := exec.CommandContext(ctx, t.cfg.Binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = t.cfg.GracePeriod

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return errorsx.Wrap(fmt.Errorf("ffmpeg killed by context: %w", ctx.Err()), errorsx.ReasonTranscode)
		}
		t.logger.Error("ffmpeg_failed",
			slog.String("input", req.InputPath),
			slog.String("stderr", tail(stderr.String(), 2048)),
			slog.String("error", err.Error()))
		return errorsx.Wrap(fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String(), 512)), errorsx.ReasonTranscode)
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("ffmpeg produced no output: %w", err), errorsx.ReasonTranscode)
	}
	t.logger.Info("ffmpeg_done",
		slog.String("output", req.OutputPath),
		slog.Int64("bytes", info.Size()),
		slog.Duration("elapsed", elapsed))
	return nil
}

func (t *Transcoder) buildArgs(req transcode.Request) ([]string, error) {
	if req.InputPath == "" || req.OutputPath == "" {
		return nil, fmt.Errorf("ffmpeg: input and output paths are required")
	}
	if req.SampleRate <= 0 {
		return nil, fmt.Errorf("ffmpeg: invalid sample rate %d", req.SampleRate)
	}
	format := req.InputFormat
	if format == "" {
		format = "s16le"
	}
	channels := req.Channels
	if channels <= 0 {
		channels = 1
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", format,
		"-ar", strconv.Itoa(req.SampleRate),
		"-ac", strconv.Itoa(channels),
		"-i", req.InputPath,
		"-codec:a", t.cfg.Codec,
	}
	if req.Bitrate != "" {
		args = append(args, "-b:a", req.Bitrate)
	}
	return append(args, req.OutputPath), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var _ transcode.Transcoder = (*Transcoder)(nil)
