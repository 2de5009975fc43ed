// Package capture owns the per-session temporary artifacts: the arena that
// allocates unique paths and the durable sink that accumulates raw PCM.
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/scribe/pkg/errorsx"
)

const (
	rawName        = "capture.raw"
	compressedName = "capture.mp3"
	transcriptName = "transcript.json"
)

// Paths are the artifact locations owned by exactly one session.
type Paths struct {
	Dir        string
	Raw        string
	Compressed string
	Transcript string
}

// Arena allocates a private directory per session under a common root.
type Arena struct {
	root string
}

func NewArena(root string) (*Arena, error) {
	if strings.TrimSpace(root) == "" {
		root = filepath.Join(os.TempDir(), "scribe")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("create capture root: %w", err), errorsx.ReasonSinkOpen)
	}
	return &Arena{root: root}, nil
}

func (a *Arena) Root() string { return a.root }

// SessionDir is the directory Allocate creates for sessionID.
func (a *Arena) SessionDir(sessionID string) string {
	return filepath.Join(a.root, sessionID)
}

// Allocate creates the session directory. It fails when the directory already
// exists, so two live sessions can never share artifacts.
func (a *Arena) Allocate(sessionID string) (Paths, error) {
	if sessionID == "" || sessionID != filepath.Base(sessionID) || sessionID == "." || sessionID == ".." {
		return Paths{}, errorsx.New(errorsx.ReasonSinkOpen, "invalid session id for capture path: "+sessionID)
	}
	dir := a.SessionDir(sessionID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return Paths{}, errorsx.Wrap(fmt.Errorf("allocate %s: %w", dir, err), errorsx.ReasonSinkOpen)
	}
	return Paths{
		Dir:        dir,
		Raw:        filepath.Join(dir, rawName),
		Compressed: filepath.Join(dir, compressedName),
		Transcript: filepath.Join(dir, transcriptName),
	}, nil
}

// Discard removes a directory handed out by Allocate whose session never
// started.
func (a *Arena) Discard(p Paths) error {
	if p.Dir == "" || filepath.Dir(p.Dir) != filepath.Clean(a.root) {
		return fmt.Errorf("discard %q: not a session directory under %s", p.Dir, a.root)
	}
	return os.RemoveAll(p.Dir)
}

// Purge removes session directories whose last modification is older than
// maxAge. It is only run when the operator configures a retention window.
func (a *Arena) Purge(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return 0, err
	}
	var removed int
	var errs error
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.root, entry.Name())); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}
