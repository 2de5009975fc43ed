package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/scribe/pkg/adapters/stt"
	"github.com/harunnryd/scribe/pkg/capture"
	"github.com/harunnryd/scribe/pkg/errorsx"
	"github.com/harunnryd/scribe/pkg/frames"
	"github.com/harunnryd/scribe/pkg/logging"
	"github.com/harunnryd/scribe/pkg/metrics"
	"github.com/harunnryd/scribe/pkg/pipeline"
	"github.com/harunnryd/scribe/pkg/transports"
)

// ErrDraining rejects new connections while the manager shuts down.
var ErrDraining = errorsx.New(errorsx.ReasonSessionClosed, "session manager draining")

// SinkOpener creates the durable sink for one session. onComplete must be
// invoked only after End has flushed every byte.
type SinkOpener func(path string, onComplete func(capture.Result)) (capture.Sink, error)

// PipelineRunner executes the post-capture stages for one session.
type PipelineRunner interface {
	Run(ctx context.Context, job pipeline.Job, listeners ...pipeline.StateListener) pipeline.Result
}

// Services are constructed once per process and shared by reference with
// every session.
type Services struct {
	Arena    *capture.Arena
	OpenSink SinkOpener
	// LiveSTT is optional. Nil disables the live channel.
	LiveSTT  stt.Factory
	Pipeline PipelineRunner
	Observer metrics.Observer
	Logger   *slog.Logger

	OnLiveTranscript func(frames.TranscriptFrame)
	OnReport         func(Report)
}

type Config struct {
	SampleRate  int
	Channels    int
	Bitrate     string
	Language    string
	// QueueSize bounds the per-session frame queue.
	QueueSize   int
	BufferSize  int
	LiveEnabled bool
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 44100
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.Bitrate == "" {
		c.Bitrate = "192k"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// Info is a point-in-time view of a session.
type Info struct {
	ID         string
	State      State
	Bytes      int64
	Frames     uint64
	RemoteAddr string
	Started    time.Time
	Paths      capture.Paths
}

// Manager accepts connections and runs one Session per connection.
type Manager struct {
	cfg      Config
	svc      Services
	ctx      context.Context
	logger   *slog.Logger
	registry *Registry

	mu        sync.RWMutex
	listeners []Listener
}

func NewManager(ctx context.Context, cfg Config, svc Services) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if svc.Arena == nil {
		return nil, errors.New("session: capture arena is required")
	}
	if svc.Pipeline == nil {
		return nil, errors.New("session: pipeline runner is required")
	}
	cfg = cfg.withDefaults()
	if svc.OpenSink == nil {
		bufSize := cfg.BufferSize
		svc.OpenSink = func(path string, onComplete func(capture.Result)) (capture.Sink, error) {
			return capture.OpenFileSink(path, bufSize, onComplete)
		}
	}
	if svc.Observer == nil {
		svc.Observer = metrics.NoopObserver{}
	}
	return &Manager{
		cfg:      cfg,
		svc:      svc,
		ctx:      ctx,
		logger:   logging.NewComponentLogger(svc.Logger, "session"),
		registry: NewRegistry(),
	}, nil
}

// AddListener registers l for state changes of sessions accepted afterwards.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Accept allocates a session's artifacts, opens its sink and live channel and
// starts its goroutine.
func (m *Manager) Accept(ctx context.Context, info transports.ConnInfo) (transports.Receiver, error) {
	if m.registry.Draining() {
		return nil, ErrDraining
	}
	if ctx == nil {
		ctx = m.ctx
	}
	id := uuid.NewString()
	logger := logging.NewSessionLogger(m.logger, id)

	paths, err := m.svc.Arena.Allocate(id)
	if err != nil {
		logger.Error("session_allocate_failed", slog.String("error", err.Error()))
		return nil, err
	}

	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.RUnlock()

	s := &Session{
		id:        id,
		info:      info,
		paths:     paths,
		cfg:       m.cfg,
		svc:       &m.svc,
		ctx:       m.ctx,
		logger:    logger,
		observer:  m.svc.Observer,
		listeners: listeners,
		onRelease: m.release,
		inbound:   make(chan event, m.cfg.QueueSize),
		control:   make(chan event, 4),
		done:      make(chan struct{}),
		started:   time.Now(),
	}
	s.state.Store(int32(StateConnected))

	sink, err := m.svc.OpenSink(paths.Raw, s.onSinkComplete)
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonSinkOpen)
		logger.Error("capture_open_failed", slog.String("error", err.Error()))
		m.discard(logger, paths)
		return nil, err
	}
	s.sink = sink

	if m.cfg.LiveEnabled && m.svc.LiveSTT != nil {
		m.startLive(ctx, s)
	}

	if !m.registry.Add(s) {
		_ = sink.Abort()
		s.endLive()
		m.discard(logger, paths)
		return nil, errorsx.New(errorsx.ReasonSinkOpen, "duplicate session id "+id)
	}
	s.record(metrics.EventSessionOpened, 0, nil)
	logger.Info("session_accepted",
		slog.String("remote_addr", info.RemoteAddr),
		slog.String("raw_path", paths.Raw),
		slog.Bool("live", s.live != nil))

	go s.run()
	return s, nil
}

func (m *Manager) startLive(ctx context.Context, s *Session) {
	live := m.svc.LiveSTT(stt.Config{
		SessionID:  s.id,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
		Language:   m.cfg.Language,
	})
	if live == nil {
		return
	}
	if err := live.Start(ctx); err != nil {
		s.logger.Warn("live_channel_unavailable",
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		s.record(metrics.EventLiveError, 0, map[string]string{"reason_code": string(errorsx.Reason(err))})
		go func() { _ = live.End() }()
		return
	}
	s.live = live
	s.liveWG.Add(1)
	go s.consumeLive(live)
}

// release delivers the report before deregistering, so Drain returns only
// after every report has been handed out.
func (m *Manager) release(s *Session, report Report) {
	if m.svc.OnReport != nil {
		m.svc.OnReport(report)
	}
	m.registry.Remove(s.id)
}

// Active returns the number of sessions that have not finished releasing.
func (m *Manager) discard(logger *slog.Logger, paths capture.Paths) {
	if err := m.svc.Arena.Discard(paths); err != nil {
		logger.Warn("capture_discard_failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) Active() int {
	return int(m.registry.Count())
}

// Sessions returns a snapshot ordered by start time.
func (m *Manager) Sessions() []Info {
	var out []Info
	m.registry.Range(func(s *Session) bool {
		out = append(out, Info{
			ID:         s.id,
			State:      s.State(),
			Bytes:      s.bytes.Load(),
			Frames:     s.frames.Load(),
			RemoteAddr: s.info.RemoteAddr,
			Started:    s.started,
			Paths:      s.paths,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Drain rejects new connections and waits until every session is closed.
func (m *Manager) Drain(ctx context.Context) error {
	m.registry.SetDraining(true)
	m.logger.Info("session_drain_started", slog.Int("active", m.Active()))
	if !m.registry.WaitForEmpty(ctx, 50*time.Millisecond) {
		m.logger.Warn("session_drain_incomplete", slog.Int("active", m.Active()))
		return ctx.Err()
	}
	m.logger.Info("session_drain_complete")
	return nil
}

var _ transports.Acceptor = (*Manager)(nil)
