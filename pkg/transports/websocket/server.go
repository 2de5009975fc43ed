package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/scribe/pkg/errorsx"
	"github.com/harunnryd/scribe/pkg/frames"
	"github.com/harunnryd/scribe/pkg/logging"
	"github.com/harunnryd/scribe/pkg/transports"
)

type Config struct {
	ServerAddr     string   `mapstructure:"addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	MetricsPath    string   `mapstructure:"metrics_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// ReadLimit caps the size of one binary message in bytes.
	ReadLimit  int64 `mapstructure:"read_limit"`
	SampleRate int   `mapstructure:"sample_rate"`
	Channels   int   `mapstructure:"channels"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 44100
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

type Option func(*Server)

// WithMetricsHandler exposes h on the configured metrics path.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = logging.NewComponentLogger(l, "ws_transport") }
}

// Server accepts one websocket connection per client and delivers its binary
// messages, in order, to the Receiver returned by the Acceptor.
type Server struct {
	cfg      Config
	acceptor transports.Acceptor
	metrics  http.Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener
	baseCtx  context.Context

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup

	draining atomic.Bool
}

func New(cfg Config, acceptor transports.Acceptor, opts ...Option) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:      cfg,
		acceptor: acceptor,
		logger:   logging.NewComponentLogger(nil, "ws_transport"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16384,
			WriteBufferSize: 4096,
		},
		baseCtx: context.Background(),
		conns:   make(map[*websocket.Conn]struct{}),
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Name() string { return "websocket" }

// Handler returns the HTTP routes served by the transport.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.WebsocketPath, s)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if s.metrics != nil {
		mux.Handle(s.cfg.MetricsPath, s.metrics)
	}
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.baseCtx = ctx
	ln, err := net.Listen("tcp", s.cfg.ServerAddr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           s.Handler(),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ws_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("ws_transport_listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("path", s.cfg.WebsocketPath))
	return nil
}

// Stop refuses new connections and closes open ones. Each open connection
// still delivers its terminal signal to its receiver.
func (s *Server) Stop() error {
	if !s.draining.CompareAndSwap(false, true) {
		return nil
	}
	if s.server != nil {
		_ = s.server.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.ServerAddr
	}
	return s.listener.Addr().String()
}

func (s *Server) ReadyFields() map[string]any {
	return map[string]any{
		"ws_url":     "ws://" + s.Addr() + s.cfg.WebsocketPath,
		"health_url": "http://" + s.Addr() + "/health",
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed",
			slog.String("reason_code", string(errorsx.ReasonTransportUpgrade)),
			slog.String("error", err.Error()))
		return
	}
	if !s.track(conn) {
		s.writeClose(conn, websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)
	defer conn.Close()
	conn.SetReadLimit(s.cfg.ReadLimit)

	info := transports.ConnInfo{
		RemoteAddr: r.RemoteAddr,
		Origin:     r.Header.Get("Origin"),
		UserAgent:  r.UserAgent(),
		Accepted:   time.Now(),
		Meta:       queryMeta(r),
	}
	rcv, err := s.acceptor.Accept(s.baseCtx, info)
	if err != nil {
		s.logger.Warn("ws_accept_rejected",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		s.writeClose(conn, websocket.CloseTryAgainLater, "session rejected")
		return
	}
	logger := logging.NewSessionLogger(s.logger, rcv.SessionID())
	logger.Info("ws_connection_accepted", slog.String("remote_addr", r.RemoteAddr))

	meta := map[string]string{
		frames.MetaSource: "ws",
		frames.MetaRemote: r.RemoteAddr,
	}
	var seq frames.SeqGen
	var closeErr error
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if !isNormalClose(err) && !s.draining.Load() {
				closeErr = errorsx.Wrap(err, errorsx.ReasonTransportRead)
			}
			break
		}
		if mt != websocket.BinaryMessage {
			logger.Debug("ws_non_binary_ignored", slog.Int("message_type", mt))
			continue
		}
		if len(msg) == 0 {
			continue
		}
		f := frames.NewAudioFrame(rcv.SessionID(), seq.Next(), time.Now().UnixNano(), msg, s.cfg.SampleRate, s.cfg.Channels, meta)
		if err := rcv.OnFrame(f); err != nil {
			logger.Error("ws_receiver_failed",
				slog.String("reason_code", string(errorsx.Reason(err))),
				slog.String("error", err.Error()))
			s.writeClose(conn, websocket.CloseInternalServerErr, "session failed")
			closeErr = err
			break
		}
	}
	rcv.OnClose(closeErr)
	logger.Info("ws_connection_closed", slog.Uint64("frames", seq.Last()))
}

// track registers c for shutdown. It refuses once Stop has begun, since Stop
// may already be waiting on the group.
func (s *Server) track(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining.Load() {
		return false
	}
	s.wg.Add(1)
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) writeClose(c *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}

func queryMeta(r *http.Request) map[string]string {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}

var (
	_ transports.Transport     = (*Server)(nil)
	_ transports.ReadyReporter = (*Server)(nil)
)
