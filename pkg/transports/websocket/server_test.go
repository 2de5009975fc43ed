package websocket

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/scribe/pkg/frames"
	"github.com/harunnryd/scribe/pkg/transports"
)

type recordingReceiver struct {
	id     string
	failAt int
	mu     sync.Mutex
	frames []frames.AudioFrame
	closed chan error
	closeN int
}

func newReceiver(id string) *recordingReceiver {
	return &recordingReceiver{id: id, closed: make(chan error, 2)}
}

func (r *recordingReceiver) SessionID() string { return r.id }

func (r *recordingReceiver) OnFrame(f frames.AudioFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.frames)+1 >= r.failAt {
		return errors.New("sink failed")
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingReceiver) OnClose(err error) {
	r.mu.Lock()
	r.closeN++
	r.mu.Unlock()
	r.closed <- err
}

func (r *recordingReceiver) payload() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var buf bytes.Buffer
	for _, f := range r.frames {
		buf.Write(f.RawPayload())
	}
	return buf.Bytes()
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitClose(t *testing.T, r *recordingReceiver) error {
	t.Helper()
	select {
	case err := <-r.closed:
		return err
	case <-time.After(3 * time.Second):
		t.Fatalf("receiver never saw close")
		return nil
	}
}

func TestServerDeliversBinaryFramesInOrder(t *testing.T) {
	rcv := newReceiver("s1")
	var gotInfo transports.ConnInfo
	s := New(Config{SampleRate: 16000}, transports.AcceptorFunc(func(ctx context.Context, info transports.ConnInfo) (transports.Receiver, error) {
		gotInfo = info
		return rcv, nil
	}))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, nil)
	var want bytes.Buffer
	for i := 0; i < 20; i++ {
		msg := bytes.Repeat([]byte{byte(i)}, 100+i)
		want.Write(msg)
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		if i == 5 {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"ignored":true}`)); err != nil {
				t.Fatalf("write text: %v", err)
			}
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	if err := waitClose(t, rcv); err != nil {
		t.Fatalf("normal close should carry no error, got %v", err)
	}
	if !bytes.Equal(rcv.payload(), want.Bytes()) {
		t.Fatalf("payload mismatch")
	}
	rcv.mu.Lock()
	defer rcv.mu.Unlock()
	if len(rcv.frames) != 20 {
		t.Fatalf("expected 20 frames, got %d", len(rcv.frames))
	}
	for i, f := range rcv.frames {
		if f.Seq() != uint64(i+1) || f.Rate() != 16000 || f.Channels() != 1 {
			t.Fatalf("frame %d: seq=%d rate=%d ch=%d", i, f.Seq(), f.Rate(), f.Channels())
		}
	}
	if gotInfo.RemoteAddr == "" {
		t.Fatalf("conn info should carry the remote address")
	}
	if rcv.closeN != 1 {
		t.Fatalf("expected exactly one close, got %d", rcv.closeN)
	}
}

func TestServerAbruptDisconnectReportsError(t *testing.T) {
	rcv := newReceiver("s2")
	s := New(Config{}, transports.AcceptorFunc(func(ctx context.Context, info transports.ConnInfo) (transports.Receiver, error) {
		return rcv, nil
	}))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, nil)
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
	conn.UnderlyingConn().Close()

	if err := waitClose(t, rcv); err == nil {
		t.Fatalf("abrupt disconnect should surface a transport error")
	}
}

func TestServerClosesConnectionWhenReceiverFails(t *testing.T) {
	rcv := newReceiver("s3")
	rcv.failAt = 2
	s := New(Config{}, transports.AcceptorFunc(func(ctx context.Context, info transports.ConnInfo) (transports.Receiver, error) {
		return rcv, nil
	}))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, nil)
	defer conn.Close()
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1})
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{2})

	if err := waitClose(t, rcv); err == nil {
		t.Fatalf("expected receiver error to be passed to OnClose")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseInternalServerErr) {
		t.Fatalf("expected internal error close frame, got %v", err)
	}
}

func TestServerRejectedAcceptClosesConnection(t *testing.T) {
	s := New(Config{}, transports.AcceptorFunc(func(ctx context.Context, info transports.ConnInfo) (transports.Receiver, error) {
		return nil, errors.New("draining")
	}))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, nil)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("expected try-again-later close, got %v", err)
	}
}

func TestCheckOrigin(t *testing.T) {
	s := New(Config{AllowedOrigins: []string{"https://app.example.com", "localhost:3000"}}, nil)
	cases := map[string]bool{
		"":                         true,
		"https://app.example.com":  true,
		"https://app.example.com/": true,
		"http://localhost:3000":    true,
		"https://evil.example.com": false,
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		if got := s.checkOrigin(req); got != want {
			t.Fatalf("origin %q: got %v want %v", origin, got, want)
		}
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("scribe_sessions_opened_total 0\n"))
	})
	s := New(Config{}, nil, WithMetricsHandler(metrics))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %v %v", resp, err)
	}
	resp.Body.Close()

	_ = s.Stop()
	resp, err = http.Get(srv.URL + "/health")
	if err != nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("health after stop should be 503: %v %v", resp, err)
	}
	resp.Body.Close()
}

func TestStartStopOnEphemeralPort(t *testing.T) {
	rcv := newReceiver("s4")
	s := New(Config{ServerAddr: "127.0.0.1:0"}, transports.AcceptorFunc(func(ctx context.Context, info transports.ConnInfo) (transports.Receiver, error) {
		return rcv, nil
	}))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	url := s.ReadyFields()["ws_url"].(string)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})

	// Give the read loop a chance to see the frame before shutting down.
	deadline := time.Now().Add(2 * time.Second)
	for len(rcv.payload()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := waitClose(t, rcv); err != nil {
		t.Fatalf("server shutdown should close sessions cleanly, got %v", err)
	}
}

func TestTrackRefusesConnectionsOnceStopping(t *testing.T) {
	s := New(Config{}, transports.AcceptorFunc(func(ctx context.Context, info transports.ConnInfo) (transports.Receiver, error) {
		return newReceiver("s5"), nil
	}))
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// A handler that passed the draining check before Stop reaches track
	// only after Stop has waited on the group.
	late := &websocket.Conn{}
	if s.track(late) {
		t.Fatalf("expected a connection upgraded during stop to be refused")
	}
	s.mu.Lock()
	_, tracked := s.conns[late]
	s.mu.Unlock()
	if tracked {
		t.Fatalf("refused connection must not be tracked")
	}
	// The group must still be balanced so a second waiter returns at once.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("wait group left unbalanced by a refused connection")
	}
}
