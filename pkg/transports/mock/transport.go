package mock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/scribe/pkg/frames"
	"github.com/harunnryd/scribe/pkg/transports"
)

var ErrClosed = errors.New("mock connection closed")

// Transport is an in-memory transport for local testing and integration.
// Each Open call behaves like one accepted client connection.
type Transport struct {
	acceptor   transports.Acceptor
	sampleRate int
	channels   int
	ctx        context.Context

	mu     sync.Mutex
	conns  []*Conn
	closed atomic.Bool
}

func New(acceptor transports.Acceptor) *Transport {
	return &Transport{acceptor: acceptor, sampleRate: 44100, channels: 1, ctx: context.Background()}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.ctx = ctx
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

// Stop closes every open connection normally.
func (t *Transport) Stop() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	conns := append([]*Conn(nil), t.conns...)
	t.mu.Unlock()
	for _, c := range conns {
		c.Close(nil)
	}
	return nil
}

// Open simulates a client connecting.
func (t *Transport) Open(info transports.ConnInfo) (*Conn, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if info.Accepted.IsZero() {
		info.Accepted = time.Now()
	}
	rcv, err := t.acceptor.Accept(t.ctx, info)
	if err != nil {
		return nil, err
	}
	c := &Conn{rcv: rcv, rate: t.sampleRate, ch: t.channels}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

// Conn is one simulated client connection.
type Conn struct {
	rcv  transports.Receiver
	rate int
	ch   int
	seq  frames.SeqGen

	mu     sync.Mutex
	closed bool
	err    error
}

func (c *Conn) SessionID() string { return c.rcv.SessionID() }

// Send delivers one binary message. When the receiver rejects it the
// connection is closed, as a network transport would.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	f := frames.NewAudioFrame(c.rcv.SessionID(), c.seq.Next(), time.Now().UnixNano(), data, c.rate, c.ch,
		map[string]string{frames.MetaSource: "mock"})
	if err := c.rcv.OnFrame(f); err != nil {
		c.closed = true
		c.err = err
		c.rcv.OnClose(err)
		return err
	}
	return nil
}

// Close delivers the terminal signal once.
func (c *Conn) Close(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	c.rcv.OnClose(err)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Err returns the error that closed the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

var _ transports.Transport = (*Transport)(nil)
