package transports

import (
	"context"
	"time"

	"github.com/harunnryd/scribe/pkg/frames"
)

// ConnInfo describes an accepted client connection.
type ConnInfo struct {
	RemoteAddr string
	Origin     string
	UserAgent  string
	Accepted   time.Time
	// Meta carries transport-specific attributes, e.g. query parameters.
	Meta map[string]string
}

// Receiver consumes one connection's frames. The transport calls OnFrame in
// arrival order from a single goroutine and OnClose exactly once afterwards.
type Receiver interface {
	// SessionID identifies the session bound to the connection.
	SessionID() string
	// OnFrame delivers one binary message. A non-nil error makes the
	// transport close the connection.
	OnFrame(frame frames.AudioFrame) error
	// OnClose delivers the terminal signal. err is nil on a normal close.
	OnClose(err error)
}

// Acceptor binds a new connection to a receiver. Returning an error rejects
// the connection.
type Acceptor interface {
	Accept(ctx context.Context, info ConnInfo) (Receiver, error)
}

// AcceptorFunc adapts a function to Acceptor.
type AcceptorFunc func(ctx context.Context, info ConnInfo) (Receiver, error)

func (f AcceptorFunc) Accept(ctx context.Context, info ConnInfo) (Receiver, error) {
	return f(ctx, info)
}

// Transport is a listening endpoint that feeds accepted connections to an
// Acceptor. Implementations are responsible for their own network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// ReadyReporter allows transports to expose readiness metadata (e.g., listen addresses).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
