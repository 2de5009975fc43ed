package metrics

import (
	"sync"
	"sync/atomic"
)

// AsyncObserver decouples event producers from a slow inner observer.
// Events are dropped, never blocked on, when the buffer is full, except for
// the critical names given at construction: those wait for room so that
// per-session sinks always see the events that finalize a session.
type AsyncObserver struct {
	inner    Observer
	ch       chan MetricsEvent
	done     chan struct{}
	critical map[string]struct{}
	dropped  atomic.Int64
	closed   atomic.Bool
	mu       sync.RWMutex
	once     sync.Once
}

func NewAsyncObserver(inner Observer, buffer int, critical ...string) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner:    inner,
		ch:       make(chan MetricsEvent, buffer),
		done:     make(chan struct{}),
		critical: make(map[string]struct{}, len(critical)),
	}
	for _, name := range critical {
		a.critical[name] = struct{}{}
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed.Load() {
		return
	}
	if _, ok := a.critical[ev.Name]; ok {
		a.ch <- ev
		return
	}
	select {
	case a.ch <- ev:
	default:
		a.dropped.Add(1)
	}
}

// Dropped counts non-critical events lost to a full buffer.
func (a *AsyncObserver) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until the buffered ones are delivered.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.mu.Lock()
		a.closed.Store(true)
		close(a.ch)
		a.mu.Unlock()
	})
	<-a.done
}

func (a *AsyncObserver) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.inner.RecordEvent(ev)
	}
}
