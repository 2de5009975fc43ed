package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Registry tracks live sessions by id. It never serializes sessions against
// each other; lookups and removals are lock-free per key.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	draining atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add stores s and reports false if the id is already taken.
func (r *Registry) Add(s *Session) bool {
	if _, loaded := r.sessions.LoadOrStore(s.ID(), s); loaded {
		return false
	}
	r.count.Add(1)
	return true
}

func (r *Registry) Get(id string) (*Session, bool) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Session), true
	}
	return nil, false
}

func (r *Registry) Remove(id string) {
	if _, ok := r.sessions.LoadAndDelete(id); ok {
		r.count.Add(-1)
	}
}

func (r *Registry) Range(fn func(*Session) bool) {
	r.sessions.Range(func(_, value any) bool {
		return fn(value.(*Session))
	})
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
