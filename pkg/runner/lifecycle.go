package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var _ Runner = (*LifecycleRunner)(nil)

type LifecycleRunner struct {
	state    int32
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration
	banner   io.Writer
	logger   *slog.Logger
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		state:   int32(StateNew),
		ctx:     ctx,
		cancel:  cancel,
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		banner:  os.Stdout,
		logger:  slog.Default(),
	}
}

// WithBanner redirects the startup banner; nil suppresses it.
func (r *LifecycleRunner) WithBanner(w io.Writer) *LifecycleRunner {
	r.banner = w
	return r
}

// WithLogger sets the logger used for drain reporting.
func (r *LifecycleRunner) WithLogger(l *slog.Logger) *LifecycleRunner {
	if l != nil {
		r.logger = l
	}
	return r
}

// Run starts the hooks and blocks until ctx is cancelled or Stop is called,
// then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("invalid state transition")
	}
	PrintBanner(r.banner)
	r.mu.Lock()
	if ctx != nil {
		// A Stop that raced ahead of Run cancelled the previous context.
		prev := r.ctx
		r.ctx, r.cancel = context.WithCancel(ctx)
		context.AfterFunc(prev, r.cancel)
	}
	runCtx, cancel := r.ctx, r.cancel
	r.mu.Unlock()

	if r.hooks.OnStart != nil {
		if err := r.hooks.OnStart(runCtx); err != nil {
			cancel()
			r.setState(StateStopped)
			return fmt.Errorf("start: %w", err)
		}
	}
	r.setState(StateRunning)
	<-runCtx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		if r.drainer != nil {
			start := time.Now()
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			if err := r.drainer.Drain(ctx); err != nil {
				r.stopErr = fmt.Errorf("drain timeout: %w", err)
				r.logger.Warn("drain_timeout",
					slog.Duration("timeout", r.timeout),
					slog.String("error", err.Error()))
			} else {
				r.logger.Info("drain_complete", slog.Int64("duration_ms", time.Since(start).Milliseconds()))
			}
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
