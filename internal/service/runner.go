package service

import (
	"context"
	"sync"
)

// Runner adapts a blocking run loop into the Service interface: Start
// spawns run in a goroutine and returns immediately, Stop cancels its
// context and waits for it to unwind. It's the one general-purpose
// spawn-then-cancel-and-wait wrapper the SentinelCam binaries share,
// rather than each service implementing its own.
type Runner struct {
	name string
	run  func(ctx context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewRunner wraps run as a Service named name.
func NewRunner(name string, run func(ctx context.Context) error) *Runner {
	return &Runner{name: name, run: run}
}

// Name returns the service's registered name.
func (r *Runner) Name() string { return r.name }

// Start launches run in a goroutine bound to a child of ctx, returning
// immediately.
func (r *Runner) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.err = r.run(runCtx)
	}()
	return nil
}

// Stop cancels the run loop's context and waits for it to return, or for
// ctx to expire first.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
