// Package sak ("swiss army knife") holds the small helpers that would
// otherwise be copy-pasted across packages in this module: a cancellable,
// forkable run status for actor goroutines, and a small number helper.
package sak

import (
	"context"
	"sync"
)

// RunStatus is a cancellable status shared between a parent actor and any
// goroutines it forks off. Halt is idempotent and safe to call from any
// goroutine; a fork's Done/Running reflect its own context, which is
// cancelled when the fork or any of its ancestors is halted.
type RunStatus struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     *sync.Mutex
}

// NewRunStatus creates a root RunStatus.
func NewRunStatus(parent context.Context) RunStatus {
	ctx, cancel := context.WithCancel(parent)
	return RunStatus{ctx: ctx, cancel: cancel, mu: &sync.Mutex{}}
}

// Fork returns a child RunStatus whose Done() fires whenever either the
// parent or the child is halted.
func (r RunStatus) Fork() RunStatus {
	ctx, cancel := context.WithCancel(r.ctx)
	return RunStatus{ctx: ctx, cancel: cancel, mu: r.mu}
}

// Halt cancels this status (and, transitively, every fork derived from it).
func (r RunStatus) Halt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel()
}

// Running reports whether Halt has not yet been called.
func (r RunStatus) Running() bool {
	select {
	case <-r.ctx.Done():
		return false
	default:
		return true
	}
}

// Done returns the channel that closes when this status is halted.
func (r RunStatus) Done() <-chan struct{} {
	return r.ctx.Done()
}

// Ctx exposes the underlying context, e.g. to pass to a blocking client call.
func (r RunStatus) Ctx() context.Context {
	return r.ctx
}

// Max returns the larger of two ints. Used for sizing channel buffers off
// of configuration values that might be zero or negative.
func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
