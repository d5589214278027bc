package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/sebastianharko/surge-go/metrics"
)

// Facade is the caller-facing handle exposing publish,
// is_aggregate_state_current, health_check, and terminate. Every operation
// is values-in/values-out; nothing here exposes a reference to Machine's
// internal state.
type Facade struct {
	machine    *Machine
	askTimeout time.Duration
}

// NewFacade wraps machine, using askTimeout for any call whose ctx has no
// deadline of its own.
func NewFacade(machine *Machine, askTimeout time.Duration) *Facade {
	return &Facade{machine: machine, askTimeout: askTimeout}
}

// TimeoutError is returned when an ask exceeds its timeout.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("publisher: %s timed out", e.Op)
}

// Publish asks the Machine to publish req, awaiting PublishSuccess or
// PublishFailure with an ask-with-timeout.
func (f *Facade) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if req.AggregateID == "" {
		return PublishResult{}, fmt.Errorf("publisher: publish request has no aggregate id")
	}
	if req.State.Key != req.AggregateID {
		return PublishResult{}, fmt.Errorf("publisher: state record key %q does not match aggregate id %q",
			req.State.Key, req.AggregateID)
	}

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	reply := make(chan PublishResult, 1)
	env := publishEnvelope{req: req, reply: reply, traceCtx: traceCtxFrom(ctx)}

	select {
	case f.machine.publishCh <- env:
	case <-ctx.Done():
		return PublishResult{}, &TimeoutError{Op: "publish"}
	case <-f.machine.Done():
		return PublishResult{}, ErrTerminated
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return PublishResult{}, &TimeoutError{Op: "publish"}
	case <-f.machine.Done():
		return PublishResult{}, ErrTerminated
	}
}

// IsAggregateStateCurrent asks whether aggregateID's latest committed
// write is visible for reads yet. expiration bounds how long the
// underlying PendingInit may wait for KTable catch-up, independent of
// ctx's own deadline.
func (f *Facade) IsAggregateStateCurrent(ctx context.Context, aggregateID string, expiration time.Time) (bool, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	reply := make(chan bool, 1)
	env := isCurrentEnvelope{aggregateID: aggregateID, expiration: expiration, reply: reply, traceCtx: traceCtxFrom(ctx)}

	select {
	case f.machine.isCurrentCh <- env:
	case <-ctx.Done():
		return false, &TimeoutError{Op: "is_aggregate_state_current"}
	case <-f.machine.Done():
		return false, ErrTerminated
	}

	select {
	case decision := <-reply:
		return decision, nil
	case <-ctx.Done():
		return false, &TimeoutError{Op: "is_aggregate_state_current"}
	case <-f.machine.Done():
		return false, ErrTerminated
	}
}

// HealthCheck asks the Machine for its health, returning DOWN on any
// error rather than propagating a failed future.
func (f *Facade) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	reply := make(chan HealthStatus, 1)
	select {
	case f.machine.healthCh <- healthEnvelope{reply: reply}:
	case <-ctx.Done():
		return metrics.HealthDown
	case <-f.machine.Done():
		return metrics.HealthDown
	}

	select {
	case status := <-reply:
		return status
	case <-ctx.Done():
		return metrics.HealthDown
	case <-f.machine.Done():
		return metrics.HealthDown
	}
}

// Terminate best-effort, gracefully stops the Machine. Idempotent: calling
// it again after the Machine has already stopped is a no-op.
func (f *Facade) Terminate(ctx context.Context) error {
	select {
	case <-f.machine.Done():
		return nil
	default:
	}

	done := make(chan struct{})
	select {
	case f.machine.terminateCh <- terminateEnvelope{done: done}:
	case <-f.machine.Done():
		return nil
	case <-ctx.Done():
		return &TimeoutError{Op: "terminate"}
	}

	select {
	case <-done:
		return nil
	case <-f.machine.Done():
		return nil
	case <-ctx.Done():
		return &TimeoutError{Op: "terminate"}
	}
}

func (f *Facade) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.askTimeout)
}

// traceCtxFrom extracts the opaque correlation id a caller may have
// attached to ctx, so it can be echoed on the reply. Absent a
// caller-supplied id, the envelope simply carries an empty trace context.
func traceCtxFrom(ctx context.Context) string {
	if v, ok := ctx.Value(traceCtxKey{}).(string); ok {
		return v
	}
	return ""
}

type traceCtxKey struct{}

// WithTraceCtx attaches an opaque correlation id to ctx for Facade calls to
// echo through the publisher's internal envelopes.
func WithTraceCtx(ctx context.Context, traceCtx string) context.Context {
	return context.WithValue(ctx, traceCtxKey{}, traceCtx)
}
