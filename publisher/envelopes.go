package publisher

import "time"

// The publish and is-current envelopes carry an opaque TraceCtx taken from
// the caller's context, so the surrounding ask/reply tracing context can be
// transported out-of-band. The Machine echoes a publish envelope's TraceCtx
// on its PublishResult; the is-current reply is a bare bool and does not
// echo it.

type publishEnvelope struct {
	req      PublishRequest
	reply    chan PublishResult
	traceCtx string
}

type isCurrentEnvelope struct {
	aggregateID string
	expiration  time.Time
	reply       chan bool
	traceCtx    string
}

type progressEnvelope struct {
	current int64
	end     int64
}

type healthEnvelope struct {
	reply chan HealthStatus
}

type terminateEnvelope struct {
	done chan struct{}
}
