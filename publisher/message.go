// Package publisher implements the per-partition transactional publisher:
// the pure state, the single-writer state machine, and the caller-facing
// facade.
package publisher

import "github.com/sebastianharko/surge-go/txnproducer"

// Header is re-exported from txnproducer so callers building a
// PublishRequest never need to import that package directly.
type Header = txnproducer.Header

// MessageToPublish is a single logical record: key, value, and ordered
// headers.
type MessageToPublish struct {
	Key     string
	Value   []byte
	Headers []Header
}

// PublishRequest is one aggregate's state write plus the events it
// produced. State.Key must equal AggregateID.
type PublishRequest struct {
	AggregateID string
	State       MessageToPublish
	Events      []MessageToPublish
}

// PublishResult is the outcome delivered to a publish() caller. TraceCtx
// echoes whatever correlation id the request's envelope carried, so a
// caller driving many concurrent publishes can match replies back up.
type PublishResult struct {
	Success  bool
	StateAck RecordAck
	Err      error
	TraceCtx string
}

// RecordAck is the broker acknowledgement for a single produced record on
// the state topic, keyed by aggregate id.
type RecordAck = txnproducer.Ack
