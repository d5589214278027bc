package publisher

import "time"

// PendingWrite is a queued publish request awaiting the next flush.
// Preserves FIFO arrival order within the owned partition.
type PendingWrite struct {
	Sender   chan<- PublishResult
	Request  PublishRequest
	TraceCtx string
}

// PendingInit is an is-current query awaiting either KTable catch-up or
// expiration. Expiration is an absolute wall-clock instant.
type PendingInit struct {
	Sender      chan<- bool
	AggregateID string
	Expiration  time.Time
}

// InitDecision pairs a PendingInit's sender with the decision to deliver.
type InitDecision struct {
	Sender   chan<- bool
	Decision bool
}

// KTableProgress is the owned partition's latest lag snapshot.
type KTableProgress struct {
	Current int64
	End     int64
}

// State is the pure data structure owned exclusively by one Machine. Every
// mutator returns a new State; none of State's fields are exported, so its
// invariants (at most one ack per aggregate, FIFO write order, exactly one
// of {no-txn, in-progress}) can only be broken from within this package.
type State struct {
	inFlight      map[string]RecordAck
	pendingWrites []PendingWrite
	pendingInits  []PendingInit
	txnStartedAt  *time.Time
}

// NewState returns the empty State a Machine starts with on entering Ready.
func NewState() State {
	return State{inFlight: map[string]RecordAck{}}
}

func (s State) clone() State {
	next := State{
		inFlight:      make(map[string]RecordAck, len(s.inFlight)),
		pendingWrites: append([]PendingWrite(nil), s.pendingWrites...),
		pendingInits:  append([]PendingInit(nil), s.pendingInits...),
		txnStartedAt:  s.txnStartedAt,
	}
	for k, v := range s.inFlight {
		next.inFlight[k] = v
	}
	return next
}

// AddInFlight replaces each acked aggregate's entry only if the new offset
// is strictly greater than what is already recorded. Acks without an
// aggregate id (event records) are ignored here; they carry no
// per-aggregate readiness meaning.
func (s State) AddInFlight(acks []RecordAck) State {
	next := s.clone()
	for _, ack := range acks {
		if ack.AggregateID == "" {
			continue
		}
		if existing, ok := next.inFlight[ack.AggregateID]; !ok || ack.Offset > existing.Offset {
			next.inFlight[ack.AggregateID] = ack
		}
	}
	return next
}

// InFlightFor returns the current in-flight ack for aggregateID, if any.
func (s State) InFlightFor(aggregateID string) (RecordAck, bool) {
	ack, ok := s.inFlight[aggregateID]
	return ack, ok
}

// AddPendingWrite appends a write to the FIFO.
func (s State) AddPendingWrite(sender chan<- PublishResult, req PublishRequest, traceCtx string) State {
	next := s.clone()
	next.pendingWrites = append(next.pendingWrites, PendingWrite{Sender: sender, Request: req, TraceCtx: traceCtx})
	return next
}

// FlushWrites drains the pending-write FIFO, returning it in arrival order
// and leaving State's pending writes empty.
func (s State) FlushWrites() (State, []PendingWrite) {
	drained := s.pendingWrites
	next := s.clone()
	next.pendingWrites = nil
	return next, drained
}

// RequeueWrites re-inserts writes at the front of the pending FIFO. Used
// when a flush drains more requests than the configured transaction-max-
// records cap allows; the excess is put back so it flushes next cycle
// without losing its place in line.
func (s State) RequeueWrites(writes []PendingWrite) State {
	next := s.clone()
	next.pendingWrites = append(append([]PendingWrite(nil), writes...), next.pendingWrites...)
	return next
}

// AddPendingInit accumulates a readiness query. Duplicates by aggregate id
// are permitted; each sender gets its own reply.
func (s State) AddPendingInit(sender chan<- bool, aggregateID string, expiration time.Time) State {
	next := s.clone()
	next.pendingInits = append(next.pendingInits, PendingInit{
		Sender:      sender,
		AggregateID: aggregateID,
		Expiration:  expiration,
	})
	return next
}

// ProcessedUpTo evaluates every PendingInit against progress and now, in
// insertion order, against a single `now` sampled once at call entry.
//
//   - not in-flight            -> true, removed from pendingInits
//   - in-flight offset <= current -> true, in-flight entry removed, removed from pendingInits
//   - now >= expiration        -> false, removed from pendingInits
//   - otherwise                -> remains pending
func (s State) ProcessedUpTo(progress KTableProgress, now time.Time) (State, []InitDecision) {
	next := s.clone()
	var decisions []InitDecision
	var remaining []PendingInit

	for _, p := range next.pendingInits {
		ack, inFlight := next.inFlight[p.AggregateID]
		switch {
		case !inFlight:
			decisions = append(decisions, InitDecision{Sender: p.Sender, Decision: true})
		case ack.Offset <= progress.Current:
			delete(next.inFlight, p.AggregateID)
			decisions = append(decisions, InitDecision{Sender: p.Sender, Decision: true})
		case !now.Before(p.Expiration):
			decisions = append(decisions, InitDecision{Sender: p.Sender, Decision: false})
		default:
			remaining = append(remaining, p)
		}
	}
	next.pendingInits = remaining
	return next, decisions
}

// BeginTransaction records the transaction-start instant.
func (s State) BeginTransaction(now time.Time) State {
	next := s.clone()
	t := now
	next.txnStartedAt = &t
	return next
}

// EndTransaction clears the transaction-start instant.
func (s State) EndTransaction() State {
	next := s.clone()
	next.txnStartedAt = nil
	return next
}

// InTransaction reports whether a transaction is currently open.
func (s State) InTransaction() bool {
	return s.txnStartedAt != nil
}

// TransactionElapsed returns now - start-instant if a transaction is open,
// else 0.
func (s State) TransactionElapsed(now time.Time) time.Duration {
	if s.txnStartedAt == nil {
		return 0
	}
	return now.Sub(*s.txnStartedAt)
}

// PendingWriteCount reports how many writes are queued for the next flush.
func (s State) PendingWriteCount() int {
	return len(s.pendingWrites)
}

// PendingInitCount reports how many is-current queries remain unresolved.
func (s State) PendingInitCount() int {
	return len(s.pendingInits)
}
