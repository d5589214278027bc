// Package txnproducer is the thin contract over the underlying log's
// transactional producer: init_transactions, begin, put_records, commit,
// abort, close.
package txnproducer

import "context"

// Handle is the contract a Machine drives. InitTransactions is
// asynchronous (network-bound, retried by the caller on failure);
// Begin/Commit/Abort are treated as synchronous transaction-boundary
// calls; PutRecords is asynchronous, resolving one Result per input
// Record in input order.
type Handle interface {
	// InitTransactions acquires (or re-acquires) the transactional
	// producer identity. May fail with KindAuthorization, KindIllegalState,
	// or KindTransient; the caller retries indefinitely with backoff.
	InitTransactions(ctx context.Context) error

	// Begin opens a transaction. May fail with KindIllegalState (recoverable)
	// or KindFenced (terminal).
	Begin() error

	// PutRecords produces every record and waits for all acks, returning
	// one Result per Record in the same order they were given.
	PutRecords(ctx context.Context, records []Record) []Result

	// Commit ends the open transaction successfully. May fail with
	// KindIllegalState or KindFenced.
	Commit(ctx context.Context) error

	// Abort ends the open transaction unsuccessfully. Errors are expected
	// to be swallowed by the caller.
	Abort(ctx context.Context) error

	// Close releases the transactional identity. Idempotent.
	Close()
}
