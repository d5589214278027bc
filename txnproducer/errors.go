package txnproducer

import (
	"errors"
	"strings"

	"github.com/twmb/franz-go/pkg/kerr"
)

// ErrorKind classifies a producer-side failure: transient errors are
// retried by the caller, IllegalState triggers recovery, Fenced is
// terminal.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransient
	KindAuthorization
	KindIllegalState
	KindFenced
)

// Sentinel errors a fake Handle (e.g. in tests) can return directly; a real
// KgoHandle instead wraps whatever the broker/client surfaced and lets
// Classify pattern-match it.
var (
	ErrTransient     = errors.New("txnproducer: transient error")
	ErrAuthorization = errors.New("txnproducer: authorization error")
	ErrIllegalState  = errors.New("txnproducer: illegal producer state")
	ErrFenced        = errors.New("txnproducer: producer fenced")
)

// Classify maps an error returned by a Handle method to its ErrorKind.
// Sentinels are checked first (for fakes and for errors this package
// itself wraps), then well-known franz-go/kerr error codes, then a
// conservative transient fallback for transport errors.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	switch {
	case errors.Is(err, ErrFenced):
		return KindFenced
	case errors.Is(err, ErrIllegalState):
		return KindIllegalState
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrTransient):
		return KindTransient
	}

	switch {
	case errors.Is(err, kerr.ProducerFenced), errors.Is(err, kerr.InvalidProducerEpoch):
		return KindFenced
	case errors.Is(err, kerr.InvalidTxnState), errors.Is(err, kerr.OperationNotAttempted),
		errors.Is(err, kerr.ConcurrentTransactions), errors.Is(err, kerr.UnknownProducerID),
		errors.Is(err, kerr.InvalidProducerIDMapping):
		return KindIllegalState
	case errors.Is(err, kerr.ClusterAuthorizationFailed), errors.Is(err, kerr.TransactionalIDAuthorizationFailed):
		return KindAuthorization
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "fenced") {
		return KindFenced
	}
	if strings.Contains(msg, "illegal") || strings.Contains(msg, "invalid producer") {
		return KindIllegalState
	}
	if strings.Contains(msg, "authoriz") {
		return KindAuthorization
	}
	return KindTransient
}
