// Package config holds the typed, validated configuration for a
// per-partition publisher.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/sasl"
)

// Publisher holds the tunables a per-partition publisher recognizes, plus
// the wall-clock defaults a real deployment needs.
type Publisher struct {
	// FlushInterval is the cadence of the self-ticking FlushMessages trigger.
	FlushInterval time.Duration
	// AskTimeout is the default timeout applied to facade operations.
	AskTimeout time.Duration
	// InitBackoffCeiling upper-bounds the exponential backoff between
	// InitTransactions retries.
	InitBackoffCeiling time.Duration
	// LagPollInterval is the cadence of KTable lag polling.
	LagPollInterval time.Duration
	// TransactionMaxRecords soft-caps how many pending writes are drained
	// into a single transaction per flush.
	TransactionMaxRecords int
}

// DefaultPublisher mirrors the flush cadence and lag-poll cadence a real
// deployment runs at: sub-second flushing to keep write latency low, and a
// coarser multi-second poll against the log's end offsets.
func DefaultPublisher() Publisher {
	return Publisher{
		FlushInterval:         250 * time.Millisecond,
		AskTimeout:            5 * time.Second,
		InitBackoffCeiling:    30 * time.Second,
		LagPollInterval:       2 * time.Second,
		TransactionMaxRecords: 500,
	}
}

// Validate checks that every field is set to something usable, joining
// every violation rather than failing fast on the first one found.
func (c Publisher) Validate() error {
	var errs []error
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("config: flush interval must be positive"))
	}
	if c.AskTimeout <= 0 {
		errs = append(errs, errors.New("config: ask timeout must be positive"))
	}
	if c.InitBackoffCeiling <= 0 {
		errs = append(errs, errors.New("config: init backoff ceiling must be positive"))
	}
	if c.LagPollInterval <= 0 {
		errs = append(errs, errors.New("config: lag poll interval must be positive"))
	}
	if c.TransactionMaxRecords <= 0 {
		errs = append(errs, errors.New("config: transaction max records must be positive"))
	}
	return errors.Join(errs...)
}

// Client holds what is needed to dial the underlying log and acquire a
// transactional producer identity for one owned partition.
type Client struct {
	// TransactionalID is the producer identity exclusive to this partition's
	// publisher; fencing occurs when another client registers the same id.
	TransactionalID string
	SeedBrokers     []string
	// StateTopic and EventsTopic are the two topics this publisher produces to.
	StateTopic  string
	EventsTopic string
	// Partition is the owned partition of the state topic.
	Partition int32
	ClientID  string

	TLS  *tls.Config
	SASL sasl.Mechanism
}

// Validate checks the fields required to dial a cluster and open a
// transactional session.
func (c Client) Validate() error {
	var errs []error
	if c.TransactionalID == "" {
		errs = append(errs, errors.New("config: transactional id cannot be empty"))
	}
	if len(c.SeedBrokers) == 0 {
		errs = append(errs, errors.New("config: at least one seed broker is required"))
	}
	if c.StateTopic == "" {
		errs = append(errs, errors.New("config: state topic cannot be empty"))
	}
	if c.EventsTopic == "" {
		errs = append(errs, errors.New("config: events topic cannot be empty"))
	}
	if c.Partition < 0 {
		errs = append(errs, fmt.Errorf("config: invalid partition %d", c.Partition))
	}
	return errors.Join(errs...)
}
