// Package metrics holds the process-wide, lock-free health and lag
// counters a publisher reports, backed by prometheus/client_golang.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is a per-publisher set of counters, all safe for concurrent use
// without any additional locking (prometheus counters are lock-free).
type Registry struct {
	InitAttempts       prometheus.Counter
	InitFailures       prometheus.Counter
	TransactionsCommit prometheus.Counter
	TransactionsAbort  prometheus.Counter
	RecordsAcked       prometheus.Counter
	RecordsFailed      prometheus.Counter
	Recoveries         prometheus.Counter
	Fencings           prometheus.Counter
	LagPollFailures    prometheus.Counter
	PendingInitExpired prometheus.Counter
}

// NewRegistry builds a Registry and registers every counter against reg.
// Partition labels the metrics so multiple owned partitions in one process
// don't collide.
func NewRegistry(reg prometheus.Registerer, topic string, partition int32) *Registry {
	labels := prometheus.Labels{"topic": topic, "partition": strconv.Itoa(int(partition))}
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "surge",
			Subsystem:   "publisher",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		if reg != nil {
			reg.MustRegister(c)
		}
		return c
	}
	return &Registry{
		InitAttempts:       counter("init_attempts_total", "InitTransactions attempts."),
		InitFailures:       counter("init_failures_total", "InitTransactions failures."),
		TransactionsCommit: counter("transactions_committed_total", "Committed transactions."),
		TransactionsAbort:  counter("transactions_aborted_total", "Aborted transactions."),
		RecordsAcked:       counter("records_acked_total", "Records successfully acked."),
		RecordsFailed:      counter("records_failed_total", "Records that failed to ack."),
		Recoveries:         counter("recoveries_total", "Transitions into Recovering."),
		Fencings:           counter("fencings_total", "Fenced-producer terminations."),
		LagPollFailures:    counter("lag_poll_failures_total", "KTable lag poll failures."),
		PendingInitExpired: counter("pending_init_expired_total", "PendingInit queries that expired unresolved."),
	}
}

// HealthStatus is the UP/DOWN result health_check returns instead of a
// failed future.
type HealthStatus string

const (
	HealthUp   HealthStatus = "UP"
	HealthDown HealthStatus = "DOWN"
)
