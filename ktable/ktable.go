// Package ktable is the pollable KTable lag source: it reads
// (current_offset, end_offset) snapshots per state-store partition and
// forwards the owned partition's pair to a publisher.Machine. It does not
// drive materialization itself; that's a separate, heavier subsystem this
// package only needs a read seam into.
package ktable

import (
	"context"
	"time"

	"github.com/sebastianharko/surge-go/internal/log"
)

// Lag is a single partition's catch-up state.
type Lag struct {
	Current int64
	End     int64
}

// Snapshot is store_name -> partition -> Lag.
type Snapshot map[string]map[int32]Lag

// Query fetches the latest snapshot. Implementations should be safe to
// call repeatedly on a ticker; on error the previous snapshot is retained
// by the Poller, which logs the failure without forcing any state
// transition on its caller.
type Query func(ctx context.Context) (Snapshot, error)

// ProgressFunc is how a Poller reports the owned partition's progress
// upstream; publisher.Machine supplies one that enqueues a
// KTableProgressUpdate onto its mailbox.
type ProgressFunc func(current, end int64)

// ErrorCounter is incremented on each failed poll.
// metrics.Registry.LagPollFailures satisfies this.
type ErrorCounter interface {
	Inc()
}

// Poller periodically invokes Query and forwards the owned (store,
// partition) pair's Lag to ProgressFunc.
type Poller struct {
	query     Query
	storeName string
	partition int32
	interval  time.Duration
	onErr     ErrorCounter
	progress  ProgressFunc

	last Snapshot
}

// New builds a Poller for one owned (storeName, partition). onErr may be
// nil.
func New(query Query, storeName string, partition int32, interval time.Duration, progress ProgressFunc, onErr ErrorCounter) *Poller {
	return &Poller{
		query:     query,
		storeName: storeName,
		partition: partition,
		interval:  interval,
		progress:  progress,
		onErr:     onErr,
	}
}

// Run blocks, polling on Poller's configured interval until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	snap, err := p.query(ctx)
	if err != nil {
		log.Warnf("ktable: lag poll failed for store %s: %v", p.storeName, err)
		if p.onErr != nil {
			p.onErr.Inc()
		}
		snap = p.last
		if snap == nil {
			return
		}
	} else {
		p.last = snap
	}

	byPartition, ok := snap[p.storeName]
	if !ok {
		return
	}
	lag, ok := byPartition[p.partition]
	if !ok {
		return
	}
	p.progress(lag.Current, lag.End)
}
