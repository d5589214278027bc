package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/sebastianharko/surge-go/config"
	"github.com/sebastianharko/surge-go/internal/log"
	"github.com/sebastianharko/surge-go/internal/sak"
	"github.com/sebastianharko/surge-go/ktable"
	"github.com/sebastianharko/surge-go/metrics"
	"github.com/sebastianharko/surge-go/txnproducer"
)

// HealthStatus is the UP/DOWN result health_check() returns instead of a
// failed future.
type HealthStatus = metrics.HealthStatus

// ErrTerminated is returned to any caller whose request was outstanding
// when the Machine stopped (Fenced, or explicit Terminate).
var ErrTerminated = errors.New("publisher: machine terminated")

type machineState int

const (
	stateUninitialized machineState = iota
	stateReady
	statePublishing
	stateRecovering
	stateFenced
)

// HandleFactory builds a fresh producer Handle. Called on first start and
// again every time Recovering rebuilds the producer.
type HandleFactory func() (txnproducer.Handle, error)

// Machine is the single-writer actor that owns one partition's
// transactional producer identity. handle, state, pub and the stashes are
// touched only from the run() goroutine; other goroutines only send on its
// channels or read its fixed configuration.
type Machine struct {
	assignment  Assignment
	cfg         config.Publisher
	newHandle   HandleFactory
	ktableQuery ktable.Query
	metrics     *metrics.Registry

	handle txnproducer.Handle
	state  machineState
	pub    State

	stashedPublishes  []publishEnvelope
	stashedIsCurrents []isCurrentEnvelope

	publishCh    chan publishEnvelope
	isCurrentCh  chan isCurrentEnvelope
	progressCh   chan progressEnvelope
	healthCh     chan healthEnvelope
	terminateCh  chan terminateEnvelope
	initResultCh chan initResult

	runStatus sak.RunStatus
	stopped   chan struct{}
}

type initResult struct {
	handle txnproducer.Handle
}

// New constructs a Machine for the given partition assignment and starts
// its actor goroutine. The Machine immediately begins acquiring its
// transactional producer identity; callers should use Facade rather than
// touching Machine directly. ktableQuery may be nil, in which case the
// Machine never learns of KTable catch-up. Expirations are only evaluated
// when a progress update arrives, so without one an IsAggregateStateCurrent
// query against an in-flight aggregate gets no reply and its caller sees
// the ask timeout.
func New(assignment Assignment, cfg config.Publisher, newHandle HandleFactory, reg *metrics.Registry, ktableQuery ktable.Query) *Machine {
	m := &Machine{
		assignment:   assignment,
		cfg:          cfg,
		newHandle:    newHandle,
		ktableQuery:  ktableQuery,
		metrics:      reg,
		pub:          NewState(),
		publishCh:    make(chan publishEnvelope, sak.Max(cfg.TransactionMaxRecords, 64)),
		isCurrentCh:  make(chan isCurrentEnvelope, 64),
		progressCh:   make(chan progressEnvelope, 4),
		healthCh:     make(chan healthEnvelope, 4),
		terminateCh:  make(chan terminateEnvelope, 1),
		initResultCh: make(chan initResult, 1),
		runStatus:    sak.NewRunStatus(context.Background()),
		stopped:      make(chan struct{}),
	}
	go m.run()
	return m
}

// Done reports the channel watchers select on to observe termination.
func (m *Machine) Done() <-chan struct{} {
	return m.stopped
}

func (m *Machine) run() {
	defer close(m.stopped)
	m.startInit()
	m.startLagPoller()

	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.runStatus.Done():
			m.drainAllAsTerminated()
			return

		case res := <-m.initResultCh:
			m.onInitResult(res)

		case env := <-m.publishCh:
			m.onPublish(env)

		case env := <-m.isCurrentCh:
			m.onIsCurrent(env)

		case upd := <-m.progressCh:
			m.onProgress(upd)

		case req := <-m.healthCh:
			m.onHealth(req)

		case <-ticker.C:
			m.flushWithTimeout()

		case req := <-m.terminateCh:
			m.drainAllAsTerminated()
			close(req.done)
			return
		}
	}
}

func (m *Machine) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(m.runStatus.Ctx(), m.cfg.AskTimeout)
	defer cancel()
	m.maybeFlush(ctx)
}

// startInit spawns the init-retry loop: retried forever with backoff,
// never reported to callers directly.
func (m *Machine) startInit() {
	m.state = stateUninitialized
	go func() {
		backoff := 100 * time.Millisecond
		if backoff > m.cfg.InitBackoffCeiling {
			backoff = m.cfg.InitBackoffCeiling
		}
		var handle txnproducer.Handle
		for {
			select {
			case <-m.runStatus.Done():
				return
			default:
			}

			var err error
			if handle == nil {
				if handle, err = m.newHandle(); err != nil {
					handle = nil
				}
			}
			if err == nil {
				m.metrics.InitAttempts.Inc()
				ctx, cancel := context.WithTimeout(m.runStatus.Ctx(), m.cfg.AskTimeout)
				err = handle.InitTransactions(ctx)
				cancel()
			}
			if err == nil {
				select {
				case m.initResultCh <- initResult{handle: handle}:
				case <-m.runStatus.Done():
				}
				return
			}

			m.metrics.InitFailures.Inc()
			log.Warnf("publisher: init_transactions failed for partition %d, retrying in %v: %v",
				m.assignment.Partition, backoff, err)

			select {
			case <-time.After(backoff):
			case <-m.runStatus.Done():
				return
			}
			backoff *= 2
			if backoff > m.cfg.InitBackoffCeiling {
				backoff = m.cfg.InitBackoffCeiling
			}
		}
	}()
}

// startLagPoller forks the Machine's run status so the poller goroutine is
// halted whenever the Machine halts, without the poller being able to halt
// the Machine itself.
func (m *Machine) startLagPoller() {
	if m.ktableQuery == nil {
		return
	}
	poller := ktable.New(m.ktableQuery, m.assignment.StateTopic, m.assignment.Partition,
		m.cfg.LagPollInterval, m.reportProgress, m.metrics.LagPollFailures)
	pollerStatus := m.runStatus.Fork()
	go poller.Run(pollerStatus.Ctx())
}

func (m *Machine) reportProgress(current, end int64) {
	select {
	case m.progressCh <- progressEnvelope{current: current, end: end}:
	case <-m.runStatus.Done():
	}
}

// onInitResult transitions Uninitialized -> Ready and unstashes buffered
// work.
func (m *Machine) onInitResult(res initResult) {
	m.handle = res.handle
	m.state = stateReady

	publishes := m.stashedPublishes
	isCurrents := m.stashedIsCurrents
	m.stashedPublishes = nil
	m.stashedIsCurrents = nil

	for _, env := range publishes {
		m.pub = m.pub.AddPendingWrite(env.reply, env.req, env.traceCtx)
	}
	// Give a freshly-queued write an immediate chance to flush before
	// answering any readiness query unstashed alongside it: ProcessedUpTo
	// and InFlightFor only make sense once that write's transaction has
	// had a chance to run.
	m.flushWithTimeout()

	for _, env := range isCurrents {
		m.answerIsCurrent(env.aggregateID, env.expiration, env.reply)
	}
}

func (m *Machine) onPublish(env publishEnvelope) {
	if m.state == stateUninitialized {
		m.stashedPublishes = append(m.stashedPublishes, env)
		return
	}
	m.pub = m.pub.AddPendingWrite(env.reply, env.req, env.traceCtx)
}

func (m *Machine) onIsCurrent(env isCurrentEnvelope) {
	if m.state == stateUninitialized {
		m.stashedIsCurrents = append(m.stashedIsCurrents, env)
		return
	}
	m.answerIsCurrent(env.aggregateID, env.expiration, env.reply)
}

// answerIsCurrent replies true immediately if not in-flight, else
// registers a PendingInit.
func (m *Machine) answerIsCurrent(aggregateID string, expiration time.Time, reply chan bool) {
	if _, inFlight := m.pub.InFlightFor(aggregateID); !inFlight {
		reply <- true
		return
	}
	m.pub = m.pub.AddPendingInit(reply, aggregateID, expiration)
}

func (m *Machine) onProgress(upd progressEnvelope) {
	next, decisions := m.pub.ProcessedUpTo(KTableProgress{Current: upd.current, End: upd.end}, time.Now())
	m.pub = next
	for _, d := range decisions {
		if !d.Decision {
			m.metrics.PendingInitExpired.Inc()
		}
		d.Sender <- d.Decision
	}
}

func (m *Machine) onHealth(req healthEnvelope) {
	status := metrics.HealthUp
	if m.state == stateFenced {
		status = metrics.HealthDown
	}
	req.reply <- status
}

// maybeFlush opens a transaction, builds and produces the physical record
// list, awaits acks, and commits or aborts.
func (m *Machine) maybeFlush(ctx context.Context) {
	if m.state != stateReady {
		return
	}
	if m.pub.PendingWriteCount() == 0 {
		return
	}

	m.pub = m.pub.BeginTransaction(time.Now())
	m.state = statePublishing

	if err := m.handle.Begin(); err != nil {
		m.afterProducerError(nil, err)
		return
	}

	next, drained := m.pub.FlushWrites()
	m.pub = next

	maxRecords := m.cfg.TransactionMaxRecords
	if maxRecords > 0 && len(drained) > maxRecords {
		excess := drained[maxRecords:]
		drained = drained[:maxRecords]
		m.pub = m.pub.RequeueWrites(excess)
	}

	b := buildBatch(m.assignment, drained)
	results := m.handle.PutRecords(ctx, b.records)

	if err := anyFailed(results); err != nil {
		_ = m.handle.Abort(ctx) // swallow: the failed PutRecords error is what gets reported.
		m.metrics.TransactionsAbort.Inc()
		m.metrics.RecordsFailed.Add(float64(len(results)))
		m.replyFailures(drained, err)
		m.pub = m.pub.EndTransaction()
		m.state = stateReady
		return
	}

	if err := m.handle.Commit(ctx); err != nil {
		m.afterProducerError(drained, err)
		return
	}

	m.metrics.TransactionsCommit.Inc()
	m.metrics.RecordsAcked.Add(float64(len(results)))
	m.pub = m.pub.AddInFlight(b.stateAcks(results)).EndTransaction()
	m.replySuccesses(drained, b.stateAcks(results))
	m.state = stateReady
}

// afterProducerError handles the Begin/Commit failure branches: IllegalState
// recovers, Fenced terminates. drained is nil when the failure happened
// before any writes were drained (a Begin failure), in which case nothing
// needs a PublishFailure reply yet - those requests are still queued in
// m.pub and will be retried on the next flush.
func (m *Machine) afterProducerError(drained []PendingWrite, err error) {
	kind := txnproducer.Classify(err)
	if drained != nil {
		m.replyFailures(drained, err)
	}
	m.pub = m.pub.EndTransaction()

	if kind == txnproducer.KindFenced {
		m.metrics.Fencings.Inc()
		m.enterFenced()
		return
	}
	m.metrics.Recoveries.Inc()
	m.enterRecovering()
}

// enterRecovering aborts (swallowed), closes, rebuilds, and returns to
// Uninitialized. Pending writes are preserved because m.pub is untouched
// here.
func (m *Machine) enterRecovering() {
	m.state = stateRecovering
	ctx, cancel := context.WithTimeout(m.runStatus.Ctx(), m.cfg.AskTimeout)
	_ = m.handle.Abort(ctx)
	cancel()
	m.handle.Close()
	m.handle = nil
	m.startInit()
}

// enterFenced is terminal. Close the producer; the run loop stops on
// return from this call's caller chain.
func (m *Machine) enterFenced() {
	m.state = stateFenced
	if m.handle != nil {
		m.handle.Close()
	}
	m.runStatus.Halt()
}

func (m *Machine) replySuccesses(writes []PendingWrite, acks []RecordAck) {
	for i, w := range writes {
		w.Sender <- PublishResult{Success: true, StateAck: acks[i], TraceCtx: w.TraceCtx}
	}
}

func (m *Machine) replyFailures(writes []PendingWrite, err error) {
	for _, w := range writes {
		w.Sender <- PublishResult{Success: false, Err: err, TraceCtx: w.TraceCtx}
	}
}

// drainAllAsTerminated notifies every outstanding and stashed caller that
// the machine has stopped: stashed or pending callers observe failure via
// monitored termination or ask timeout.
func (m *Machine) drainAllAsTerminated() {
	if m.handle != nil {
		m.handle.Close()
		m.handle = nil
	}
	for _, env := range m.stashedPublishes {
		env.reply <- PublishResult{Success: false, Err: ErrTerminated, TraceCtx: env.traceCtx}
	}
	m.stashedPublishes = nil
	// Stashed readiness queries get no decision; their callers observe
	// termination through Done() instead of a reply that could only lie
	// about writes that never happened.
	m.stashedIsCurrents = nil

	_, writes := m.pub.FlushWrites()
	for _, w := range writes {
		w.Sender <- PublishResult{Success: false, Err: ErrTerminated, TraceCtx: w.TraceCtx}
	}
}
