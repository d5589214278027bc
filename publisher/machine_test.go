package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sebastianharko/surge-go/config"
	"github.com/sebastianharko/surge-go/metrics"
	"github.com/sebastianharko/surge-go/txnproducer"
)

// fakeHandle is a scripted txnproducer.Handle driving the Machine through
// its recovery and fencing paths without a live broker. Every call is
// recorded and every outcome comes from a queue the test pre-loads, never
// from network state.
type fakeHandle struct {
	mu sync.Mutex

	initErrs []error // consumed one per InitTransactions call; nil once exhausted

	beginErrs  []error
	commitErrs []error
	abortErrs  []error

	begins, commits, aborts, closes int
	putRecordsCalls                 [][]txnproducer.Record

	ackOffset int64
}

func (f *fakeHandle) InitTransactions(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.initErrs) == 0 {
		return nil
	}
	err := f.initErrs[0]
	f.initErrs = f.initErrs[1:]
	return err
}

func (f *fakeHandle) Begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	if len(f.beginErrs) == 0 {
		return nil
	}
	err := f.beginErrs[0]
	f.beginErrs = f.beginErrs[1:]
	return err
}

func (f *fakeHandle) PutRecords(ctx context.Context, records []txnproducer.Record) []txnproducer.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putRecordsCalls = append(f.putRecordsCalls, records)
	results := make([]txnproducer.Result, len(records))
	for i, r := range records {
		f.ackOffset++
		partition := int32(0)
		if r.Partition != nil {
			partition = *r.Partition
		}
		results[i] = txnproducer.Result{Ack: txnproducer.Ack{
			AggregateID: r.AggregateID,
			Topic:       r.Topic,
			Partition:   partition,
			Offset:      f.ackOffset,
		}}
	}
	return results
}

func (f *fakeHandle) Commit(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	if len(f.commitErrs) == 0 {
		return nil
	}
	err := f.commitErrs[0]
	f.commitErrs = f.commitErrs[1:]
	return err
}

func (f *fakeHandle) Abort(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	if len(f.abortErrs) == 0 {
		return nil
	}
	err := f.abortErrs[0]
	f.abortErrs = f.abortErrs[1:]
	return err
}

func (f *fakeHandle) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeHandle) snapshot() (begins, commits, aborts, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins, f.commits, f.aborts, f.closes
}

func testAssignment() Assignment {
	return Assignment{StateTopic: "testTopic", EventsTopic: "testTopic-events", Partition: 1}
}

func testConfig() config.Publisher {
	cfg := config.DefaultPublisher()
	cfg.FlushInterval = 10 * time.Millisecond
	cfg.AskTimeout = time.Second
	cfg.InitBackoffCeiling = 20 * time.Millisecond
	return cfg
}

func newTestMachine(t *testing.T, handle *fakeHandle) (*Machine, *Facade) {
	factory := func() (txnproducer.Handle, error) { return handle, nil }
	reg := metrics.NewRegistry(nil, "testTopic", 1)
	m := New(testAssignment(), testConfig(), factory, reg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = NewFacade(m, time.Second).Terminate(ctx)
	})
	return m, NewFacade(m, time.Second)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition never became true")
}

// Happy path: init, begin, put_records, commit, ack delivered.
func TestMachine_HappyPath(t *testing.T) {
	handle := &fakeHandle{}
	_, facade := newTestMachine(t, handle)

	req := PublishRequest{
		AggregateID: "agg1",
		State:       MessageToPublish{Key: "agg1", Value: []byte("state")},
		Events: []MessageToPublish{
			{Key: "e1", Value: []byte("event1")},
			{Key: "e2", Value: []byte("event2")},
			{Key: "e3", Value: []byte("event3")},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := facade.Publish(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int32(1), res.StateAck.Partition)

	begins, commits, aborts, _ := handle.snapshot()
	require.Equal(t, 1, begins)
	require.Equal(t, 1, commits)
	require.Equal(t, 0, aborts)

	handle.mu.Lock()
	require.Len(t, handle.putRecordsCalls, 1)
	require.Len(t, handle.putRecordsCalls[0], 4)
	handle.mu.Unlock()
}

// A transient begin failure drives the machine into recovery, and the next
// flush cycle on the rebuilt producer succeeds.
func TestMachine_BeginTransientFailureRecovers(t *testing.T) {
	handle := &fakeHandle{beginErrs: []error{txnproducer.ErrIllegalState}}
	_, facade := newTestMachine(t, handle)

	req := PublishRequest{AggregateID: "agg1", State: MessageToPublish{Key: "agg1", Value: []byte("s1")}}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := facade.Publish(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Success, "the write must survive the failed begin and succeed on the rebuilt producer")

	begins, commits, _, _ := handle.snapshot()
	require.Equal(t, 2, begins, "one failed begin before recovery, one successful begin after")
	require.Equal(t, 1, commits)
}

// A commit failure whose abort also fails still forces recovery, and a
// clean cycle runs on the recreated producer afterward.
func TestMachine_AbortThenCommitFailureRecovers(t *testing.T) {
	handle := &fakeHandle{
		commitErrs: []error{txnproducer.ErrIllegalState},
		abortErrs:  []error{txnproducer.ErrIllegalState},
	}
	_, facade := newTestMachine(t, handle)

	req1 := PublishRequest{AggregateID: "agg1", State: MessageToPublish{Key: "agg1", Value: []byte("s1")}}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res1, err := facade.Publish(ctx, req1)
	require.NoError(t, err)
	require.False(t, res1.Success, "commit failure must surface as a PublishFailure")

	eventually(t, func() bool {
		_, _, _, closes := handle.snapshot()
		return closes == 1
	})

	req2 := PublishRequest{AggregateID: "agg2", State: MessageToPublish{Key: "agg2", Value: []byte("s2")}}
	res2, err := facade.Publish(ctx, req2)
	require.NoError(t, err)
	require.True(t, res2.Success)

	begins, commits, aborts, closes := handle.snapshot()
	require.Equal(t, 2, begins)
	require.Equal(t, 2, commits)
	require.Equal(t, 1, aborts)
	require.Equal(t, 1, closes)
}

// Init is retried past authorization and illegal-state failures, with a
// publish stashed until init completes.
func TestMachine_InitRetriesThenStashedPublishSucceeds(t *testing.T) {
	handle := &fakeHandle{
		initErrs: []error{txnproducer.ErrAuthorization, txnproducer.ErrIllegalState},
	}
	_, facade := newTestMachine(t, handle)

	req := PublishRequest{AggregateID: "agg1", State: MessageToPublish{Key: "agg1", Value: []byte("s1")}}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := facade.Publish(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Success)

	begins, commits, _, _ := handle.snapshot()
	require.Equal(t, 1, begins)
	require.Equal(t, 1, commits)
}

// A fenced producer detected on commit terminates the machine permanently.
func TestMachine_FencedOnCommitTerminates(t *testing.T) {
	handle := &fakeHandle{commitErrs: []error{txnproducer.ErrFenced}}
	m, facade := newTestMachine(t, handle)

	req := PublishRequest{AggregateID: "agg1", State: MessageToPublish{Key: "agg1", Value: []byte("s1")}}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _ = facade.Publish(ctx, req)

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		require.Fail(t, "fenced machine never signaled termination")
	}

	handle.mu.Lock()
	require.Len(t, handle.putRecordsCalls, 1, "put_records must have been called before the fencing commit")
	handle.mu.Unlock()

	status := facade.HealthCheck(ctx)
	require.Equal(t, metrics.HealthDown, status)
}

// A readiness query stashed before init resolves true only once the state
// write has committed and the KTable lag snapshot catches up.
func TestMachine_ReadinessJoinWaitsForKTableCatchUp(t *testing.T) {
	handle := &fakeHandle{initErrs: []error{txnproducer.ErrTransient}}
	m, facade := newTestMachine(t, handle)

	req := PublishRequest{AggregateID: "bar", State: MessageToPublish{Key: "bar", Value: []byte("s")}}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var publishErr error
	var publishRes PublishResult
	done := make(chan struct{})
	go func() {
		publishRes, publishErr = facade.Publish(ctx, req)
		close(done)
	}()

	// Let the query land before init completes, stashing alongside the publish.
	time.Sleep(5 * time.Millisecond)

	isCurrentDone := make(chan struct{})
	var isCurrent bool
	var isCurrentErr error
	go func() {
		isCurrent, isCurrentErr = facade.IsAggregateStateCurrent(ctx, "bar", time.Now().Add(10*time.Second))
		close(isCurrentDone)
	}()

	<-done
	require.NoError(t, publishErr)
	require.True(t, publishRes.Success)

	// Lag is still behind: feed (0, 10) first, the query must not resolve yet.
	m.progressCh <- progressEnvelope{current: 0, end: 10}
	select {
	case <-isCurrentDone:
		require.Fail(t, "readiness query resolved before the KTable caught up")
	case <-time.After(50 * time.Millisecond):
	}

	// Lag catches up to (10, 10): the query must now resolve true.
	m.progressCh <- progressEnvelope{current: 10, end: 10}
	select {
	case <-isCurrentDone:
	case <-time.After(2 * time.Second):
		require.Fail(t, "readiness query never resolved after KTable caught up")
	}
	require.NoError(t, isCurrentErr)
	require.True(t, isCurrent)
}
