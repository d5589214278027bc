package publisher

import "github.com/sebastianharko/surge-go/txnproducer"

// batch is the physical record list built from a drained set of
// PendingWrites: one record per event on the events topic (partition
// unset) plus exactly one record on the state topic pinned to the owned
// partition.
type batch struct {
	writes           []PendingWrite
	records          []txnproducer.Record
	stateRecordIndex []int // per write, index into records of its state record
}

func buildBatch(assignment Assignment, writes []PendingWrite) batch {
	b := batch{
		writes:           writes,
		stateRecordIndex: make([]int, len(writes)),
	}
	for i, w := range writes {
		for _, evt := range w.Request.Events {
			b.records = append(b.records, txnproducer.Record{
				Topic:   assignment.EventsTopic,
				Key:     evt.Key,
				Value:   evt.Value,
				Headers: evt.Headers,
				// Partition left nil: broker default partitioner.
			})
		}

		partition := assignment.Partition
		b.stateRecordIndex[i] = len(b.records)
		b.records = append(b.records, txnproducer.Record{
			Topic:       assignment.StateTopic,
			Partition:   &partition,
			Key:         w.Request.State.Key,
			Value:       w.Request.State.Value,
			Headers:     w.Request.State.Headers,
			AggregateID: w.Request.AggregateID,
		})
	}
	return b
}

// stateAcks extracts the per-write state-topic acks, in write order, for
// feeding into State.AddInFlight.
func (b batch) stateAcks(results []txnproducer.Result) []RecordAck {
	acks := make([]RecordAck, len(b.writes))
	for i, idx := range b.stateRecordIndex {
		acks[i] = results[idx].Ack
	}
	return acks
}

// anyFailed reports whether any record in results failed to ack. Partial
// success is not recognized: one failed ack fails the batch.
func anyFailed(results []txnproducer.Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
