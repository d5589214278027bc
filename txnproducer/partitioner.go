package txnproducer

import "github.com/twmb/franz-go/pkg/kgo"

// pinnedOrHashPartitioner lets a single transactional client serve both
// layouts this publisher needs: state-topic records pinned to the owned
// partition, events-topic records left to the broker's default
// partitioner. Records that request a pin (Record.Partition >= 0) bypass
// hashing entirely; everything else falls through to the default
// uniform-bytes (key-hash) partitioner franz-go uses out of the box.
type pinnedOrHashPartitioner struct {
	fallback kgo.Partitioner
}

func newPinnedOrHashPartitioner() kgo.Partitioner {
	// consistent=true makes the fallback hash Record.Key the way the
	// broker's own default partitioner does, so unpinned (events-topic)
	// records still land deterministically by key.
	return &pinnedOrHashPartitioner{fallback: kgo.UniformBytesPartitioner(64<<10, true, true, nil)}
}

func (p *pinnedOrHashPartitioner) ForTopic(topic string) kgo.TopicPartitioner {
	return &pinnedOrHashTopicPartitioner{fallback: p.fallback.ForTopic(topic)}
}

type pinnedOrHashTopicPartitioner struct {
	fallback kgo.TopicPartitioner
}

func (p *pinnedOrHashTopicPartitioner) RequiresConsistency(r *kgo.Record) bool {
	if r.Partition >= 0 {
		return true
	}
	return p.fallback.RequiresConsistency(r)
}

func (p *pinnedOrHashTopicPartitioner) Partition(r *kgo.Record, n int) int {
	if r.Partition >= 0 {
		return int(r.Partition)
	}
	// The uniform-bytes fallback only supports partitioning via
	// PartitionByBackup (its Partition panics unconditionally); in normal
	// operation kgo detects our TopicBackupPartitioner implementation and
	// never calls this method for unpinned records, but route here anyway
	// via an empty backup iterator for callers that invoke Partition
	// directly. Keyed records (the only ones this fallback is configured
	// to hash) never consult the iterator.
	return p.fallback.(kgo.TopicBackupPartitioner).PartitionByBackup(r, n, emptyTopicBackupIter{})
}

// emptyTopicBackupIter is a TopicBackupIter with no elements. It is safe to
// pass whenever the wrapped partitioner is known not to need backup stats,
// i.e. when hashing keyed records.
type emptyTopicBackupIter struct{}

func (emptyTopicBackupIter) Next() (int, int64) { panic("unreachable: no backup data available") }
func (emptyTopicBackupIter) Rem() int           { return 0 }

// PartitionByBackup implements kgo.TopicBackupPartitioner. The fallback
// partitioner (uniform-bytes) only supports partitioning via this
// backup-aware path; kgo detects the optional interface and calls this
// instead of Partition whenever the underlying partitioner implements it.
func (p *pinnedOrHashTopicPartitioner) PartitionByBackup(r *kgo.Record, n int, backupIter kgo.TopicBackupIter) int {
	if r.Partition >= 0 {
		return int(r.Partition)
	}
	return p.fallback.(kgo.TopicBackupPartitioner).PartitionByBackup(r, n, backupIter)
}
