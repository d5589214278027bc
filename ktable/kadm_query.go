package ktable

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
)

// CurrentOffsetFunc returns the local KTable's committed offset for a
// partition of storeName. Materializing the store is a separate concern;
// this is the seam a caller plugs their state-store reader into.
type CurrentOffsetFunc func(partition int32) (int64, bool)

// KadmQuery builds a Query that sources "end" offsets from the broker via
// kadm.Client.ListEndOffsets and "current" offsets from a locally
// materialized store via currentFn.
func KadmQuery(admin *kadm.Client, storeName string, currentFn CurrentOffsetFunc) Query {
	return func(ctx context.Context) (Snapshot, error) {
		endOffsets, err := admin.ListEndOffsets(ctx, storeName)
		if err != nil {
			return nil, fmt.Errorf("ktable: list end offsets for %s: %w", storeName, err)
		}

		byPartition := make(map[int32]Lag)
		endOffsets.Each(func(o kadm.ListedOffset) {
			if o.Err != nil {
				return
			}
			current, ok := currentFn(o.Partition)
			if !ok {
				current = 0
			}
			byPartition[o.Partition] = Lag{Current: current, End: o.Offset}
		})

		return Snapshot{storeName: byPartition}, nil
	}
}
