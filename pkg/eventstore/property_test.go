package eventstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestAppendBatchVersionsHaveNoGaps checks invariant 1 from the testable-
// properties list: after any sequence of appendBatch calls for a single
// aggregate, stored versions equal exactly {1..N}.
func TestAppendBatchVersionsHaveNoGaps(t *testing.T) {
	s, _ := newTestStore(t)

	rapid.Check(t, func(rt *rapid.T) {
		aggregateID := uuid.NewString()
		batchSizes := rapid.SliceOfN(rapid.IntRange(1, 3), 1, 5).Draw(rt, "batches")

		version := 0
		for _, n := range batchSizes {
			events := make([]DomainEvent, n)
			for i := range events {
				e, err := NewEvent(aggregateID, "BOOK_UPDATED", 1, map[string]string{})
				require.NoError(rt, err)
				events[i] = e
			}
			require.NoError(rt, s.AppendBatch(context.Background(), aggregateID, events, version))
			version += n
		}

		stored, err := s.GetEventsForAggregate(context.Background(), aggregateID)
		require.NoError(rt, err)
		require.Len(rt, stored, version)
		for i, e := range stored {
			require.Equal(rt, i+1, e.Version)
		}
	})
}
