package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockTrackerAdvancesInOrder(t *testing.T) {
	b := NewBlock()
	b.AddPendingBlocks([]int64{110, 149, 160, 199})

	cp, advanced := b.AddCompletedBlock(149, 1000)
	require.False(t, advanced)

	cp, advanced = b.AddCompletedBlock(110, 900)
	require.True(t, advanced)
	require.Equal(t, int64(149), cp.Number)
	require.Equal(t, uint64(1000), cp.Timestamp)
	require.Equal(t, 2, b.PendingCount())

	cp, advanced = b.AddCompletedBlock(199, 1200)
	require.False(t, advanced)

	cp, advanced = b.AddCompletedBlock(160, 1100)
	require.True(t, advanced)
	require.Equal(t, int64(199), cp.Number)
	require.Equal(t, uint64(1200), cp.Timestamp)
	require.Equal(t, 0, b.PendingCount())
}

func TestBlockTrackerNeverRegresses(t *testing.T) {
	b := NewBlock()
	b.AddPendingBlocks([]int64{1, 2, 3})

	var lastNumber int64 = -1
	order := []int64{2, 1, 3}
	for _, n := range order {
		cp, advanced := b.AddCompletedBlock(n, uint64(n*10))
		if advanced {
			require.GreaterOrEqual(t, cp.Number, lastNumber)
			lastNumber = cp.Number
			require.Equal(t, uint64(cp.Number*10), cp.Timestamp)
		}
	}
	require.Equal(t, int64(3), lastNumber)
}

func TestBlockTrackerNoCheckpointBeforeAnyCompletion(t *testing.T) {
	b := NewBlock()
	_, ok := b.Checkpoint()
	require.False(t, ok)
}
