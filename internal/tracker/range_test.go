package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainkit/hsync/internal/interval"
)

func TestRangeCheckpointStartsBeforeTarget(t *testing.T) {
	r := NewRange(interval.Range{From: 100, To: 199}, nil)
	require.Equal(t, int64(99), r.GetCheckpoint())
}

func TestRangeCheckpointAdvancesContiguously(t *testing.T) {
	r := NewRange(interval.Range{From: 100, To: 199}, nil)

	res := r.AddCompletedInterval(interval.Range{From: 100, To: 149})
	require.True(t, res.IsUpdated)
	require.Equal(t, int64(99), res.PrevCheckpoint)
	require.Equal(t, int64(149), res.NewCheckpoint)

	res = r.AddCompletedInterval(interval.Range{From: 160, To: 199})
	require.False(t, res.IsUpdated)
	require.Equal(t, int64(149), res.NewCheckpoint)

	res = r.AddCompletedInterval(interval.Range{From: 150, To: 159})
	require.True(t, res.IsUpdated)
	require.Equal(t, int64(199), res.NewCheckpoint)
}

func TestRangeGetRequired(t *testing.T) {
	r := NewRange(interval.Range{From: 100, To: 199}, interval.Set{{100, 149}})
	require.Equal(t, interval.Set{{150, 199}}, r.GetRequired())
}

func TestRangeClipsInitialCompleted(t *testing.T) {
	r := NewRange(interval.Range{From: 100, To: 199}, interval.Set{{0, 300}})
	require.Equal(t, int64(199), r.GetCheckpoint())
	require.Empty(t, r.GetRequired())
}

func TestRangeCheckpointMonotoneProperty(t *testing.T) {
	r := NewRange(interval.Range{From: 0, To: 999}, nil)
	intervals := []interval.Range{{500, 600}, {0, 100}, {200, 300}, {101, 199}, {601, 999}, {301, 499}}

	var last int64 = -1
	for _, iv := range intervals {
		res := r.AddCompletedInterval(iv)
		require.GreaterOrEqual(t, res.NewCheckpoint, last)
		last = res.NewCheckpoint
	}
	require.Equal(t, int64(999), last)
}
