package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeRaw struct {
	calls []Query
	fn    func(q Query) ([]types.Log, error)
}

func (f *fakeRaw) GetLogs(ctx context.Context, q Query) ([]types.Log, error) {
	f.calls = append(f.calls, q)
	return f.fn(q)
}

func TestFetcherSplitsOnSuggestedRange(t *testing.T) {
	raw := &fakeRaw{}
	raw.fn = func(q Query) ([]types.Log, error) {
		if q.From == 0 && q.To == 1000 {
			return nil, errors.New(`Log response size exceeded. this block range should work: [0, 400]`)
		}
		return []types.Log{{BlockNumber: uint64(q.From)}}, nil
	}

	f := New(raw, zerolog.Nop(), "test", nil)
	logs, err := f.GetLogs(context.Background(), Query{From: 0, To: 1000})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Len(t, raw.calls, 3)
	require.Equal(t, int64(0), raw.calls[1].From)
	require.Equal(t, int64(400), raw.calls[1].To)
	require.Equal(t, int64(401), raw.calls[2].From)
	require.Equal(t, int64(1000), raw.calls[2].To)
}

func TestFetcherMidpointSplitOn20kMessage(t *testing.T) {
	raw := &fakeRaw{}
	raw.fn = func(q Query) ([]types.Log, error) {
		if q.From == 0 && q.To == 30000 {
			return nil, errors.New("block range less than 20000 is required")
		}
		return nil, nil
	}

	f := New(raw, zerolog.Nop(), "test", nil)
	_, err := f.GetLogs(context.Background(), Query{From: 0, To: 30000})
	require.NoError(t, err)
	require.Len(t, raw.calls, 3)
	require.Equal(t, int64(0), raw.calls[1].From)
	require.Equal(t, int64(15000), raw.calls[1].To)
	require.Equal(t, int64(15001), raw.calls[2].From)
	require.Equal(t, int64(30000), raw.calls[2].To)
}

func TestFetcherSplitsOnTenKResultsHint(t *testing.T) {
	raw := &fakeRaw{}
	raw.fn = func(q Query) ([]types.Log, error) {
		if q.From == 0 && q.To == 20000 {
			return nil, errors.New("query returned more than 10000 results. Try with this block range: [\"0\", \"9999\"]")
		}
		return nil, nil
	}
	f := New(raw, zerolog.Nop(), "test", nil)
	_, err := f.GetLogs(context.Background(), Query{From: 0, To: 20000})
	require.NoError(t, err)
	require.Equal(t, int64(9999), raw.calls[1].To)
	require.Equal(t, int64(10000), raw.calls[2].From)
}

func TestFetcherFallsBackToMidpointOnUnparsableHint(t *testing.T) {
	raw := &fakeRaw{}
	raw.fn = func(q Query) ([]types.Log, error) {
		if q.From == 0 && q.To == 100 {
			return nil, errors.New("response size exceeded, this block range should work: [garbled]")
		}
		return nil, nil
	}
	f := New(raw, zerolog.Nop(), "test", nil)
	_, err := f.GetLogs(context.Background(), Query{From: 0, To: 100})
	require.NoError(t, err)
	require.Equal(t, int64(50), raw.calls[1].To)
	require.Equal(t, int64(51), raw.calls[2].From)
}

func TestFetcherFatalErrorPropagates(t *testing.T) {
	raw := &fakeRaw{}
	want := errors.New("connection refused")
	raw.fn = func(q Query) ([]types.Log, error) {
		return nil, want
	}
	f := New(raw, zerolog.Nop(), "test", nil)
	_, err := f.GetLogs(context.Background(), Query{From: 0, To: 100})
	require.ErrorIs(t, err, want)
}

func TestFetcherSuccessPassesThrough(t *testing.T) {
	raw := &fakeRaw{}
	want := []types.Log{{BlockNumber: 5}}
	raw.fn = func(q Query) ([]types.Log, error) { return want, nil }
	f := New(raw, zerolog.Nop(), "test", nil)
	logs, err := f.GetLogs(context.Background(), Query{From: 0, To: 100})
	require.NoError(t, err)
	require.Equal(t, want, logs)
}
