package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/chainkit/hsync/internal/events"
	"github.com/chainkit/hsync/internal/fetcher"
	"github.com/chainkit/hsync/internal/interval"
	"github.com/chainkit/hsync/internal/metrics"
	"github.com/chainkit/hsync/internal/source"
	"github.com/chainkit/hsync/internal/store/memstore"
)

// fakeChain is the engine.ChainClient used across these tests: a fixed
// finalized head and a block per number, synthesizing an empty block for
// any number not explicitly seeded.
type fakeChain struct {
	finalized int64
	blocks    map[int64]*types.Block
}

func (c *fakeChain) FinalizedBlockNumber(ctx context.Context) (int64, error) {
	return c.finalized, nil
}

func (c *fakeChain) GetBlockByNumber(ctx context.Context, number int64) (*types.Block, error) {
	if b, ok := c.blocks[number]; ok {
		return b, nil
	}
	return testBlock(number, uint64(number), nil), nil
}

func testBlock(number int64, ts uint64, txs []*types.Transaction) *types.Block {
	header := &types.Header{Number: big.NewInt(number), Time: ts}
	return types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs})
}

func testLog(address common.Address, blockNumber uint64, txHash common.Hash) types.Log {
	return types.Log{Address: address, BlockNumber: blockNumber, TxHash: txHash, Topics: []common.Hash{{0x1}}}
}

// rangeFetcher is a LogFetcher keyed by [from,to], for sources where a
// single query shape per chunk is enough.
type rangeFetcher struct {
	logs  map[[2]int64][]types.Log
	calls []fetcher.Query
}

func (f *rangeFetcher) GetLogs(ctx context.Context, q fetcher.Query) ([]types.Log, error) {
	f.calls = append(f.calls, q)
	return f.logs[[2]int64{q.From, q.To}], nil
}

// flakyFetcher fails the first failCount calls, then delegates.
type flakyFetcher struct {
	inner     *rangeFetcher
	failCount int
	seen      int
}

func (f *flakyFetcher) GetLogs(ctx context.Context, q fetcher.Query) ([]types.Log, error) {
	f.seen++
	if f.seen <= f.failCount {
		return nil, errTransient
	}
	return f.inner.GetLogs(ctx, q)
}

type testErr string

func (e testErr) Error() string { return string(e) }

var errTransient = testErr("rpc: temporarily unavailable")

// factoryFetcher discriminates the factory-discovery query (addresses
// holds only the factory contract) from a per-child-address log filter
// query.
type factoryFetcher struct {
	factoryAddr common.Address
	factoryLogs []types.Log
	childLogs   []types.Log
}

func (f *factoryFetcher) GetLogs(ctx context.Context, q fetcher.Query) ([]types.Log, error) {
	if len(q.Addresses) == 1 && q.Addresses[0] == f.factoryAddr {
		return f.factoryLogs, nil
	}
	return f.childLogs, nil
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.queue.OnIdle(ctx)
	require.NoError(t, ctx.Err(), "engine did not reach idle before the test deadline")
}

func newTestEngine(t *testing.T, chain *fakeChain, fetch interface {
	GetLogs(ctx context.Context, q fetcher.Query) ([]types.Log, error)
}, st *memstore.Store, sources []*source.Source) (*Engine, *events.Bus) {
	t.Helper()
	bus := events.NewBus(16)
	e := New(Config{
		ChainID:                  1,
		Network:                  "ethereum",
		Chain:                    chain,
		Fetcher:                  fetch,
		Store:                    st,
		Sources:                  sources,
		DefaultMaxBlockRange:     50,
		MaxRPCRequestConcurrency: 1,
		Metrics:                  metrics.New(prometheus.NewRegistry()),
		Bus:                      bus,
	})
	return e, bus
}

func drainEvents(bus *events.Bus) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-bus.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

// S1: fresh cache, plain log-filter source covers its full target range
// and reports completion.
func TestEngineFreshCacheLogFilterRunsToCompletion(t *testing.T) {
	addr := common.HexToAddress("0xA")
	tx1 := common.HexToHash("0x1")
	tx2 := common.HexToHash("0x2")

	chain := &fakeChain{finalized: 199, blocks: map[int64]*types.Block{
		120: testBlock(120, 1000, []*types.Transaction{}),
		180: testBlock(180, 2000, []*types.Transaction{}),
	}}
	fetch := &rangeFetcher{logs: map[[2]int64][]types.Log{
		{100, 149}: {testLog(addr, 120, tx1)},
		{150, 199}: {testLog(addr, 180, tx2)},
	}}
	st := memstore.New()
	src := &source.Source{Name: "s1", ChainID: 1, Kind: source.KindLogFilter,
		Criteria: source.Criteria{Addresses: []common.Address{addr}}, StartBlock: 100}

	e, bus := newTestEngine(t, chain, fetch, st, []*source.Source{src})
	require.NoError(t, e.Start(context.Background()))
	waitIdle(t, e)

	got, err := st.GetLogFilterIntervals(context.Background(), 1, src.Criteria)
	require.NoError(t, err)
	require.Equal(t, int64(100), got[0].From)
	require.Equal(t, int64(199), got[len(got)-1].To)

	var sawComplete bool
	for _, ev := range drainEvents(bus) {
		if _, ok := ev.(events.SyncComplete); ok {
			sawComplete = true
		}
	}
	require.True(t, sawComplete)
	require.True(t, e.Done())
}

// S2: partial cache — already-covered sub-ranges are never re-fetched.
func TestEngineSkipsCachedIntervalsOnPartialCache(t *testing.T) {
	addr := common.HexToAddress("0xA")
	chain := &fakeChain{finalized: 199}
	fetch := &rangeFetcher{logs: map[[2]int64][]types.Log{
		{150, 199}: nil,
	}}
	st := memstore.New()
	src := &source.Source{Name: "s1", ChainID: 1, Kind: source.KindLogFilter,
		Criteria: source.Criteria{Addresses: []common.Address{addr}}, StartBlock: 100}

	require.NoError(t, st.InsertLogFilterInterval(context.Background(), 1, nil, nil, nil, src.Criteria, interval.Range{From: 100, To: 149}))

	e, _ := newTestEngine(t, chain, fetch, st, []*source.Source{src})
	require.NoError(t, e.Start(context.Background()))
	waitIdle(t, e)

	for _, q := range fetch.calls {
		require.False(t, q.From < 150, "must not re-fetch already cached sub-range, got query from %d", q.From)
	}
}

// S3: factory source discovers children, then unblocks factory-log-filter
// tasks for the addresses found.
func TestEngineFactorySourceDiscoversChildrenThenSyncsChildLogs(t *testing.T) {
	factoryAddr := common.HexToAddress("0xF")
	childAddr := common.HexToAddress("0xC")
	selector := common.HexToHash("0xBEEF")
	tx1 := common.HexToHash("0x1")

	discoveryLog := types.Log{
		Address:     factoryAddr,
		BlockNumber: 120,
		TxHash:      tx1,
		Topics:      []common.Hash{selector, common.BytesToHash(childAddr.Bytes())},
	}
	childLog := testLog(childAddr, 150, common.HexToHash("0x2"))

	chain := &fakeChain{finalized: 199}
	fetch := &factoryFetcher{factoryAddr: factoryAddr, factoryLogs: []types.Log{discoveryLog}, childLogs: []types.Log{childLog}}
	st := memstore.New()

	src := &source.Source{
		Name: "factory1", ChainID: 1, Kind: source.KindFactory, StartBlock: 100,
		MaxBlockRange: 200,
		Criteria: source.Criteria{
			Addresses:            []common.Address{factoryAddr},
			EventSelector:        selector,
			ChildAddressLocation: 1,
		},
	}

	e, _ := newTestEngine(t, chain, fetch, st, []*source.Source{src})
	require.NoError(t, e.Start(context.Background()))
	waitIdle(t, e)

	cursor, err := st.GetFactoryChildAddresses(context.Background(), 1, src.Criteria, 199)
	require.NoError(t, err)
	addrs, ok, err := cursor.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []common.Address{childAddr}, addrs)

	got, err := st.GetFactoryLogFilterIntervals(context.Background(), 1, src.Criteria)
	require.NoError(t, err)
	require.NotEmpty(t, got)
}

// S5: a source whose start block is already past the finalized head is
// skipped, and the engine still reaches completion.
func TestEngineSkipsSourceStartingAfterFinalizedHead(t *testing.T) {
	addr := common.HexToAddress("0xA")
	chain := &fakeChain{finalized: 50}
	fetch := &rangeFetcher{}
	st := memstore.New()
	src := &source.Source{Name: "s1", ChainID: 1, Kind: source.KindLogFilter,
		Criteria: source.Criteria{Addresses: []common.Address{addr}}, StartBlock: 500}

	e, bus := newTestEngine(t, chain, fetch, st, []*source.Source{src})
	require.NoError(t, e.Start(context.Background()))
	waitIdle(t, e)

	require.Empty(t, fetch.calls)

	var sawComplete bool
	for _, ev := range drainEvents(bus) {
		if _, ok := ev.(events.SyncComplete); ok {
			sawComplete = true
		}
	}
	require.True(t, sawComplete)
}

// S6: a transient fetch error is retried by the queue's default
// OnError handler until it succeeds.
func TestEngineRetriesTransientFetchError(t *testing.T) {
	addr := common.HexToAddress("0xA")
	chain := &fakeChain{finalized: 99}
	inner := &rangeFetcher{logs: map[[2]int64][]types.Log{{0, 99}: nil}}
	fetch := &flakyFetcher{inner: inner, failCount: 2}
	st := memstore.New()
	src := &source.Source{Name: "s1", ChainID: 1, Kind: source.KindLogFilter,
		Criteria: source.Criteria{Addresses: []common.Address{addr}}, StartBlock: 0, MaxBlockRange: 200}

	e, _ := newTestEngine(t, chain, fetch, st, []*source.Source{src})
	require.NoError(t, e.Start(context.Background()))
	waitIdle(t, e)

	require.GreaterOrEqual(t, fetch.seen, 3)
	got, err := st.GetLogFilterIntervals(context.Background(), 1, src.Criteria)
	require.NoError(t, err)
	require.Equal(t, int64(0), got[0].From)
	require.Equal(t, int64(99), got[len(got)-1].To)
}
