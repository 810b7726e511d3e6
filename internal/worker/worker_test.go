package worker

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainkit/hsync/internal/events"
	"github.com/chainkit/hsync/internal/fetcher"
	"github.com/chainkit/hsync/internal/task"
)

// fakeLogFetcher is a scripted LogFetcher keyed by [from,to].
type fakeLogFetcher struct {
	logs  map[[2]int64][]types.Log
	calls []fetcher.Query
}

func (f *fakeLogFetcher) GetLogs(ctx context.Context, q fetcher.Query) ([]types.Log, error) {
	f.calls = append(f.calls, q)
	return f.logs[[2]int64{q.From, q.To}], nil
}

// fakeBlockFetcher returns blocks keyed by number.
type fakeBlockFetcher struct {
	blocks map[int64]*types.Block
}

func (f *fakeBlockFetcher) GetBlockByNumber(ctx context.Context, number int64) (*types.Block, error) {
	return f.blocks[number], nil
}

// fakeCallbacks is a CallbackRegistrar recording callbacks by block
// number, letting tests invoke them directly without a real block
// worker.
type fakeCallbacks struct {
	byBlock map[int64][]task.BlockCallback
}

func newFakeCallbacks() *fakeCallbacks {
	return &fakeCallbacks{byBlock: make(map[int64][]task.BlockCallback)}
}

func (c *fakeCallbacks) Register(blockNumber int64, cb task.BlockCallback) {
	c.byBlock[blockNumber] = append(c.byBlock[blockNumber], cb)
}

func (c *fakeCallbacks) keys() []int64 {
	var out []int64
	for k := range c.byBlock {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// fakeGate counts invocations without doing anything.
type fakeGate struct{ calls int }

func (g *fakeGate) CheckBlockTaskGate(ctx context.Context) { g.calls++ }

// fakeEnqueuer records enqueued tasks.
type fakeEnqueuer struct{ tasks []task.Task }

func (e *fakeEnqueuer) Enqueue(t task.Task) { e.tasks = append(e.tasks, t) }

// fakeEmitter records emitted events.
type fakeEmitter struct{ events []events.Event }

func (e *fakeEmitter) Emit(ev events.Event) { e.events = append(e.events, ev) }
