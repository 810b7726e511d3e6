package engine

import (
	"sort"
	"sync"

	"github.com/chainkit/hsync/internal/task"
)

// callbackRegistry accumulates block callbacks keyed by the block number
// they must fire at, until the block-task gate drains them into block
// tasks.
type callbackRegistry struct {
	mu      sync.Mutex
	byBlock map[int64][]task.BlockCallback
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{byBlock: make(map[int64][]task.BlockCallback)}
}

// Register implements worker.CallbackRegistrar.
func (r *callbackRegistry) Register(blockNumber int64, cb task.BlockCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byBlock[blockNumber] = append(r.byBlock[blockNumber], cb)
}

// drainUpTo returns all registered block numbers <= t, in ascending
// order. It removes nothing; take removes a block's callbacks.
func (r *callbackRegistry) drainUpTo(t int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []int64
	for k := range r.byBlock {
		if k <= t {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (r *callbackRegistry) take(blockNumber int64) []task.BlockCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	cbs := r.byBlock[blockNumber]
	delete(r.byBlock, blockNumber)
	return cbs
}

// pending returns the number of distinct block numbers awaiting drain,
// for memory-pressure monitoring.
func (r *callbackRegistry) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byBlock)
}
