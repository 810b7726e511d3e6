// Package task defines the work queue's task variants.
package task

import (
	"math"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainkit/hsync/internal/source"
)

// MaxPriority is the priority ceiling tasks are computed relative to:
// Priority = MaxPriority - From, so lower block ranges sort first.
const MaxPriority = math.MaxInt64

// Kind distinguishes the four task variants.
type Kind int

const (
	KindLogFilter Kind = iota
	KindFactoryChild
	KindFactoryLog
	KindBlock
)

func (k Kind) String() string {
	switch k {
	case KindLogFilter:
		return "log_filter"
	case KindFactoryChild:
		return "factory_child"
	case KindFactoryLog:
		return "factory_log"
	case KindBlock:
		return "block"
	default:
		return "unknown"
	}
}

// BlockCallback is a persist action captured with everything it needs
// except the block body, which is injected at invocation time.
type BlockCallback struct {
	// Source identifies which tracker owns this callback's interval, for
	// logging and metrics.
	Source string
	// Run persists the interval given the fetched block. The closure
	// filters the block's transactions down to TxHashes itself.
	Run func(block *types.Block) error
	// TxHashes lists the transaction hashes this callback's logs belong
	// to, for metrics/logging; filtering happens inside Run.
	TxHashes []string
}

// Task is a unit of work submitted to the priority queue.
type Task struct {
	Kind Kind

	// Valid for KindLogFilter, KindFactoryChild, KindFactoryLog.
	Source *source.Source
	From   int64
	To     int64

	// Valid for KindBlock.
	BlockNumber int64
	Callbacks   []BlockCallback

	// Retry is true when the task is being re-enqueued after a failure.
	Retry bool
}

// Priority returns the queue priority for the task: larger values run
// first, computed as MaxPriority minus the task's starting block number
// so lower ranges are processed before higher ones.
func (t Task) Priority() int64 {
	if t.Kind == KindBlock {
		return MaxPriority - t.BlockNumber
	}
	return MaxPriority - t.From
}
