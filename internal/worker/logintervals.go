package worker

import (
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
)

// logInterval is a sub-range of [from,to] owning the logs at its end
// block, built by buildLogIntervals.
type logInterval struct {
	Start, End int64
	Logs       []types.Log
	TxHashes   map[string]int // set of tx hashes this interval's logs belong to
}

// buildLogIntervals groups logs by block number and produces the
// sequence of owning intervals: for each distinct
// block B with logs in [from,to], an interval [prev+1, B] owning B's
// logs, followed by a terminal interval ending at `to` (with no owned
// logs) when `to` isn't already a boundary. This guarantees the first
// interval starts at `from` and the last ends at `to`, so the full
// range becomes cached even when later blocks are empty.
func buildLogIntervals(from, to int64, logs []types.Log) []logInterval {
	byBlock := make(map[int64][]types.Log)
	for _, l := range logs {
		b := int64(l.BlockNumber)
		byBlock[b] = append(byBlock[b], l)
	}

	blocks := make([]int64, 0, len(byBlock))
	for b := range byBlock {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	var out []logInterval
	prev := from - 1
	for _, b := range blocks {
		blockLogs := byBlock[b]
		out = append(out, logInterval{
			Start:    prev + 1,
			End:      b,
			Logs:     blockLogs,
			TxHashes: txHashSet(blockLogs),
		})
		prev = b
	}

	if prev != to {
		out = append(out, logInterval{
			Start: prev + 1,
			End:   to,
		})
	}

	return out
}

func txHashSet(logs []types.Log) map[string]int {
	set := make(map[string]int, len(logs))
	for _, l := range logs {
		set[l.TxHash.Hex()]++
	}
	return set
}
