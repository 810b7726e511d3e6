// Package source defines the user-declared event sources a historical
// sync engine instance reconstructs: log filters and factories.
package source

import "github.com/ethereum/go-ethereum/common"

// Kind distinguishes the two event source variants.
type Kind int

const (
	// KindLogFilter sources emit logs matched directly against a
	// criteria's address/topics.
	KindLogFilter Kind = iota
	// KindFactory sources discover child contract addresses from a
	// factory contract's logs, then filter a second time over those
	// child addresses.
	KindFactory
)

// Criteria is the (address, topics) pair used by eth_getLogs. Addresses
// and Topics may each hold zero, one, or many values; a nil Topics entry
// means "any topic" at that position, matching go-ethereum's
// FilterQuery.Topics convention.
type Criteria struct {
	Addresses []common.Address
	Topics    [][]common.Hash

	// Factory-only fields.
	EventSelector        common.Hash
	ChildAddressLocation int
}

// Source is a single named event source on one chain.
type Source struct {
	Name        string
	ChainID     int64
	Kind        Kind
	Criteria    Criteria
	StartBlock  int64
	EndBlock    *int64 // nil means "track indefinitely" (unbounded upper edge)
	MaxBlockRange int64 // 0 means "use the network default"
}

// ResolvedRange returns [StartBlock, min(EndBlock, finalized)], and false
// if the source's start is already past the finalized head (meaning the
// source should be skipped by historical sync and picked up by realtime
// sync instead).
func (s Source) ResolvedRange(finalized int64) (from, to int64, ok bool) {
	end := finalized
	if s.EndBlock != nil && *s.EndBlock < end {
		end = *s.EndBlock
	}
	if s.StartBlock > finalized {
		return 0, 0, false
	}
	if s.StartBlock > end {
		panic("source: startBlock past endBlock")
	}
	return s.StartBlock, end, true
}

// EffectiveMaxBlockRange returns MaxBlockRange, falling back to
// defaultMaxBlockRange when unset.
func (s Source) EffectiveMaxBlockRange(defaultMaxBlockRange int64) int64 {
	if s.MaxBlockRange > 0 {
		return s.MaxBlockRange
	}
	return defaultMaxBlockRange
}
