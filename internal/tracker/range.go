// Package tracker implements the two progress trackers that sit at the
// heart of the historical sync engine: a Range tracker (per event-source
// block coverage with a monotone checkpoint) and a Block tracker (per-block
// completion that gates when coverage can be reported downstream).
package tracker

import (
	"sync"

	"github.com/chainkit/hsync/internal/interval"
)

// RangeResult reports the outcome of adding a completed interval to a
// Range tracker.
type RangeResult struct {
	IsUpdated      bool
	PrevCheckpoint int64
	NewCheckpoint  int64
}

// Range tracks coverage of a single target block range for one event
// source and exposes a monotone checkpoint: the largest B such that
// [target.From, B] is entirely completed.
//
// Safe for concurrent use; all mutation is guarded by a single mutex, per
// the engine's single-mutex-over-tracker-math concurrency model.
type Range struct {
	mu        sync.Mutex
	target    interval.Range
	completed interval.Set
}

// NewRange creates a tracker for target, clipping initialCompleted to lie
// within target.
func NewRange(target interval.Range, initialCompleted interval.Set) *Range {
	clipped := interval.Intersection(interval.Set{target}, initialCompleted)
	return &Range{
		target:    target,
		completed: clipped,
	}
}

// AddCompletedInterval records r as completed (clipped to the target
// range) and recomputes the checkpoint.
func (t *Range) AddCompletedInterval(r interval.Range) RangeResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.checkpointLocked()

	clipped := interval.Intersection(interval.Set{t.target}, interval.Set{r})
	t.completed = interval.Union(t.completed, clipped)

	next := t.checkpointLocked()
	return RangeResult{
		IsUpdated:      next > prev,
		PrevCheckpoint: prev,
		NewCheckpoint:  next,
	}
}

// GetRequired returns the portion of the target range not yet completed,
// chunked by nothing (callers chunk with interval.Chunks as needed).
func (t *Range) GetRequired() interval.Set {
	t.mu.Lock()
	defer t.mu.Unlock()
	return interval.Difference(interval.Set{t.target}, t.completed)
}

// GetCheckpoint returns the current checkpoint: the largest B such that
// [target.From, B] is fully completed, or target.From-1 if nothing from
// target.From is completed.
func (t *Range) GetCheckpoint() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkpointLocked()
}

func (t *Range) checkpointLocked() int64 {
	checkpoint := t.target.From - 1
	for _, r := range t.completed {
		if r.From > checkpoint+1 {
			break
		}
		if r.To > checkpoint {
			checkpoint = r.To
		}
	}
	return checkpoint
}

// Target returns the tracked target range.
func (t *Range) Target() interval.Range {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// Completed returns a snapshot of the completed intervals in canonical
// form.
func (t *Range) Completed() interval.Set {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(interval.Set, len(t.completed))
	copy(out, t.completed)
	return out
}
