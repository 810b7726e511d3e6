// Package interval implements pure set arithmetic over sorted,
// non-overlapping, non-adjacent closed integer ranges.
//
// A Range is a closed interval [From, To] with From <= To. A Set is a
// sorted slice of Ranges with no two ranges overlapping or touching —
// adjacent ranges are always coalesced, so [1,3] and [4,6] never appear
// side by side in a canonical Set; they collapse to [1,6].
package interval

import "sort"

// Range is a closed integer interval [From, To].
type Range struct {
	From int64
	To   int64
}

// Set is a canonical (sorted, non-overlapping, non-adjacent) list of Ranges.
type Set []Range

// Of builds a canonical Set from arbitrary (possibly overlapping,
// unsorted) ranges. Malformed ranges (From > To) are a programmer error
// and panic.
func Of(ranges ...Range) Set {
	return Union(nil, ranges)
}

func checkRanges(ranges []Range) {
	for _, r := range ranges {
		if r.From > r.To {
			panic("interval: malformed range, from > to")
		}
	}
}

// Union merges two sets, coalescing overlapping and adjacent ranges
// (e.g. [1,3] union [4,6] = [1,6]).
func Union(a, b Set) Set {
	checkRanges(a)
	checkRanges(b)

	all := make([]Range, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	if len(all) == 0 {
		return nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i].From < all[j].From })

	out := make(Set, 0, len(all))
	cur := all[0]
	for _, r := range all[1:] {
		if r.From <= cur.To+1 {
			if r.To > cur.To {
				cur.To = r.To
			}
			continue
		}
		out = append(out, cur)
		cur = r
	}
	out = append(out, cur)
	return out
}

// Difference returns a minus b: the portion of a's coverage not covered
// by b, preserving canonical form.
func Difference(a, b Set) Set {
	checkRanges(a)
	checkRanges(b)

	var out Set
	for _, r := range a {
		remaining := []Range{r}
		for _, sub := range b {
			var next []Range
			for _, rem := range remaining {
				next = append(next, subtract(rem, sub)...)
			}
			remaining = next
			if len(remaining) == 0 {
				break
			}
		}
		out = append(out, remaining...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return Union(nil, out)
}

// subtract removes sub's coverage from r, returning zero, one, or two
// resulting ranges.
func subtract(r, sub Range) []Range {
	if sub.To < r.From || sub.From > r.To {
		return []Range{r}
	}
	var out []Range
	if sub.From > r.From {
		out = append(out, Range{From: r.From, To: sub.From - 1})
	}
	if sub.To < r.To {
		out = append(out, Range{From: sub.To + 1, To: r.To})
	}
	return out
}

// Intersection returns the overlap of a and b in canonical form.
func Intersection(a, b Set) Set {
	checkRanges(a)
	checkRanges(b)

	var out Set
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		from := max64(a[i].From, b[j].From)
		to := min64(a[i].To, b[j].To)
		if from <= to {
			out = append(out, Range{From: from, To: to})
		}
		if a[i].To < b[j].To {
			i++
		} else {
			j++
		}
	}
	return Union(nil, out)
}

// Sum returns the total number of integers covered by the set.
func Sum(s Set) int64 {
	var total int64
	for _, r := range s {
		total += r.To - r.From + 1
	}
	return total
}

// Chunks splits s into pieces no wider than maxWidth, covering exactly
// the same integers. Splitting only happens by width: gaps in the
// original set are never bridged.
func Chunks(s Set, maxWidth int64) []Range {
	if maxWidth <= 0 {
		panic("interval: maxWidth must be positive")
	}
	var out []Range
	for _, r := range s {
		from := r.From
		for from <= r.To {
			to := from + maxWidth - 1
			if to > r.To {
				to = r.To
			}
			out = append(out, Range{From: from, To: to})
			from = to + 1
		}
	}
	return out
}

// Contains reports whether n falls within some range of s.
func Contains(s Set, n int64) bool {
	for _, r := range s {
		if n >= r.From && n <= r.To {
			return true
		}
		if n < r.From {
			return false
		}
	}
	return false
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
