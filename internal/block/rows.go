package block

import (
	"iter"
	"slices"
)

// allRows yields 0..n-1.
func allRows(n int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range n {
			if !yield(i) {
				return
			}
		}
	}
}

// pointRows yields the indices of positions p with start <= p < end.
// positions must be sorted ascending.
func pointRows(positions []int64, start, end int64) iter.Seq[int] {
	return func(yield func(int) bool) {
		i, _ := slices.BinarySearch(positions, start)
		for ; i < len(positions) && positions[i] < end; i++ {
			if !yield(i) {
				return
			}
		}
	}
}

// segmentRows yields the indices of segments overlapping [start, end), that
// is start < ends[i] && starts[i] < end. Rows must be sorted by start, then
// end. Leading rows that end before the window are skipped once; iteration
// stops at the first row starting at or after end.
func segmentRows(starts, ends []int64, start, end int64) iter.Seq[int] {
	return func(yield func(int) bool) {
		i := 0
		for i < len(starts) && ends[i] <= start {
			i++
		}
		for ; i < len(starts) && starts[i] < end; i++ {
			if ends[i] <= start {
				continue
			}
			if !yield(i) {
				return
			}
		}
	}
}

func sameLen(n int, lens ...int) bool {
	for _, l := range lens {
		if l != n {
			return false
		}
	}
	return true
}
