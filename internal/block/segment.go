package block

import (
	"fmt"
	"iter"
)

// SegmentBlock is a contiguous block of quantitative segments on one
// sequence and strand.
type SegmentBlock struct {
	key    Key
	starts []int64
	ends   []int64
	values []float64
}

// NewSegmentBlock wraps parallel slices sorted by start, then end.
func NewSegmentBlock(key Key, starts, ends []int64, values []float64) (*SegmentBlock, error) {
	if !sameLen(len(starts), len(ends), len(values)) {
		return nil, fmt.Errorf("segment block %s: %d starts, %d ends, %d values",
			key.ID(), len(starts), len(ends), len(values))
	}
	return &SegmentBlock{key: key, starts: starts, ends: ends, values: values}, nil
}

func (b *SegmentBlock) Key() Key { return b.key }
func (b *SegmentBlock) Len() int { return len(b.starts) }

func (b *SegmentBlock) Features() iter.Seq[Quantitative] {
	return func(yield func(Quantitative) bool) {
		f := &segmentFeature{b: b}
		for i := range allRows(len(b.starts)) {
			f.i = i
			if !yield(f) {
				return
			}
		}
	}
}

// Window yields segments with start < row.end and row.start < end.
func (b *SegmentBlock) Window(start, end int64) iter.Seq[Quantitative] {
	return func(yield func(Quantitative) bool) {
		f := &segmentFeature{b: b}
		for i := range segmentRows(b.starts, b.ends, start, end) {
			f.i = i
			if !yield(f) {
				return
			}
		}
	}
}

type segmentFeature struct {
	b *SegmentBlock
	i int
}

func (f *segmentFeature) SeqID() string  { return f.b.key.SequenceName }
func (f *segmentFeature) Strand() Strand { return f.b.key.Strand }
func (f *segmentFeature) Start() int64   { return f.b.starts[f.i] }
func (f *segmentFeature) End() int64     { return f.b.ends[f.i] }
func (f *segmentFeature) Label() string  { return "" }
func (f *segmentFeature) Value() float64 { return f.b.values[f.i] }

func (f *segmentFeature) CentralPosition() int64 {
	return average(f.b.starts[f.i], f.b.ends[f.i])
}

func (f *segmentFeature) String() string {
	return fmt.Sprintf("(Feature: %s, %s, %d, %d, %.2f)", f.SeqID(), f.Strand().Abbrev(), f.Start(), f.End(), f.Value())
}
