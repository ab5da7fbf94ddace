package block

import (
	"fmt"
	"iter"
)

// PositionalBlock holds point measurements: one position and one value per row.
type PositionalBlock struct {
	key       Key
	positions []int64
	values    []float64
}

// NewPositionalBlock wraps parallel slices loaded for key. The slices must be
// sorted by position and are owned by the block from then on.
func NewPositionalBlock(key Key, positions []int64, values []float64) (*PositionalBlock, error) {
	if !sameLen(len(positions), len(values)) {
		return nil, fmt.Errorf("positional block %s: %d positions, %d values", key.ID(), len(positions), len(values))
	}
	return &PositionalBlock{key: key, positions: positions, values: values}, nil
}

func (b *PositionalBlock) Key() Key { return b.key }
func (b *PositionalBlock) Len() int { return len(b.positions) }

// Features yields every row as a flyweight Quantitative feature.
func (b *PositionalBlock) Features() iter.Seq[Quantitative] {
	return func(yield func(Quantitative) bool) {
		f := &positionalFeature{b: b}
		for i := range allRows(len(b.positions)) {
			f.i = i
			if !yield(f) {
				return
			}
		}
	}
}

// Window yields rows with start <= position < end.
func (b *PositionalBlock) Window(start, end int64) iter.Seq[Quantitative] {
	return func(yield func(Quantitative) bool) {
		f := &positionalFeature{b: b}
		for i := range pointRows(b.positions, start, end) {
			f.i = i
			if !yield(f) {
				return
			}
		}
	}
}

type positionalFeature struct {
	b *PositionalBlock
	i int
}

func (f *positionalFeature) SeqID() string          { return f.b.key.SequenceName }
func (f *positionalFeature) Strand() Strand         { return f.b.key.Strand }
func (f *positionalFeature) Start() int64           { return f.b.positions[f.i] }
func (f *positionalFeature) End() int64             { return f.b.positions[f.i] }
func (f *positionalFeature) CentralPosition() int64 { return f.b.positions[f.i] }
func (f *positionalFeature) Label() string          { return "" }
func (f *positionalFeature) Value() float64         { return f.b.values[f.i] }

func (f *positionalFeature) String() string {
	return fmt.Sprintf("(Feature: %s, %s, %d, %.2f)", f.SeqID(), f.Strand().Abbrev(), f.Start(), f.Value())
}
