package block

import (
	"fmt"
	"iter"
)

// PositionalPvalueBlock holds point measurements with a p-value per row.
type PositionalPvalueBlock struct {
	key       Key
	positions []int64
	values    []float64
	pvalues   []float64
}

func NewPositionalPvalueBlock(key Key, positions []int64, values, pvalues []float64) (*PositionalPvalueBlock, error) {
	if !sameLen(len(positions), len(values), len(pvalues)) {
		return nil, fmt.Errorf("p-value block %s: %d positions, %d values, %d p-values",
			key.ID(), len(positions), len(values), len(pvalues))
	}
	return &PositionalPvalueBlock{key: key, positions: positions, values: values, pvalues: pvalues}, nil
}

func (b *PositionalPvalueBlock) Key() Key { return b.key }
func (b *PositionalPvalueBlock) Len() int { return len(b.positions) }

func (b *PositionalPvalueBlock) Features() iter.Seq[QuantitativePvalue] {
	return func(yield func(QuantitativePvalue) bool) {
		f := &pvalueFeature{b: b}
		for i := range allRows(len(b.positions)) {
			f.i = i
			if !yield(f) {
				return
			}
		}
	}
}

func (b *PositionalPvalueBlock) Window(start, end int64) iter.Seq[QuantitativePvalue] {
	return func(yield func(QuantitativePvalue) bool) {
		f := &pvalueFeature{b: b}
		for i := range pointRows(b.positions, start, end) {
			f.i = i
			if !yield(f) {
				return
			}
		}
	}
}

type pvalueFeature struct {
	b *PositionalPvalueBlock
	i int
}

func (f *pvalueFeature) SeqID() string          { return f.b.key.SequenceName }
func (f *pvalueFeature) Strand() Strand         { return f.b.key.Strand }
func (f *pvalueFeature) Start() int64           { return f.b.positions[f.i] }
func (f *pvalueFeature) End() int64             { return f.b.positions[f.i] }
func (f *pvalueFeature) CentralPosition() int64 { return f.b.positions[f.i] }
func (f *pvalueFeature) Label() string          { return "" }
func (f *pvalueFeature) Value() float64         { return f.b.values[f.i] }
func (f *pvalueFeature) Pvalue() float64        { return f.b.pvalues[f.i] }
