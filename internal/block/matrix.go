package block

import (
	"fmt"
	"iter"
)

// SegmentMatrixBlock holds segments carrying a fixed-width row of values.
// The width comes from the value* columns of the backing table.
type SegmentMatrixBlock struct {
	key     Key
	starts  []int64
	ends    []int64
	values  [][]float64
	columns int
}

// NewSegmentMatrixBlock wraps parallel slices sorted by start, then end.
// Every row of values must have the same number of columns.
func NewSegmentMatrixBlock(key Key, starts, ends []int64, values [][]float64, columns int) (*SegmentMatrixBlock, error) {
	if !sameLen(len(starts), len(ends), len(values)) {
		return nil, fmt.Errorf("matrix block %s: %d starts, %d ends, %d rows",
			key.ID(), len(starts), len(ends), len(values))
	}
	for i, row := range values {
		if len(row) != columns {
			return nil, fmt.Errorf("matrix block %s: row %d has %d columns, want %d", key.ID(), i, len(row), columns)
		}
	}
	return &SegmentMatrixBlock{key: key, starts: starts, ends: ends, values: values, columns: columns}, nil
}

func (b *SegmentMatrixBlock) Key() Key     { return b.key }
func (b *SegmentMatrixBlock) Len() int     { return len(b.starts) }
func (b *SegmentMatrixBlock) Columns() int { return b.columns }

func (b *SegmentMatrixBlock) Features() iter.Seq[Matrix] {
	return func(yield func(Matrix) bool) {
		f := &matrixFeature{b: b}
		for i := range allRows(len(b.starts)) {
			f.i = i
			if !yield(f) {
				return
			}
		}
	}
}

func (b *SegmentMatrixBlock) Window(start, end int64) iter.Seq[Matrix] {
	return func(yield func(Matrix) bool) {
		f := &matrixFeature{b: b}
		for i := range segmentRows(b.starts, b.ends, start, end) {
			f.i = i
			if !yield(f) {
				return
			}
		}
	}
}

type matrixFeature struct {
	b *SegmentMatrixBlock
	i int
}

func (f *matrixFeature) SeqID() string          { return f.b.key.SequenceName }
func (f *matrixFeature) Strand() Strand         { return f.b.key.Strand }
func (f *matrixFeature) Start() int64           { return f.b.starts[f.i] }
func (f *matrixFeature) End() int64             { return f.b.ends[f.i] }
func (f *matrixFeature) Label() string          { return "" }
func (f *matrixFeature) Columns() int           { return f.b.columns }
func (f *matrixFeature) Column(j int) float64   { return f.b.values[f.i][j] }
func (f *matrixFeature) CentralPosition() int64 { return average(f.b.starts[f.i], f.b.ends[f.i]) }

// AppendValues appends a copy of the row's values to dst.
func (f *matrixFeature) AppendValues(dst []float64) []float64 {
	return append(dst, f.b.values[f.i]...)
}

// Value is the mean over the row's columns.
func (f *matrixFeature) Value() float64 {
	row := f.b.values[f.i]
	if len(row) == 0 {
		return 0
	}
	var sum float64
	for _, v := range row {
		sum += v
	}
	return sum / float64(len(row))
}
