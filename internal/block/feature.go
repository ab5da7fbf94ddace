package block

import "iter"

// Feature is anything with a start and end coordinate on a sequence.
//
// Features yielded by a block are flyweights: the same value is rebound to the
// next row on every iteration step, so a consumer that needs a feature after
// the step must copy what it needs (see ToRecord).
type Feature interface {
	SeqID() string
	Strand() Strand
	Start() int64
	End() int64
	CentralPosition() int64
	Label() string
}

// Quantitative is a feature carrying a measurement.
type Quantitative interface {
	Feature
	Value() float64
}

// QuantitativePvalue is a measurement with a significance score.
type QuantitativePvalue interface {
	Quantitative
	Pvalue() float64
}

// Matrix is a segment carrying a fixed-width vector of measurements, e.g.
// several experimental replicates. Value returns the row mean.
type Matrix interface {
	Quantitative
	Columns() int
	Column(j int) float64
	AppendValues(dst []float64) []float64
}

// Peptide is a scored, named proteomics hit.
type Peptide interface {
	Feature
	Name() string
	CommonName() string
	Score() float64
	// Redundancy reports the redundancy count; ok is false when the backing
	// table has no redundancy column.
	Redundancy() (n int64, ok bool)
}

// Payload is what the block cache stores: any loaded block.
type Payload interface {
	Key() Key
	Len() int
}

// Block is a loaded chunk of rows exposing its features lazily.
// Both sequences may be ranged over any number of times; each range gets a
// fresh cursor.
type Block[F Feature] interface {
	Payload
	// Features yields every row in array order.
	Features() iter.Seq[F]
	// Window yields, in array order, the rows overlapping [start, end).
	Window(start, end int64) iter.Seq[F]
}

// Range is the span of values in a quantitative track.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Union returns the smallest range containing r and o.
func (r Range) Union(o Range) Range {
	return Range{Min: min(r.Min, o.Min), Max: max(r.Max, o.Max)}
}

// average is the integer mean of start and end without overflow.
func average(a, b int64) int64 {
	return a + (b-a)/2
}
