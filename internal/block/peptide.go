package block

import (
	"fmt"
	"iter"
)

// PeptideBlock holds peptide hits. Redundancy is nil for tables without a
// redundancy column.
type PeptideBlock struct {
	key         Key
	starts      []int64
	ends        []int64
	names       []string
	commonNames []string
	scores      []float64
	redundancy  []int64
}

// NewPeptideBlock wraps parallel slices sorted by start, then end. Pass a nil
// redundancy slice when the table has none.
func NewPeptideBlock(key Key, starts, ends []int64, names, commonNames []string, scores []float64, redundancy []int64) (*PeptideBlock, error) {
	n := len(starts)
	if !sameLen(n, len(ends), len(names), len(commonNames), len(scores)) {
		return nil, fmt.Errorf("peptide block %s: mismatched column lengths", key.ID())
	}
	if redundancy != nil && len(redundancy) != n {
		return nil, fmt.Errorf("peptide block %s: %d redundancy values for %d rows", key.ID(), len(redundancy), n)
	}
	return &PeptideBlock{
		key:         key,
		starts:      starts,
		ends:        ends,
		names:       names,
		commonNames: commonNames,
		scores:      scores,
		redundancy:  redundancy,
	}, nil
}

func (b *PeptideBlock) Key() Key { return b.key }
func (b *PeptideBlock) Len() int { return len(b.starts) }

// HasRedundancy reports whether the backing table carried a redundancy column.
func (b *PeptideBlock) HasRedundancy() bool { return b.redundancy != nil }

func (b *PeptideBlock) Features() iter.Seq[Peptide] {
	return func(yield func(Peptide) bool) {
		f := &peptideFeature{b: b}
		for i := range allRows(len(b.starts)) {
			f.i = i
			if !yield(f) {
				return
			}
		}
	}
}

func (b *PeptideBlock) Window(start, end int64) iter.Seq[Peptide] {
	return func(yield func(Peptide) bool) {
		f := &peptideFeature{b: b}
		for i := range segmentRows(b.starts, b.ends, start, end) {
			f.i = i
			if !yield(f) {
				return
			}
		}
	}
}

type peptideFeature struct {
	b *PeptideBlock
	i int
}

func (f *peptideFeature) SeqID() string      { return f.b.key.SequenceName }
func (f *peptideFeature) Strand() Strand     { return f.b.key.Strand }
func (f *peptideFeature) Start() int64       { return f.b.starts[f.i] }
func (f *peptideFeature) End() int64         { return f.b.ends[f.i] }
func (f *peptideFeature) Name() string       { return f.b.names[f.i] }
func (f *peptideFeature) CommonName() string { return f.b.commonNames[f.i] }
func (f *peptideFeature) Score() float64     { return f.b.scores[f.i] }

func (f *peptideFeature) CentralPosition() int64 {
	return average(f.b.starts[f.i], f.b.ends[f.i])
}

// Label prefers the common name.
func (f *peptideFeature) Label() string {
	if cn := f.CommonName(); cn != "" {
		return cn
	}
	return f.Name()
}

func (f *peptideFeature) Redundancy() (int64, bool) {
	if f.b.redundancy == nil {
		return 0, false
	}
	return f.b.redundancy[f.i], true
}

func (f *peptideFeature) String() string {
	return fmt.Sprintf("(Feature: %s, %s, %d, %d, %s, %s, %.2f)",
		f.SeqID(), f.Strand().Abbrev(), f.Start(), f.End(), f.Name(), f.CommonName(), f.Score())
}
