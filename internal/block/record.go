package block

import "iter"

// Record is a detached copy of a feature, safe to keep after the iteration
// step that produced it. Optional fields are nil when the shape lacks them.
type Record struct {
	Sequence   string    `json:"sequence"`
	Strand     Strand    `json:"strand"`
	Start      int64     `json:"start"`
	End        int64     `json:"end"`
	Label      string    `json:"label,omitempty"`
	Value      *float64  `json:"value,omitempty"`
	Pvalue     *float64  `json:"pvalue,omitempty"`
	Values     []float64 `json:"values,omitempty"`
	Name       string    `json:"name,omitempty"`
	CommonName string    `json:"common_name,omitempty"`
	Score      *float64  `json:"score,omitempty"`
	Redundancy *int64    `json:"redundancy,omitempty"`
}

// ToRecord copies the fields of f that its shape exposes.
func ToRecord(f Feature) Record {
	r := Record{
		Sequence: f.SeqID(),
		Strand:   f.Strand(),
		Start:    f.Start(),
		End:      f.End(),
		Label:    f.Label(),
	}
	if q, ok := f.(Quantitative); ok {
		v := q.Value()
		r.Value = &v
	}
	if p, ok := f.(QuantitativePvalue); ok {
		v := p.Pvalue()
		r.Pvalue = &v
	}
	if m, ok := f.(Matrix); ok {
		r.Values = m.AppendValues(make([]float64, 0, m.Columns()))
	}
	if p, ok := f.(Peptide); ok {
		r.Name = p.Name()
		r.CommonName = p.CommonName()
		s := p.Score()
		r.Score = &s
		if n, ok := p.Redundancy(); ok {
			r.Redundancy = &n
		}
	}
	return r
}

// Collect drains seq into records.
func Collect[F Feature](seq iter.Seq[F]) []Record {
	var out []Record
	for f := range seq {
		out = append(out, ToRecord(f))
	}
	return out
}
