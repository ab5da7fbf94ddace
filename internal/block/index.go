package block

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// DefaultBlockSize is the number of rows per block when none is configured.
const DefaultBlockSize = 20000

type group struct {
	sequence string
	strand   Strand
}

type span struct{ lo, hi int }

// Index is the ordered set of block keys of one track, sorted by
// (sequence id, strand, start, end). An Index must not be modified once it
// is shared; lookups are then safe for concurrent use.
type Index struct {
	keys   []Key
	groups map[group]span
}

// NewIndex builds an index over keys in any order.
func NewIndex(keys ...Key) *Index {
	ix := &Index{keys: slices.Clone(keys)}
	slices.SortStableFunc(ix.keys, compareKeys)
	ix.regroup()
	return ix
}

func compareKeys(a, b Key) int {
	return cmp.Or(
		cmp.Compare(a.SequenceID, b.SequenceID),
		cmp.Compare(a.Strand.Rank(), b.Strand.Rank()),
		cmp.Compare(a.Start, b.Start),
		cmp.Compare(a.End, b.End),
		cmp.Compare(a.FirstRowID, b.FirstRowID),
	)
}

// Add inserts key at its sorted position.
func (ix *Index) Add(key Key) {
	i, _ := slices.BinarySearchFunc(ix.keys, key, compareKeys)
	ix.keys = slices.Insert(ix.keys, i, key)
	ix.regroup()
}

func (ix *Index) regroup() {
	ix.groups = make(map[group]span)
	for i, k := range ix.keys {
		g := group{k.SequenceName, k.Strand}
		s, ok := ix.groups[g]
		if !ok {
			s.lo = i
		}
		s.hi = i + 1
		ix.groups[g] = s
	}
}

// Len returns the number of blocks.
func (ix *Index) Len() int {
	return len(ix.keys)
}

// Keys returns all keys in index order.
func (ix *Index) Keys() []Key {
	return slices.Clone(ix.keys)
}

// KeysFor returns the keys on a sequence and strand; Any selects the
// forward, reverse and none groups in that order.
func (ix *Index) KeysFor(sequence string, strand Strand) []Key {
	var out []Key
	for _, s := range strand.Expand() {
		if sp, ok := ix.groups[group{sequence, s}]; ok {
			out = append(out, ix.keys[sp.lo:sp.hi]...)
		}
	}
	return out
}

// Query returns, in ascending coordinate order, the blocks on sequence whose
// strand is compatible with strand and whose span intersects [start, end].
//
// Blocks hold ~20k rows each, so a track has few of them; a linear scan of
// each (sequence, strand) group, stopping at the first block that starts
// past end, is enough.
func (ix *Index) Query(sequence string, strand Strand, start, end int64) []Key {
	var out []Key
	groups := 0
	for _, s := range strand.Expand() {
		sp, ok := ix.groups[group{sequence, s}]
		if !ok {
			continue
		}
		groups++
		for _, k := range ix.keys[sp.lo:sp.hi] {
			if k.Start > end {
				break
			}
			if k.End >= start {
				out = append(out, k)
			}
		}
	}
	if groups > 1 {
		slices.SortStableFunc(out, func(a, b Key) int {
			return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.End, b.End))
		})
	}
	return out
}

// RowCount sums the row-id ranges of all blocks.
func (ix *Index) RowCount() int64 {
	var n int64
	for _, k := range ix.keys {
		n += k.FeatureCount()
	}
	return n
}

// Validate checks that the blocks cover row ids [0, totalRows-1] exactly,
// without gaps or overlaps.
func (ix *Index) Validate(totalRows int64) error {
	if len(ix.keys) == 0 {
		if totalRows == 0 {
			return nil
		}
		return fmt.Errorf("empty index for %d rows", totalRows)
	}
	byRow := slices.Clone(ix.keys)
	slices.SortFunc(byRow, func(a, b Key) int { return cmp.Compare(a.FirstRowID, b.FirstRowID) })

	var next int64
	for _, k := range byRow {
		switch {
		case k.FirstRowID > next:
			return fmt.Errorf("gap in row ids %d:%d before %s", next, k.FirstRowID-1, k)
		case k.FirstRowID < next:
			return fmt.Errorf("overlapping row ids at %s", k)
		}
		next = k.LastRowID + 1
	}
	if next != totalRows {
		return fmt.Errorf("blocks cover %d rows, table has %d", next, totalRows)
	}
	return nil
}

// Fingerprint digests the persisted fields of every key in index order.
func (ix *Index) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [8]byte
	putInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		d.Write(buf[:])
	}
	for _, k := range ix.keys {
		d.Write(k.TrackID[:])
		putInt(k.SequenceID)
		d.WriteString(k.SequenceName)
		d.WriteString(k.Strand.Abbrev())
		putInt(k.Start)
		putInt(k.End)
		putInt(k.Length)
		d.WriteString(k.Table)
		putInt(k.FirstRowID)
		putInt(k.LastRowID)
	}
	return d.Sum64()
}
