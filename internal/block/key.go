// Package block partitions genomic tracks into bounded, contiguous chunks of
// rows and provides lazy, allocation-light iteration over their features.
package block

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Key describes a block sufficiently to load its rows from the store.
// A block is uniquely identified by its track and its first and last row id.
type Key struct {
	TrackID      uuid.UUID
	SequenceID   int64
	SequenceName string
	Strand       Strand
	Start        int64 // min coordinate of the block's rows
	End          int64 // max coordinate of the block's rows
	Length       int64 // number of rows found in the row-id range
	Table        string
	FirstRowID   int64
	LastRowID    int64
}

// ID is the cache identity of a Key.
type ID struct {
	TrackID    uuid.UUID
	FirstRowID int64
	LastRowID  int64
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d:%d", id.TrackID, id.FirstRowID, id.LastRowID)
}

// NewKey builds a Key and checks that the identifying fields are set.
func NewKey(trackID uuid.UUID, sequenceID int64, sequenceName string, strand Strand,
	start, end, length int64, table string, firstRowID, lastRowID int64) (Key, error) {
	switch {
	case trackID == uuid.Nil:
		return Key{}, errors.New("block key: missing track id")
	case sequenceName == "":
		return Key{}, errors.New("block key: missing sequence name")
	case table == "":
		return Key{}, errors.New("block key: missing table name")
	case lastRowID < firstRowID:
		return Key{}, fmt.Errorf("block key: row range %d:%d is inverted", firstRowID, lastRowID)
	}
	return Key{
		TrackID:      trackID,
		SequenceID:   sequenceID,
		SequenceName: sequenceName,
		Strand:       strand,
		Start:        start,
		End:          end,
		Length:       length,
		Table:        table,
		FirstRowID:   firstRowID,
		LastRowID:    lastRowID,
	}, nil
}

// ID returns the (track, first row, last row) triple that defines equality.
func (k Key) ID() ID {
	return ID{TrackID: k.TrackID, FirstRowID: k.FirstRowID, LastRowID: k.LastRowID}
}

// Equal reports whether both keys name the same rows of the same track.
func (k Key) Equal(other Key) bool {
	return k.ID() == other.ID()
}

// FeatureCount is the number of rows in the block's row-id range.
// Careful: this assumes row ids are contiguous. A builder that skips row ids
// inside a block silently corrupts the count.
func (k Key) FeatureCount() int64 {
	return k.LastRowID - k.FirstRowID + 1
}

// Overlaps reports whether coord on the given sequence and strand falls inside
// the block's coordinate span.
func (k Key) Overlaps(sequenceName string, strand Strand, coord int64) bool {
	if k.SequenceName != sequenceName {
		return false
	}
	if !k.Strand.Compatible(strand) {
		return false
	}
	return k.Start <= coord && k.End >= coord
}

// Intersects reports whether the block's span intersects [start, end].
func (k Key) Intersects(start, end int64) bool {
	return k.Start <= end && k.End >= start
}

func (k Key) String() string {
	return fmt.Sprintf("(BlockKey uuid=%s, seq=(%d)%s, strand=%s, start=%d, end=%d, len=%d, table=%s, rows=%d:%d)",
		k.TrackID, k.SequenceID, k.SequenceName, k.Strand.Abbrev(), k.Start, k.End, k.Length, k.Table, k.FirstRowID, k.LastRowID)
}
