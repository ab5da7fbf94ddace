package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
)

// importAndIndex imports rows and returns the track's block keys.
func importAndIndex(t *testing.T, s *Store, spec TrackSpec, rows []Row, blockSize int) (TrackInfo, []block.Key) {
	t.Helper()
	ctx := context.Background()
	info, err := s.ImportTrack(ctx, spec, rows)
	require.NoError(t, err)
	ix, err := s.CreateBlockIndex(ctx, info, blockSize, 2)
	require.NoError(t, err)
	require.NoError(t, ix.Validate(int64(len(rows))))
	return info, ix.Keys()
}

func TestLoadPositionalBlock(t *testing.T) {
	s := openInMemory(t)
	_, keys := importAndIndex(t, s, TrackSpec{Name: "pos", Shape: block.ShapePositional}, positionalRows(25), 10)
	require.Len(t, keys, 3)

	b, err := s.LoadPositionalBlock(context.Background(), keys[1])
	require.NoError(t, err)
	assert.Equal(t, 10, b.Len())
	recs := block.Collect(b.Features())
	assert.Equal(t, int64(100), recs[0].Start)
	assert.Equal(t, 10.0, *recs[0].Value)
	assert.Equal(t, int64(190), recs[9].Start)

	assert.Len(t, block.Collect(b.Window(150, 170)), 2)
}

func TestLoadSegmentBlock_SortsRows(t *testing.T) {
	s := openInMemory(t)
	rows := []Row{
		{Sequence: "chr1", Strand: block.Forward, Start: 300, End: 400, Value: 3},
		{Sequence: "chr1", Strand: block.Forward, Start: 100, End: 250, Value: 1},
		{Sequence: "chr1", Strand: block.Forward, Start: 100, End: 150, Value: 2},
	}
	_, keys := importAndIndex(t, s, TrackSpec{Name: "seg", Shape: block.ShapeSegment}, rows, 10)
	require.Len(t, keys, 1)
	assert.Equal(t, int64(100), keys[0].Start)
	assert.Equal(t, int64(400), keys[0].End)

	b, err := s.LoadSegmentBlock(context.Background(), keys[0])
	require.NoError(t, err)
	var values []float64
	for f := range b.Features() {
		values = append(values, f.Value())
	}
	assert.Equal(t, []float64{2, 1, 3}, values, "sorted by start then end")
}

func TestLoadSegmentMatrixBlock(t *testing.T) {
	s := openInMemory(t)
	rows := []Row{
		{Sequence: "chr1", Start: 0, End: 10, Values: []float64{1, 2, 3, 6}},
		{Sequence: "chr1", Start: 10, End: 20, Values: []float64{4, 4, 4, 4}},
	}
	info, keys := importAndIndex(t, s, TrackSpec{Name: "matrix", Shape: block.ShapeSegmentMatrix, Columns: 4}, rows, 10)

	width, err := s.MatrixWidth(context.Background(), info.Table)
	require.NoError(t, err)
	assert.Equal(t, 4, width)

	b, err := s.LoadSegmentMatrixBlock(context.Background(), keys[0])
	require.NoError(t, err)
	assert.Equal(t, 4, b.Columns())
	recs := block.Collect(b.Features())
	require.Len(t, recs, 2)
	assert.Equal(t, []float64{1, 2, 3, 6}, recs[0].Values)
	assert.Equal(t, 3.0, *recs[0].Value, "row mean")
}

func TestImportTrack_MatrixWidth(t *testing.T) {
	s := openInMemory(t)
	_, err := s.ImportTrack(context.Background(), TrackSpec{Name: "m", Shape: block.ShapeSegmentMatrix, Columns: 2},
		[]Row{{Sequence: "chr1", Values: []float64{1}}})
	assert.Error(t, err)
}

func TestLoadPositionalPvalueBlock(t *testing.T) {
	s := openInMemory(t)
	rows := []Row{
		{Sequence: "chr1", Strand: block.Reverse, Start: 50, Value: 1.5, Pvalue: 0.01},
		{Sequence: "chr1", Strand: block.Reverse, Start: 20, Value: 0.5, Pvalue: 0.3},
	}
	_, keys := importAndIndex(t, s, TrackSpec{Name: "pv", Shape: block.ShapePositionalPvalue}, rows, 10)

	b, err := s.LoadPositionalPvalueBlock(context.Background(), keys[0])
	require.NoError(t, err)
	recs := block.Collect(b.Features())
	require.Len(t, recs, 2)
	assert.Equal(t, int64(20), recs[0].Start)
	assert.Equal(t, 0.3, *recs[0].Pvalue)
	assert.Equal(t, block.Reverse, recs[1].Strand)
}

func TestLoadPeptideBlock(t *testing.T) {
	s := openInMemory(t)
	rows := []Row{
		{Sequence: "chr1", Strand: block.Forward, Start: 10, End: 40, Name: "VNG1001G", CommonName: "gyrB", Score: 0.9, Redundancy: 2},
		{Sequence: "chr1", Strand: block.Forward, Start: 50, End: 80, Name: "VNG1002G", Score: 0.4, Redundancy: 1},
	}

	_, plain := importAndIndex(t, s, TrackSpec{Name: "peps", Shape: block.ShapePeptide}, rows, 10)
	b, err := s.LoadPeptideBlock(context.Background(), plain[0])
	require.NoError(t, err)
	assert.False(t, b.HasRedundancy())
	recs := block.Collect(b.Features())
	require.Len(t, recs, 2)
	assert.Equal(t, "gyrB", recs[0].Label)
	assert.Equal(t, "VNG1002G", recs[1].Label)
	assert.Nil(t, recs[0].Redundancy)

	_, red := importAndIndex(t, s, TrackSpec{Name: "peps redundant", Shape: block.ShapePeptide, Redundancy: true}, rows, 10)
	b, err = s.LoadPeptideBlock(context.Background(), red[0])
	require.NoError(t, err)
	assert.True(t, b.HasRedundancy())
	recs = block.Collect(b.Features())
	require.NotNil(t, recs[0].Redundancy)
	assert.Equal(t, int64(2), *recs[0].Redundancy)
}

func TestLoadBlock_Errors(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	_, err := s.LoadSegmentBlock(ctx, block.Key{Table: "bad table"})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = s.LoadSegmentBlock(ctx, block.Key{Table: "nope", LastRowID: 5})
	assert.Error(t, err)
}

func TestImportTSV(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "genes.tsv")
	data := "sequence\tstrand\tstart\tend\tvalue\n" +
		"chr2\t-\t500\t900\t1.5\n" +
		"chr1\t+\t300\t400\t3\n" +
		"chr1\t+\t100\t200\t1\n" +
		"chr1\tforward\t100\t150\t2\n" +
		"chr1\t.\t0\t50\t9\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	info, err := s.ImportTSV(ctx, TrackSpec{Name: "genes", Shape: block.ShapeSegment,
		Attributes: map[string]string{"color": "0x0000FFFF"}}, path)
	require.NoError(t, err)

	src, err := StatSource(path)
	require.NoError(t, err)
	attrs, err := s.Attributes(ctx, info.UUID)
	require.NoError(t, err)
	assert.True(t, src.Matches(attrs))
	assert.Equal(t, path, attrs[AttrSourcePath])
	assert.Equal(t, "0x0000FFFF", attrs["color"])
	require.NoError(t, os.WriteFile(path, []byte(data+"chr1\t+\t1\t2\t0\n"), 0644))
	changed, err := StatSource(path)
	require.NoError(t, err)
	assert.False(t, changed.Matches(attrs), "size differs after the file grows")

	n, err := s.RowCount(ctx, info.Table)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	seqs, err := s.Sequences(ctx)
	require.NoError(t, err)
	require.Len(t, seqs, 2)
	assert.Equal(t, "chr2", seqs[0].Name, "numbered in file order")
	assert.Equal(t, int64(900), seqs[0].Length)

	ix, err := s.CreateBlockIndex(ctx, info, 2, 2)
	require.NoError(t, err)
	require.NoError(t, ix.Validate(5))

	// chr2 (id 1) takes row 0, then chr1 forward rows 1..3, then chr1 none row 4
	fwd := ix.KeysFor("chr1", block.Forward)
	require.Len(t, fwd, 2)
	assert.Equal(t, int64(1), fwd[0].FirstRowID)

	b, err := s.LoadSegmentBlock(ctx, fwd[0])
	require.NoError(t, err)
	var values []float64
	for f := range b.Features() {
		values = append(values, f.Value())
	}
	assert.Equal(t, []float64{2, 1}, values)
}

func TestImportTSV_MissingFile(t *testing.T) {
	s := openInMemory(t)
	_, err := s.ImportTSV(context.Background(), TrackSpec{Name: "x", Shape: block.ShapePositional},
		filepath.Join(t.TempDir(), "absent.tsv"))
	assert.Error(t, err)
}

func TestImportTSV_FailureRollsBack(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	_, err := s.ImportTrack(ctx, TrackSpec{Name: "dup", Shape: block.ShapePositional}, positionalRows(3))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dup.tsv")
	require.NoError(t, os.WriteFile(path, []byte("sequence\tstrand\tposition\tvalue\nchr7\t+\t1\t1\n"), 0644))
	_, err = s.ImportTSV(ctx, TrackSpec{Name: "dup", Shape: block.ShapePositional, Table: "features_dup2"}, path)
	require.Error(t, err)

	assert.False(t, tableExists(t, s, "features_dup2"))
	seqs, err := s.Sequences(ctx)
	require.NoError(t, err)
	assert.Len(t, seqs, 1, "chr7 not added")
}
