package track

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/blockcache"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/duckdb"
)

func openDataSource(t *testing.T, opts ...Option) *DataSource {
	t.Helper()
	store, err := duckdb.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cache, err := blockcache.New(0)
	require.NoError(t, err)
	return NewDataSource(store, cache, opts...)
}

// importExample stores 45,000 forward rows on chr1, one every 10 bp.
func importExample(t *testing.T, ds *DataSource) duckdb.TrackInfo {
	t.Helper()
	rows := make([]duckdb.Row, 45000)
	for i := range rows {
		rows[i] = duckdb.Row{Sequence: "chr1", Strand: block.Forward, Start: int64(i) * 10, Value: float64(i)}
	}
	info, err := ds.Store().ImportTrack(context.Background(), duckdb.TrackSpec{Name: "example", Shape: block.ShapePositional}, rows)
	require.NoError(t, err)
	return info
}

func TestDataSource_OpenTrack(t *testing.T) {
	ds := openDataSource(t, WithBlockSize(20000), WithWorkers(2))
	importExample(t, ds)
	ctx := context.Background()

	tr, err := OpenTrack[block.Quantitative](ctx, ds, "example")
	require.NoError(t, err)
	keys := tr.Index().Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, int64(20000), keys[0].Length)
	assert.Equal(t, int64(5000), keys[2].Length)

	w := Window{Sequence: "chr1", Strand: block.Forward, Start: 399500, End: 400500}
	hit := tr.Blocks(w)
	require.Len(t, hit, 2)
	assert.True(t, hit[0].Equal(keys[1]))
	assert.True(t, hit[1].Equal(keys[2]))

	n := 0
	for f, err := range tr.Window(ctx, w) {
		require.NoError(t, err)
		assert.Equal(t, float64(f.Start()/10), f.Value())
		n++
	}
	assert.Equal(t, 100, n)

	for range tr.Window(ctx, Window{Sequence: "chr1", Strand: block.Forward, Start: 440000, End: 440100}) {
	}
	stats := ds.Cache().Stats()
	assert.Equal(t, int64(2), stats.Loads, "block 3 fetched once")
	assert.Equal(t, int64(1), stats.Hits)

	r, err := tr.Range(ctx)
	require.NoError(t, err)
	assert.Equal(t, block.Range{Min: 0, Max: 44999}, r)
}

func TestDataSource_IndexPersisted(t *testing.T) {
	ds := openDataSource(t, WithBlockSize(20000))
	info := importExample(t, ds)
	ctx := context.Background()

	ix, err := ds.GetOrCreateBlockIndex(ctx, info)
	require.NoError(t, err)
	again, err := ds.GetOrCreateBlockIndex(ctx, info)
	require.NoError(t, err)
	assert.Same(t, ix, again)

	// a second data source over the same store reuses the saved index,
	// ignoring its own block size
	other := NewDataSource(ds.Store(), ds.Cache(), WithBlockSize(1000))
	loaded, err := other.GetOrCreateBlockIndex(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, ix.Keys(), loaded.Keys())

	_, meta, err := ds.Store().LoadBlockIndex(ctx, info.UUID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(20000), meta.BlockSize)
	assert.Equal(t, int64(45000), meta.RowCount)
}

func TestDataSource_StaleIndexRebuilt(t *testing.T) {
	ds := openDataSource(t, WithBlockSize(20000))
	info := importExample(t, ds)
	ctx := context.Background()

	_, err := ds.GetOrCreateBlockIndex(ctx, info)
	require.NoError(t, err)

	// tampered index rows no longer match the fingerprint
	_, err = ds.Store().DB().Exec(`DELETE FROM block_index WHERE first_row_id = 20000`)
	require.NoError(t, err)
	ix, err := NewDataSource(ds.Store(), ds.Cache(), WithBlockSize(20000)).GetOrCreateBlockIndex(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, 3, ix.Len())

	// rows removed after indexing
	_, err = ds.Store().DB().Exec(`DELETE FROM ` + info.Table + ` WHERE row_id >= 44000`)
	require.NoError(t, err)
	ix, err = NewDataSource(ds.Store(), ds.Cache(), WithBlockSize(20000)).GetOrCreateBlockIndex(ctx, info)
	require.NoError(t, err)
	require.Equal(t, 3, ix.Len())
	assert.Equal(t, int64(44000), ix.RowCount())
	require.NoError(t, ix.Validate(44000))
}

func TestDataSource_RebuildPurgesCache(t *testing.T) {
	ds := openDataSource(t, WithBlockSize(20000))
	info := importExample(t, ds)
	ctx := context.Background()

	tr, err := OpenTrack[block.Quantitative](ctx, ds, "example")
	require.NoError(t, err)
	for _, err := range tr.Features(ctx) {
		require.NoError(t, err)
	}
	assert.Len(t, ds.Cache().Keys(), 3)

	ix, err := ds.RebuildBlockIndex(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, 3, ix.Len())
	assert.Empty(t, ds.Cache().Keys())

	again, err := ds.GetOrCreateBlockIndex(ctx, info)
	require.NoError(t, err)
	assert.Same(t, ix, again)
}

func TestDataSource_OpenEveryShape(t *testing.T) {
	ds := openDataSource(t, WithBlockSize(2))
	ctx := context.Background()
	s := ds.Store()

	specs := []struct {
		spec duckdb.TrackSpec
		rows []duckdb.Row
	}{
		{duckdb.TrackSpec{Name: "pos", Shape: block.ShapePositional}, []duckdb.Row{
			{Sequence: "chr1", Strand: block.Forward, Start: 10, Value: 1},
			{Sequence: "chr1", Strand: block.Forward, Start: 20, Value: 2},
			{Sequence: "chr1", Strand: block.Forward, Start: 30, Value: 3},
		}},
		{duckdb.TrackSpec{Name: "seg", Shape: block.ShapeSegment}, []duckdb.Row{
			{Sequence: "chr1", Strand: block.Reverse, Start: 10, End: 25, Value: 1},
			{Sequence: "chr1", Strand: block.Reverse, Start: 20, End: 35, Value: 2},
		}},
		{duckdb.TrackSpec{Name: "mat", Shape: block.ShapeSegmentMatrix, Columns: 2}, []duckdb.Row{
			{Sequence: "chr1", Strand: block.Forward, Start: 10, End: 25, Values: []float64{1, 2}},
		}},
		{duckdb.TrackSpec{Name: "pv", Shape: block.ShapePositionalPvalue}, []duckdb.Row{
			{Sequence: "chr1", Strand: block.Forward, Start: 15, Value: 1, Pvalue: 0.01},
		}},
		{duckdb.TrackSpec{Name: "pep", Shape: block.ShapePeptide}, []duckdb.Row{
			{Sequence: "chr1", Strand: block.Forward, Start: 12, End: 30, Name: "VPS4", Score: 4.5},
		}},
	}
	for _, tt := range specs {
		_, err := s.ImportTrack(ctx, tt.spec, tt.rows)
		require.NoError(t, err, tt.spec.Name)
	}

	tracks, err := ds.Tracks(ctx)
	require.NoError(t, err)
	require.Len(t, tracks, 5)

	w := Window{Sequence: "chr1", Strand: block.Any, Start: 0, End: 100}
	for _, info := range tracks {
		t.Run(info.Name, func(t *testing.T) {
			src, err := ds.Track(ctx, info.Name)
			require.NoError(t, err)
			shape, err := info.Shape()
			require.NoError(t, err)
			assert.Equal(t, shape, src.Shape())

			var recs []block.Record
			err = src.EachBlock(ctx, w, func(_ block.Key, features iter.Seq[block.Feature], err error) error {
				if err != nil {
					return err
				}
				recs = append(recs, block.Collect(features)...)
				return nil
			})
			require.NoError(t, err)
			assert.NotEmpty(t, recs)
			for _, r := range recs {
				assert.Equal(t, "chr1", r.Sequence)
			}
		})
	}

	_, err = OpenTrack[block.Quantitative](ctx, ds, "pep")
	assert.ErrorIs(t, err, ErrFeatureType)
	_, err = OpenTrack[block.Peptide](ctx, ds, "pep")
	assert.NoError(t, err)
	_, err = OpenTrack[block.Quantitative](ctx, ds, "seg")
	assert.NoError(t, err)

	_, err = ds.Track(ctx, "missing")
	assert.ErrorIs(t, err, duckdb.ErrTrackNotFound)
}
