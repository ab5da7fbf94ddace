package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/blockcache"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/duckdb"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/track"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupRouter serves a dataset with a 25 row positional track ("tiling",
// blocks of 10) and a two row peptide track.
func setupRouter(t *testing.T) (*gin.Engine, *track.DataSource) {
	t.Helper()
	store, err := duckdb.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cache, err := blockcache.New(0)
	require.NoError(t, err)
	ds := track.NewDataSource(store, cache, track.WithBlockSize(10))

	ctx := context.Background()
	rows := make([]duckdb.Row, 25)
	for i := range rows {
		rows[i] = duckdb.Row{Sequence: "chr1", Strand: block.Forward, Start: int64(i) * 10, Value: float64(i)}
	}
	_, err = store.ImportTrack(ctx, duckdb.TrackSpec{Name: "tiling", Shape: block.ShapePositional}, rows)
	require.NoError(t, err)
	_, err = store.ImportTrack(ctx, duckdb.TrackSpec{Name: "peptides", Shape: block.ShapePeptide}, []duckdb.Row{
		{Sequence: "chr1", Strand: block.Reverse, Start: 5, End: 50, Name: "VNG0001", Score: 2},
		{Sequence: "chr1", Strand: block.Reverse, Start: 60, End: 90, Name: "VNG0002", CommonName: "sod", Score: 7},
	})
	require.NoError(t, err)

	return NewRouter(ds, zap.NewNop()), ds
}

func get(router *gin.Engine, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", url, nil)
	router.ServeHTTP(w, req)
	return w
}

func ndjson(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	return out
}

func TestTracksRoute(t *testing.T) {
	router, _ := setupRouter(t)

	w := get(router, "/tracks")
	require.Equal(t, 200, w.Code)
	var tracks []duckdb.TrackInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tracks))
	require.Len(t, tracks, 2)
	assert.Equal(t, "peptides", tracks[0].Name)
	assert.Equal(t, "tiling", tracks[1].Name)
	assert.Equal(t, block.ShapePositional.TrackType(), tracks[1].Type)
}

func TestTrackRoute(t *testing.T) {
	router, _ := setupRouter(t)

	w := get(router, "/tracks/tiling")
	require.Equal(t, 200, w.Code)
	var sum struct {
		Name   string       `json:"name"`
		Blocks int          `json:"blocks"`
		Rows   int64        `json:"rows"`
		Range  *block.Range `json:"range"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, "tiling", sum.Name)
	assert.Equal(t, 3, sum.Blocks)
	assert.Equal(t, int64(25), sum.Rows)
	require.NotNil(t, sum.Range)
	assert.Equal(t, block.Range{Min: 0, Max: 24}, *sum.Range)

	w = get(router, "/tracks/peptides")
	require.Equal(t, 200, w.Code)
	assert.NotContains(t, w.Body.String(), `"range"`)

	assert.Equal(t, 404, get(router, "/tracks/nope").Code)
}

func TestBlocksRoute(t *testing.T) {
	router, _ := setupRouter(t)

	w := get(router, "/tracks/tiling/blocks?window=chr1:85-105")
	require.Equal(t, 200, w.Code)
	var blocks []blockSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &blocks))
	require.Len(t, blocks, 2)
	assert.Equal(t, int64(0), blocks[0].FirstRowID)
	assert.Equal(t, int64(10), blocks[1].FirstRowID)
	assert.Equal(t, block.Forward, blocks[0].Strand)
	assert.False(t, blocks[0].Cached)

	// features load the block into the cache
	require.Equal(t, 200, get(router, "/tracks/tiling/features?window=chr1:100-105").Code)
	w = get(router, "/tracks/tiling/blocks?window=chr1:100-105")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &blocks))
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].Cached)

	w = get(router, "/tracks/tiling/blocks?window=chr2:0-10")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	assert.Equal(t, 400, get(router, "/tracks/tiling/blocks").Code)
	assert.Equal(t, 400, get(router, "/tracks/tiling/blocks?window=chr1:9-1").Code)
	assert.Equal(t, 404, get(router, "/tracks/nope/blocks?window=chr1").Code)
}

func TestFeaturesRoute_NDJSON(t *testing.T) {
	router, _ := setupRouter(t)

	w := get(router, "/tracks/tiling/features?window=chr1:85-125:%2B")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	recs := ndjson(t, w.Body.String())
	require.Len(t, recs, 4)
	for i, want := range []float64{90, 100, 110, 120} {
		assert.Equal(t, want, recs[i]["start"])
		assert.Equal(t, want/10, recs[i]["value"])
		assert.Equal(t, "+", recs[i]["strand"])
	}

	w = get(router, "/tracks/peptides/features?window=chr1")
	recs = ndjson(t, w.Body.String())
	require.Len(t, recs, 2)
	assert.Equal(t, "VNG0001", recs[0]["name"])
	assert.Equal(t, "sod", recs[1]["label"])
}

func TestFeaturesRoute_FailedBlocks(t *testing.T) {
	router, ds := setupRouter(t)
	ctx := context.Background()

	// index the track, then lose its table
	src, err := ds.Track(ctx, "tiling")
	require.NoError(t, err)
	_, err = ds.Store().DB().Exec(`DROP TABLE ` + src.Info().Table)
	require.NoError(t, err)

	w := get(router, "/tracks/tiling/features?window=chr1:0-250")
	require.Equal(t, 200, w.Code)
	recs := ndjson(t, w.Body.String())
	require.Len(t, recs, 3, "one error line per block")
	for _, r := range recs {
		assert.Contains(t, r["error"], "load block")
		assert.NotEmpty(t, r["block"])
	}
	assert.Equal(t, int64(3), ds.Cache().Stats().Failures)
}

func TestFeaturesRoute_TSV(t *testing.T) {
	router, _ := setupRouter(t)

	w := get(router, "/tracks/tiling/features?window=chr1:0-30&format=tsv")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "#sequence\tstrand\tposition\tvalue\nchr1\t+\t0\t0\nchr1\t+\t10\t1\nchr1\t+\t20\t2\n", w.Body.String())

	assert.Equal(t, 400, get(router, "/tracks/tiling/features?window=chr1&format=xml").Code)
}

func TestStatsRoute(t *testing.T) {
	router, _ := setupRouter(t)

	get(router, "/tracks/tiling/features?window=chr1:0-30")
	get(router, "/tracks/tiling/features?window=chr1:0-30")

	w := get(router, "/stats")
	require.Equal(t, 200, w.Code)
	var stats blockcache.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Loads)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, blockcache.DefaultCapacity, stats.Capacity)
}
