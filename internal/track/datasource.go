package track

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/blockcache"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/duckdb"
)

// ErrFeatureType is returned by OpenTrack when the track's shape yields a
// different feature type.
var ErrFeatureType = errors.New("track has another feature type")

// Option configures a DataSource.
type Option func(*DataSource)

// WithBlockSize sets the rows per block used when an index is built.
func WithBlockSize(n int) Option {
	return func(ds *DataSource) {
		if n > 0 {
			ds.blockSize = n
		}
	}
}

// WithWorkers bounds the parallel block-span queries of an index build.
// Zero means one per CPU.
func WithWorkers(n int) Option {
	return func(ds *DataSource) { ds.workers = n }
}

// DataSource opens the tracks of one dataset. All tracks share one block
// cache. Index construction is serialized.
type DataSource struct {
	store     *duckdb.Store
	cache     *blockcache.Cache
	blockSize int
	workers   int
	logger    *zap.Logger

	mu      sync.Mutex
	indices map[uuid.UUID]*block.Index
}

// NewDataSource creates a data source reading from store through cache.
func NewDataSource(store *duckdb.Store, cache *blockcache.Cache, opts ...Option) *DataSource {
	ds := &DataSource{
		store:     store,
		cache:     cache,
		blockSize: block.DefaultBlockSize,
		logger:    zap.NewNop(),
		indices:   make(map[uuid.UUID]*block.Index),
	}
	for _, opt := range opts {
		opt(ds)
	}
	return ds
}

// SetLogger sets the logger for index maintenance.
func (ds *DataSource) SetLogger(l *zap.Logger) {
	ds.logger = l
}

func (ds *DataSource) Store() *duckdb.Store     { return ds.store }
func (ds *DataSource) Cache() *blockcache.Cache { return ds.cache }
func (ds *DataSource) BlockSize() int           { return ds.blockSize }

// Tracks lists the dataset's tracks.
func (ds *DataSource) Tracks(ctx context.Context) ([]duckdb.TrackInfo, error) {
	return ds.store.Tracks(ctx)
}

// Track opens a track by name.
func (ds *DataSource) Track(ctx context.Context, name string) (Source, error) {
	info, err := ds.store.TrackByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return ds.Open(ctx, info)
}

// Open builds the track for info, creating its block index if needed, and
// wires it to the block fetcher matching its type.
func (ds *DataSource) Open(ctx context.Context, info duckdb.TrackInfo) (Source, error) {
	shape, err := info.Shape()
	if err != nil {
		return nil, err
	}
	ix, err := ds.GetOrCreateBlockIndex(ctx, info)
	if err != nil {
		return nil, err
	}
	valueRange := func(ctx context.Context) (block.Range, error) {
		return ds.store.ValueRange(ctx, info)
	}

	s := ds.store
	switch shape {
	case block.ShapePositional:
		return New(info, shape, ix, Cached[block.Quantitative](ds.cache, s.LoadPositionalBlock), valueRange), nil
	case block.ShapeSegment:
		return New(info, shape, ix, Cached[block.Quantitative](ds.cache, s.LoadSegmentBlock), valueRange), nil
	case block.ShapeSegmentMatrix:
		return New(info, shape, ix, Cached[block.Matrix](ds.cache, s.LoadSegmentMatrixBlock), valueRange), nil
	case block.ShapePositionalPvalue:
		return New(info, shape, ix, Cached[block.QuantitativePvalue](ds.cache, s.LoadPositionalPvalueBlock), valueRange), nil
	case block.ShapePeptide:
		return New(info, shape, ix, Cached[block.Peptide](ds.cache, s.LoadPeptideBlock), valueRange), nil
	}
	return nil, fmt.Errorf("%w: %s", block.ErrUnknownShape, info.Type)
}

// OpenTrack opens a track with a known feature type, e.g.
// OpenTrack[block.Quantitative] for positional and segment tracks.
func OpenTrack[F block.Feature](ctx context.Context, ds *DataSource, name string) (*Track[F], error) {
	src, err := ds.Track(ctx, name)
	if err != nil {
		return nil, err
	}
	t, ok := src.(*Track[F])
	if !ok {
		return nil, fmt.Errorf("track %s has type %s: %w", name, src.Info().Type, ErrFeatureType)
	}
	return t, nil
}

// GetOrCreateBlockIndex returns the block index of a track. A persisted index
// is used when its fingerprint and row count still match; otherwise the index
// is built from the feature table and saved.
func (ds *DataSource) GetOrCreateBlockIndex(ctx context.Context, info duckdb.TrackInfo) (*block.Index, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ix, ok := ds.indices[info.UUID]; ok {
		return ix, nil
	}

	ix, meta, err := ds.store.LoadBlockIndex(ctx, info.UUID)
	if err != nil {
		return nil, err
	}
	rows, err := ds.store.RowCount(ctx, info.Table)
	if err != nil {
		return nil, err
	}

	switch {
	case ix.Len() == 0 && rows > 0:
		ds.logger.Info("no block index", zap.String("track", info.Name))
	case meta == nil:
		ds.logger.Warn("block index has no meta row", zap.String("track", info.Name))
	case !meta.Matches(ix):
		ds.logger.Warn("block index fingerprint mismatch", zap.String("track", info.Name))
	case meta.RowCount != rows:
		ds.logger.Warn("track row count changed since indexing",
			zap.String("track", info.Name),
			zap.Int64("indexed_rows", meta.RowCount),
			zap.Int64("rows", rows))
	default:
		ds.indices[info.UUID] = ix
		return ix, nil
	}

	ix, err = ds.build(ctx, info, rows)
	if err != nil {
		return nil, err
	}
	ds.indices[info.UUID] = ix
	return ix, nil
}

// RebuildBlockIndex recomputes and saves a track's index and drops its cached
// blocks. Tracks opened before the rebuild keep the old index.
func (ds *DataSource) RebuildBlockIndex(ctx context.Context, info duckdb.TrackInfo) (*block.Index, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	rows, err := ds.store.RowCount(ctx, info.Table)
	if err != nil {
		return nil, err
	}
	ix, err := ds.build(ctx, info, rows)
	if err != nil {
		return nil, err
	}
	ds.indices[info.UUID] = ix
	n := ds.cache.PurgeTrack(info.UUID)
	ds.logger.Debug("purged cached blocks", zap.String("track", info.Name), zap.Int("blocks", n))
	return ix, nil
}

// build must be called with ds.mu held.
func (ds *DataSource) build(ctx context.Context, info duckdb.TrackInfo, rows int64) (*block.Index, error) {
	ix, err := ds.store.CreateBlockIndex(ctx, info, ds.blockSize, ds.workers)
	if err != nil {
		return nil, err
	}
	if err := ix.Validate(rows); err != nil {
		ds.logger.Warn("block index does not cover track", zap.String("track", info.Name), zap.Error(err))
	}
	if err := ds.store.SaveBlockIndex(ctx, info, ix, ds.blockSize, rows); err != nil {
		return nil, err
	}
	return ix, nil
}
