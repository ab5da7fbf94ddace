// Package track exposes block-indexed tracks as lazy feature sequences over
// viewport windows, loading blocks through a shared cache.
package track

import (
	"context"
	"iter"
	"slices"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/blockcache"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/duckdb"
)

// LoadFunc returns the block for key, typically from the block cache.
type LoadFunc[F block.Feature] func(ctx context.Context, key block.Key) (block.Block[F], error)

// RangeFunc returns a track's value range.
type RangeFunc func(ctx context.Context) (block.Range, error)

// Track is a block-based track whose features have type F.
// A Track is safe for concurrent use.
type Track[F block.Feature] struct {
	info       duckdb.TrackInfo
	shape      block.Shape
	index      *block.Index
	load       LoadFunc[F]
	valueRange RangeFunc
}

// New assembles a track from its index and a block loader.
func New[F block.Feature](info duckdb.TrackInfo, shape block.Shape, index *block.Index, load LoadFunc[F], valueRange RangeFunc) *Track[F] {
	return &Track[F]{info: info, shape: shape, index: index, load: load, valueRange: valueRange}
}

// Cached builds a LoadFunc that reads blocks of concrete type B through cache.
func Cached[F block.Feature, B block.Block[F]](cache *blockcache.Cache, fetch func(context.Context, block.Key) (B, error)) LoadFunc[F] {
	return func(ctx context.Context, key block.Key) (block.Block[F], error) {
		b, err := blockcache.Load(ctx, cache, key, fetch)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func (t *Track[F]) Info() duckdb.TrackInfo { return t.info }
func (t *Track[F]) Shape() block.Shape     { return t.shape }
func (t *Track[F]) Index() *block.Index    { return t.index }

// Range returns the span of the track's values. Tracks without values
// return an error.
func (t *Track[F]) Range(ctx context.Context) (block.Range, error) {
	return t.valueRange(ctx)
}

// Blocks returns the keys of the blocks a window touches, in coordinate order.
func (t *Track[F]) Blocks(w Window) []block.Key {
	return t.index.Query(w.Sequence, w.Strand, w.Start, w.End)
}

// Features yields every feature of the track in index order.
// A block that fails to load yields a single zero feature with its
// *blockcache.LoadError; iteration then moves on to the next block.
func (t *Track[F]) Features(ctx context.Context) iter.Seq2[F, error] {
	return t.each(ctx, t.index.Keys(), func(b block.Block[F]) iter.Seq[F] { return b.Features() })
}

// Window yields the features overlapping w in ascending start order.
// Blocks are loaded lazily as iteration reaches them. When w covers several
// strands, the blocks of each strand are read side by side and merged by
// start. Errors are reported as in Features; iteration stops if ctx is done.
func (t *Track[F]) Window(ctx context.Context, w Window) iter.Seq2[F, error] {
	window := func(b block.Block[F]) iter.Seq[F] { return b.Window(w.Start, w.End) }
	keys := t.Blocks(w)
	groups := byStrand(keys)
	if len(groups) < 2 {
		return t.each(ctx, keys, window)
	}
	seqs := make([]iter.Seq2[F, error], len(groups))
	for i, g := range groups {
		seqs[i] = t.each(ctx, g, window)
	}
	return mergeByStart(seqs)
}

// byStrand splits keys by strand, keeping their order within each strand.
func byStrand(keys []block.Key) [][]block.Key {
	var groups [][]block.Key
	at := make(map[block.Strand]int)
	for _, k := range keys {
		i, ok := at[k.Strand]
		if !ok {
			i = len(groups)
			at[k.Strand] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], k)
	}
	return groups
}

// mergeHead is the current item of one merged sequence.
type mergeHead[F block.Feature] struct {
	next func() (F, error, bool)
	f    F
	err  error
}

// mergeByStart interleaves sequences that are each sorted by start. Errors
// are passed on as soon as their sequence reaches them. Every sequence has
// its own cursor, so the flyweight held for one is not disturbed by another.
func mergeByStart[F block.Feature](seqs []iter.Seq2[F, error]) iter.Seq2[F, error] {
	return func(yield func(F, error) bool) {
		heads := make([]mergeHead[F], 0, len(seqs))
		for _, seq := range seqs {
			next, stop := iter.Pull2(seq)
			defer stop()
			if f, err, ok := next(); ok {
				heads = append(heads, mergeHead[F]{next: next, f: f, err: err})
			}
		}
		for len(heads) > 0 {
			i := 0
			for j := 1; j < len(heads) && heads[i].err == nil; j++ {
				if heads[j].err != nil || heads[j].f.Start() < heads[i].f.Start() {
					i = j
				}
			}
			if !yield(heads[i].f, heads[i].err) {
				return
			}
			f, err, ok := heads[i].next()
			if !ok {
				heads = slices.Delete(heads, i, i+1)
				continue
			}
			heads[i].f, heads[i].err = f, err
		}
	}
}

func (t *Track[F]) each(ctx context.Context, keys []block.Key, features func(block.Block[F]) iter.Seq[F]) iter.Seq2[F, error] {
	return func(yield func(F, error) bool) {
		for _, key := range keys {
			b, err := t.load(ctx, key)
			if err != nil {
				var zero F
				if !yield(zero, err) || ctx.Err() != nil {
					return
				}
				continue
			}
			for f := range features(b) {
				if !yield(f, nil) {
					return
				}
			}
		}
	}
}

// BlockFunc receives one block of a window: its features, or the error that
// prevented loading it.
type BlockFunc[F block.Feature] func(key block.Key, features iter.Seq[F], err error)

// WindowAsync loads the blocks of w one after another on a new goroutine and
// calls fn once per block. Blocks come in the order of Blocks; features are
// ordered within a block only, so a window over several strands may step
// back in coordinates between blocks. The returned channel receives ctx.Err() if the
// walk was cut short, or nil, and is then closed.
func (t *Track[F]) WindowAsync(ctx context.Context, w Window, fn BlockFunc[F]) <-chan error {
	done := make(chan error, 1)
	keys := t.Blocks(w)
	go func() {
		defer close(done)
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				done <- err
				return
			}
			b, err := t.load(ctx, key)
			if err != nil {
				fn(key, nil, err)
				continue
			}
			fn(key, b.Window(w.Start, w.End), nil)
		}
		done <- nil
	}()
	return done
}

// EachBlock calls fn for every block touched by w, in the order of Blocks,
// with the block's features in the window. As with WindowAsync, features are
// ordered within each block; Window merges strands into one ordered stream. It stops at the first error
// returned by fn.
func (t *Track[F]) EachBlock(ctx context.Context, w Window, fn func(key block.Key, features iter.Seq[block.Feature], err error) error) error {
	for _, key := range t.Blocks(w) {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := t.load(ctx, key)
		if err != nil {
			if err := fn(key, nil, err); err != nil {
				return err
			}
			continue
		}
		if err := fn(key, erase(b.Window(w.Start, w.End)), nil); err != nil {
			return err
		}
	}
	return nil
}

func erase[F block.Feature](seq iter.Seq[F]) iter.Seq[block.Feature] {
	return func(yield func(block.Feature) bool) {
		for f := range seq {
			if !yield(f) {
				return
			}
		}
	}
}

// Source is a track with its feature type erased, for callers that handle
// every shape alike.
type Source interface {
	Info() duckdb.TrackInfo
	Shape() block.Shape
	Index() *block.Index
	Range(ctx context.Context) (block.Range, error)
	Blocks(w Window) []block.Key
	EachBlock(ctx context.Context, w Window, fn func(key block.Key, features iter.Seq[block.Feature], err error) error) error
}

var (
	_ Source = (*Track[block.Quantitative])(nil)
	_ Source = (*Track[block.Peptide])(nil)
)
