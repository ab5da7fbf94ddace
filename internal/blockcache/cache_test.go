package blockcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
)

var (
	trackA = uuid.MustParse("0a6b3a52-5b8f-4c2e-9a43-7f9d1b2c3d4e")
	trackB = uuid.MustParse("f1e2d3c4-b5a6-4978-8a9b-0c1d2e3f4a5b")
)

func key(track uuid.UUID, first int64) block.Key {
	return block.Key{TrackID: track, SequenceName: "chr1", Strand: block.Forward,
		Table: "features_t", FirstRowID: first, LastRowID: first + 9, Length: 10}
}

// countingFetch builds a positional block for any key and counts calls per
// block id.
type countingFetch struct {
	mu    sync.Mutex
	calls map[block.ID]int
}

func newCountingFetch() *countingFetch {
	return &countingFetch{calls: make(map[block.ID]int)}
}

func (f *countingFetch) fetch(_ context.Context, k block.Key) (block.Payload, error) {
	f.mu.Lock()
	f.calls[k.ID()]++
	f.mu.Unlock()
	return block.NewPositionalBlock(k, []int64{k.FirstRowID}, []float64{1})
}

func (f *countingFetch) count(k block.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[k.ID()]
}

func newCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	c, err := New(capacity)
	require.NoError(t, err)
	return c
}

func TestNew_DefaultCapacity(t *testing.T) {
	c := newCache(t, 0)
	assert.Equal(t, DefaultCapacity, c.Stats().Capacity)

	_, err := New(-1)
	assert.Error(t, err)
}

func TestGet_LoadsOnce(t *testing.T) {
	c := newCache(t, 10)
	f := newCountingFetch()
	ctx := context.Background()
	k := key(trackA, 40000)

	p1, err := c.Get(ctx, k, f.fetch)
	require.NoError(t, err)
	p2, err := c.Get(ctx, k, f.fetch)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, f.count(k))
	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Loads)
	assert.Equal(t, 1, s.Size)
}

func TestGet_ConcurrentLoadsOnce(t *testing.T) {
	c := newCache(t, 10)
	k := key(trackA, 0)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(_ context.Context, k block.Key) (block.Payload, error) {
		calls.Add(1)
		<-release
		return block.NewPositionalBlock(k, []int64{1}, []float64{1})
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]block.Payload, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.Get(context.Background(), k, fetch)
			assert.NoError(t, err)
			results[i] = p
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, p := range results {
		assert.Same(t, results[0], p)
	}
}

func TestGet_LRUEviction(t *testing.T) {
	c := newCache(t, 3)
	f := newCountingFetch()
	ctx := context.Background()

	k0, k1, k2, k3 := key(trackA, 0), key(trackA, 10), key(trackA, 20), key(trackA, 30)
	for _, k := range []block.Key{k0, k1, k2} {
		_, err := c.Get(ctx, k, f.fetch)
		require.NoError(t, err)
	}
	// touch k0 so k1 becomes least recently used
	_, err := c.Get(ctx, k0, f.fetch)
	require.NoError(t, err)
	_, err = c.Get(ctx, k3, f.fetch)
	require.NoError(t, err)

	assert.True(t, c.Contains(k0))
	assert.False(t, c.Contains(k1))
	assert.True(t, c.Contains(k2))
	assert.True(t, c.Contains(k3))
	assert.Equal(t, []block.ID{k2.ID(), k0.ID(), k3.ID()}, c.Keys())
	assert.Equal(t, int64(1), c.Stats().Evictions)

	// an evicted key is fetched again
	_, err = c.Get(ctx, k1, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(k1))
	assert.Equal(t, 1, f.count(k0))
}

func TestGet_FailureNotCached(t *testing.T) {
	c := newCache(t, 10)
	k := key(trackA, 0)
	boom := errors.New("disk on fire")

	fail := true
	fetch := func(_ context.Context, k block.Key) (block.Payload, error) {
		if fail {
			return nil, boom
		}
		return block.NewPositionalBlock(k, []int64{1}, []float64{1})
	}

	_, err := c.Get(context.Background(), k, fetch)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.True(t, le.Key.Equal(k))
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Contains(k))

	fail = false
	p, err := c.Get(context.Background(), k, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, int64(1), c.Stats().Failures)
	assert.Equal(t, int64(2), c.Stats().Loads)
}

func TestGet_NilPayload(t *testing.T) {
	c := newCache(t, 10)
	_, err := c.Get(context.Background(), key(trackA, 0), func(context.Context, block.Key) (block.Payload, error) {
		return nil, nil
	})
	var le *LoadError
	assert.ErrorAs(t, err, &le)
}

func TestLoad_NilBlockPointer(t *testing.T) {
	c := newCache(t, 10)
	k := key(trackA, 0)

	b, err := Load(context.Background(), c, k, func(context.Context, block.Key) (*block.PositionalBlock, error) {
		return nil, nil
	})
	assert.Nil(t, b)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, errNoBlock)
	assert.False(t, c.Contains(k), "nothing cached")
	assert.Equal(t, int64(1), c.Stats().Failures)
}

func TestGet_CallerCancelled(t *testing.T) {
	c := newCache(t, 10)
	k := key(trackA, 0)

	release := make(chan struct{})
	done := make(chan struct{})
	fetch := func(ctx context.Context, k block.Key) (block.Payload, error) {
		defer close(done)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return block.NewPositionalBlock(k, []int64{1}, []float64{1})
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, k, fetch)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	<-done
	assert.Eventually(t, func() bool { return c.Contains(k) }, time.Second, 5*time.Millisecond,
		"detached load still populates the cache")
}

func TestLoad_Typed(t *testing.T) {
	c := newCache(t, 10)
	k := key(trackA, 0)

	b, err := Load(context.Background(), c, k, func(_ context.Context, k block.Key) (*block.SegmentBlock, error) {
		return block.NewSegmentBlock(k, []int64{0}, []int64{5}, []float64{2})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())

	_, err = Load(context.Background(), c, k, func(_ context.Context, k block.Key) (*block.PositionalBlock, error) {
		t.Fatal("cached block must not be fetched")
		return nil, nil
	})
	assert.Error(t, err, "cached under another type")
}

func TestPurgeTrack(t *testing.T) {
	c := newCache(t, 10)
	f := newCountingFetch()
	ctx := context.Background()
	for _, k := range []block.Key{key(trackA, 0), key(trackA, 10), key(trackB, 0)} {
		_, err := c.Get(ctx, k, f.fetch)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.PurgeTrack(trackA))
	assert.Equal(t, []block.ID{key(trackB, 0).ID()}, c.Keys())

	c.Purge()
	assert.Empty(t, c.Keys())
}
