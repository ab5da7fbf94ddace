// Package blockcache keeps recently used blocks in memory and makes sure each
// block is read from the store at most once while it stays cached.
package blockcache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
)

// DefaultCapacity is the number of blocks kept when no capacity is configured.
const DefaultCapacity = 100

var errNoBlock = errors.New("fetch returned no block")

// FetchFunc reads the rows named by key from the store.
type FetchFunc func(ctx context.Context, key block.Key) (block.Payload, error)

// LoadError reports a failed block fetch. Failed loads are never cached.
type LoadError struct {
	Key block.Key
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load block %s: %v", e.Key.ID(), e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Loads     int64 `json:"loads"`
	Failures  int64 `json:"failures"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
}

// Cache is an access-ordered LRU of loaded blocks shared by every track of a
// data source. It is safe for concurrent use.
type Cache struct {
	capacity int
	entries  *lru.Cache[block.ID, block.Payload]
	flights  singleflight.Group
	logger   *zap.Logger

	hits, misses, loads, failures, evictions atomic.Int64
}

// New creates a cache holding up to capacity blocks; zero selects
// DefaultCapacity.
func New(capacity int) (*Cache, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 0 {
		return nil, fmt.Errorf("block cache capacity %d", capacity)
	}
	entries, err := lru.New[block.ID, block.Payload](capacity)
	if err != nil {
		return nil, fmt.Errorf("create block cache: %w", err)
	}
	return &Cache{capacity: capacity, entries: entries, logger: zap.NewNop()}, nil
}

// SetLogger sets the logger for load diagnostics.
func (c *Cache) SetLogger(l *zap.Logger) {
	c.logger = l
}

// Get returns the block for key, calling fetch on a miss. Concurrent callers
// asking for the same key share one fetch. If ctx ends while waiting, Get
// returns ctx.Err() and the fetch carries on to populate the cache.
func (c *Cache) Get(ctx context.Context, key block.Key, fetch FetchFunc) (block.Payload, error) {
	id := key.ID()
	if p, ok := c.entries.Get(id); ok {
		c.hits.Add(1)
		return p, nil
	}
	c.misses.Add(1)

	loadCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(id.String(), func() (any, error) {
		// a flight that finished between our miss and now already filled it
		if p, ok := c.entries.Get(id); ok {
			return p, nil
		}
		return c.load(loadCtx, key, fetch)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(block.Payload), nil
	}
}

func (c *Cache) load(ctx context.Context, key block.Key, fetch FetchFunc) (block.Payload, error) {
	c.loads.Add(1)
	p, err := fetch(ctx, key)
	if err == nil && isNil(p) {
		err = errNoBlock
	}
	if err != nil {
		c.failures.Add(1)
		c.logger.Warn("block load failed",
			zap.Stringer("block", key.ID()),
			zap.String("table", key.Table),
			zap.Error(err))
		return nil, &LoadError{Key: key, Err: err}
	}
	if c.entries.Add(key.ID(), p) {
		c.evictions.Add(1)
	}
	c.logger.Debug("block loaded",
		zap.Stringer("block", key.ID()),
		zap.String("sequence", key.SequenceName),
		zap.Int("rows", p.Len()))
	return p, nil
}

// isNil also catches a nil block pointer stored in the interface.
func isNil(p block.Payload) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Load is Get for a concrete block type.
func Load[B block.Payload](ctx context.Context, c *Cache, key block.Key, fetch func(context.Context, block.Key) (B, error)) (B, error) {
	var zero B
	p, err := c.Get(ctx, key, func(ctx context.Context, k block.Key) (block.Payload, error) {
		b, err := fetch(ctx, k)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	if err != nil {
		return zero, err
	}
	b, ok := p.(B)
	if !ok {
		return zero, fmt.Errorf("block %s is cached as %T, want %T", key.ID(), p, zero)
	}
	return b, nil
}

// Contains reports whether key is cached without touching its recency.
func (c *Cache) Contains(key block.Key) bool {
	return c.entries.Contains(key.ID())
}

// Keys returns the cached block ids from least to most recently used.
func (c *Cache) Keys() []block.ID {
	return c.entries.Keys()
}

// PurgeTrack drops every cached block of one track.
func (c *Cache) PurgeTrack(trackID uuid.UUID) int {
	n := 0
	for _, id := range c.entries.Keys() {
		if id.TrackID == trackID && c.entries.Remove(id) {
			n++
		}
	}
	return n
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.entries.Purge()
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loads.Load(),
		Failures:  c.failures.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.entries.Len(),
		Capacity:  c.capacity,
	}
}
