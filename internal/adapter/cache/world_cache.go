package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"island/internal/domain"
	"island/internal/metrics"
	"island/internal/port"
)

// DefaultMaxWorlds bounds the number of resident worlds.
const DefaultMaxWorlds = 16

// World is a loaded, immutable world ready for scoring.
type World struct {
	Meta  domain.WorldMeta
	Spans []domain.Span
	Index port.NearestNeighborIndex
}

// Loader reads and prepares one world.
type Loader func(ctx context.Context, worldID string) (*World, error)

// WorldCache is a bounded LRU of loaded worlds. Concurrent misses for the
// same world share one load; a failed load leaves other entries alone.
type WorldCache struct {
	mu      sync.Mutex
	entries map[string]*World
	order   []string // least recently used first
	maxSize int

	// gens advances on Evict and Clear so loads that started before the
	// eviction are not inserted afterwards.
	gens   map[string]uint64
	epoch  uint64
	group  singleflight.Group
	loader Loader
}

// NewWorldCache creates a cache that fills misses through loader.
func NewWorldCache(maxSize int, loader Loader) *WorldCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxWorlds
	}
	return &WorldCache{
		entries: make(map[string]*World),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		gens:    make(map[string]uint64),
		loader:  loader,
	}
}

// Get returns the cached world, loading it on a miss.
func (c *WorldCache) Get(ctx context.Context, worldID string) (*World, error) {
	c.mu.Lock()
	if w, ok := c.entries[worldID]; ok {
		c.moveToEnd(worldID)
		c.mu.Unlock()
		metrics.WorldCacheEvents.WithLabelValues(metrics.CacheHit).Inc()
		return w, nil
	}
	gen := c.generation(worldID)
	c.mu.Unlock()

	metrics.WorldCacheEvents.WithLabelValues(metrics.CacheMiss).Inc()

	key := worldID + "#" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(key, func() (any, error) {
		// The load outlives any single caller's cancellation.
		w, err := c.loader(context.WithoutCancel(ctx), worldID)
		if err != nil {
			return nil, err
		}
		c.insert(worldID, w, gen)
		return w, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		w, ok := res.Val.(*World)
		if !ok {
			return nil, fmt.Errorf("%w: world cache holds %T", domain.ErrInvariant, res.Val)
		}
		return w, nil
	}
}

// Peek returns a cached world without loading or touching recency.
func (c *WorldCache) Peek(worldID string) (*World, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.entries[worldID]
	return w, ok
}

func (c *WorldCache) insert(worldID string, w *World, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation(worldID) != gen {
		return
	}
	if _, exists := c.entries[worldID]; exists {
		c.entries[worldID] = w
		c.moveToEnd(worldID)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[worldID] = w
	c.order = append(c.order, worldID)
}

// Evict drops one world. It reports whether the world was resident.
func (c *WorldCache) Evict(worldID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[worldID]++
	if _, ok := c.entries[worldID]; !ok {
		return false
	}
	delete(c.entries, worldID)
	c.removeFromOrder(worldID)
	metrics.WorldCacheEvents.WithLabelValues(metrics.CacheEvict).Inc()
	return true
}

// Clear drops every world and returns how many were resident.
func (c *WorldCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*World)
	c.order = c.order[:0]
	c.epoch++
	metrics.WorldCacheEvents.WithLabelValues(metrics.CacheEvict).Add(float64(n))
	return n
}

// Size returns the number of resident worlds.
func (c *WorldCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Worlds returns resident world ids, least recently used first.
func (c *WorldCache) Worlds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// generation combines the global epoch with the per-world counter.
// Callers hold c.mu.
func (c *WorldCache) generation(worldID string) uint64 {
	return c.epoch<<32 | c.gens[worldID]
}

func (c *WorldCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
	metrics.WorldCacheEvents.WithLabelValues(metrics.CacheEvict).Inc()
}

func (c *WorldCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *WorldCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
