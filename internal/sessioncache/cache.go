// Package sessioncache amortizes the cost of parsing an ONNX graph and
// compiling its execution plan across requests: single-flight loading,
// TTL expiry, and LRU eviction over live sessions keyed by canonical
// blob id.
package sessioncache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oriys/infer/internal/apierrors"
	"github.com/oriys/infer/internal/domain"
	"github.com/oriys/infer/internal/runtime"
)

// Loader constructs a session for a blob id, performing the blob read and
// the runtime session construction. A failure here must never populate
// the cache (no negative caching).
type Loader func(ctx context.Context, id domain.BlobID) (runtime.Session, error)

// Metrics is the subset of the metrics package the cache reports into.
// Kept as an interface so cache tests don't need a real registry.
type Metrics interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheEviction()
}

type entry struct {
	session  runtime.Session
	loadedAt time.Time
	lastUsed time.Time
}

// Cache is the process-wide session cache. One instance is shared by
// every Predict call.
type Cache struct {
	mu      sync.Mutex // global mutex: guards entries + lastUsed + eviction
	entries map[domain.BlobID]*entry

	// group collapses concurrent loads for the same key onto one call,
	// satisfying the single-flight requirement without a separate
	// per-key mutex map: the group key IS the per-key lock.
	group singleflight.Group

	ttl      time.Duration // 0 disables TTL
	capacity int           // >0 bounds size; 0 keeps nothing; <0 unbounded

	loader  Loader
	metrics Metrics
}

// New constructs a Cache with the given TTL, capacity, and loader.
// A zero capacity retains nothing (every lookup misses); a negative
// capacity disables size-based eviction. metrics may be nil.
func New(ttl time.Duration, capacity int, loader Loader, metrics Metrics) *Cache {
	return &Cache{
		entries:  make(map[domain.BlobID]*entry),
		ttl:      ttl,
		capacity: capacity,
		loader:   loader,
		metrics:  metrics,
	}
}

// Get returns a live session for id, loading it on miss. Concurrent
// callers for the same id observe exactly one load. A caller whose
// context is cancelled while awaiting the load gives up immediately,
// but the load itself runs to completion and populates the cache, so
// its cost is amortized across future callers.
func (c *Cache) Get(ctx context.Context, id domain.BlobID) (runtime.Session, error) {
	if sess, ok := c.freshLookup(id); ok {
		c.recordHit()
		return sess, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id.String(), func() (any, error) {
		// Re-check under the single-flight group in case another caller's
		// load completed between our freshLookup miss and entering DoChan.
		if sess, ok := c.freshLookup(id); ok {
			return sess, nil
		}
		c.recordMiss()

		loadStart := time.Now()
		sess, err := c.loader(loadCtx, id)
		if err != nil {
			return nil, err
		}

		c.insert(id, sess, loadStart)
		return sess, nil
	})

	select {
	case <-ctx.Done():
		return nil, apierrors.Wrap(apierrors.Cancelled, "awaiting session load", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(runtime.Session), nil
	}
}

// freshLookup checks for a present, non-expired entry and touches its
// lastUsed timestamp, all under the global mutex.
func (c *Cache) freshLookup(id domain.BlobID) (runtime.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}

	if c.ttl > 0 && time.Since(e.loadedAt) > c.ttl {
		delete(c.entries, id)
		c.recordEviction()
		return nil, false
	}

	e.lastUsed = time.Now()
	return e.session, true
}

func (c *Cache) insert(id domain.BlobID, sess runtime.Session, loadedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.entries[id] = &entry{session: sess, loadedAt: loadedAt, lastUsed: now}
	c.evictLocked()
}

// evictLocked drops the least-recently-used entry repeatedly until size
// is within capacity. Must be called with c.mu held.
func (c *Cache) evictLocked() {
	if c.capacity < 0 {
		return
	}
	for len(c.entries) > c.capacity {
		var oldestKey domain.BlobID
		var oldestTime time.Time
		first := true
		for k, e := range c.entries {
			if first || e.lastUsed.Before(oldestTime) {
				oldestKey = k
				oldestTime = e.lastUsed
				first = false
			}
		}
		if first {
			return
		}
		delete(c.entries, oldestKey)
		c.recordEviction()
	}
}

// Invalidate best-effort removes id from the cache.
func (c *Cache) Invalidate(id domain.BlobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Clear best-effort drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[domain.BlobID]*entry)
}

// Len reports the current number of cached entries, for the
// cache_entries gauge.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) recordHit() {
	if c.metrics != nil {
		c.metrics.RecordCacheHit()
	}
}

func (c *Cache) recordMiss() {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss()
	}
}

func (c *Cache) recordEviction() {
	if c.metrics != nil {
		c.metrics.RecordCacheEviction()
	}
}
