// Package cache provides a read-through cache that bounds how stale a value
// may get. Values are fetched from an upstream collaborator on miss or after
// the TTL elapses; concurrent callers share a single fetch.
//
// Lock granularity is one refresh lock per Cache, not per key: while a fetch
// is in flight, other stale keys of the same cache wait for it. Fresh reads
// never wait on a refresh.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/metrics"
)

// FetchFunc loads the current value for key from upstream.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Entry is a cached value and the time it was fetched.
type Entry[V any] struct {
	Value     V
	FetchedAt time.Time
}

// FetchError reports a failed upstream fetch. The upstream error is kept
// verbatim and is visible to errors.Is and errors.As.
type FetchError struct {
	Key any
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("cache: fetch %v: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Option configures a Cache.
type Option func(*options)

type options struct {
	now  func() time.Time
	name string
	sink metrics.Sink
}

// WithClock replaces time.Now. Tests use it to move past the TTL without
// sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics reports hits, misses and fetch outcomes to sink under name.
func WithMetrics(name string, sink metrics.Sink) Option {
	return func(o *options) {
		o.name = name
		o.sink = sink
	}
}

// Cache is a bounded-staleness read-through cache. The zero value is not
// usable; construct one with New.
type Cache[K comparable, V any] struct {
	ttl   time.Duration
	fetch FetchFunc[K, V]
	now   func() time.Time
	name  string
	sink  metrics.Sink

	mu      sync.RWMutex
	entries map[K]Entry[V]

	// refresh is a one-slot semaphore so that waiters can give up when their
	// context is cancelled.
	refresh chan struct{}
}

// New returns a cache whose entries are served without refetching for ttl.
// It panics if ttl is not positive or fetch is nil.
func New[K comparable, V any](ttl time.Duration, fetch FetchFunc[K, V], opts ...Option) *Cache[K, V] {
	if ttl <= 0 {
		panic("cache: ttl must be positive")
	}
	if fetch == nil {
		panic("cache: nil fetch func")
	}

	o := options{
		now:  time.Now,
		name: "default",
		sink: metrics.NewNoopSink(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache[K, V]{
		ttl:     ttl,
		fetch:   fetch,
		now:     o.now,
		name:    o.name,
		sink:    o.sink,
		entries: make(map[K]Entry[V]),
		refresh: make(chan struct{}, 1),
	}
}

// TTL returns the configured freshness window.
func (c *Cache[K, V]) TTL() time.Duration { return c.ttl }

// Get returns the value for key, fetching it when the entry is missing or at
// least ttl old. At most one fetch runs at a time; callers that waited for it
// reuse its result. A failed fetch returns a *FetchError, leaves any previous
// entry in place and is not cached, so the next Get fetches again.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if e, ok := c.fresh(key); ok {
		c.sink.CacheHit(c.name)
		return e.Value, nil
	}
	c.sink.CacheMiss(c.name)

	select {
	case c.refresh <- struct{}{}:
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
	defer func() { <-c.refresh }()

	// Another caller may have refreshed while we waited.
	if e, ok := c.fresh(key); ok {
		return e.Value, nil
	}

	start := c.now()
	v, err := c.fetch(ctx, key)
	c.sink.CacheFetchCompleted(c.name, c.now().Sub(start), err)
	if err != nil {
		appLog.Warn("cache: fetch failed", "cache", c.name, "key", key, "error", err.Error())
		var zero V
		return zero, &FetchError{Key: key, Err: err}
	}

	c.mu.Lock()
	c.entries[key] = Entry[V]{Value: v, FetchedAt: c.now()}
	c.mu.Unlock()

	appLog.Debug("cache: refreshed", "cache", c.name, "key", key)
	return v, nil
}

// Peek returns the current entry for key, fresh or not, without fetching.
func (c *Cache[K, V]) Peek(key K) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Stale reports whether e is at least ttl old.
func (c *Cache[K, V]) Stale(e Entry[V]) bool {
	return c.now().Sub(e.FetchedAt) >= c.ttl
}

// Invalidate drops the entry for key so the next Get fetches.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache[K, V]) fresh(key K) (Entry[V], bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.Stale(e) {
		return Entry[V]{}, false
	}
	return e, true
}
