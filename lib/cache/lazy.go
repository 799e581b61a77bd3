// Package cache provides the lazy TTL cache used to coalesce identical
// repository queries and repeated event submissions.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

type lazyEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e lazyEntry[V]) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Lazy computes a value at most once per key at a time and keeps the
// result for ttl. Concurrent callers for a key wait on the same in-flight
// computation. Failed computations are shared with the waiters but not kept.
type Lazy[V any] struct {
	ttl     time.Duration
	group   singleflight.Group
	entries *xsync.MapOf[string, lazyEntry[V]]

	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLazy creates a cache with the given ttl. A background goroutine evicts
// expired entries every cleanupInterval until Close is called. A
// non-positive cleanupInterval defaults to ttl.
func NewLazy[V any](ttl, cleanupInterval time.Duration) *Lazy[V] {
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Second
	}

	c := &Lazy[V]{
		ttl:      ttl,
		entries:  xsync.NewMapOf[string, lazyEntry[V]](),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.cleanup(cleanupInterval)
	return c
}

// Get returns the cached value for key or computes it with fn
func (c *Lazy[V]) Get(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	if value, ok := c.load(key); ok {
		return value, nil
	}

	// the flight outlives any single caller's cancellation
	flightCtx := context.WithoutCancel(ctx)

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// a flight that finished between load and Do already stored the value
		if value, ok := c.load(key); ok {
			return value, nil
		}

		value, err := fn(flightCtx)
		if err != nil {
			return value, err
		}
		if c.ttl > 0 {
			c.entries.Store(key, lazyEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)})
		}
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

func (c *Lazy[V]) load(key string) (V, bool) {
	entry, ok := c.entries.Load(key)
	if !ok || entry.isExpired(time.Now()) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Forget drops the memoized value for key
func (c *Lazy[V]) Forget(key string) {
	c.entries.Delete(key)
}

// Len returns the number of stored entries, expired ones included
func (c *Lazy[V]) Len() int {
	return c.entries.Size()
}

// Close stops the cleanup goroutine and drops every entry
func (c *Lazy[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.shutdown)
		<-c.done
		c.entries.Clear()
	})
}

func (c *Lazy[V]) cleanup(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdown:
			return
		case now := <-ticker.C:
			c.entries.Range(func(key string, entry lazyEntry[V]) bool {
				if entry.isExpired(now) {
					c.entries.Delete(key)
				}
				return true
			})
		}
	}
}
