// Package content provides the on-demand document body cache consumed by
// viewer components: TTL-bounded reads with in-flight request coalescing.
package content

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultTTL is the validity window after a successful fetch.
const DefaultTTL = 5 * time.Minute

// Fetcher is the HTTP collaborator the cache reads through and writes through.
type Fetcher interface {
	FetchContent(ctx context.Context, id string) (string, error)
	UpdateContent(ctx context.Context, id, content string) error
}

// entry is one cache slot. Exactly one of two shapes is live at a time:
// pending (done open, fetch in flight) or ready (done closed, content and
// fetchedAt set). An absent map entry is the empty state.
type entry struct {
	done      chan struct{}
	content   string
	err       error
	fetchedAt time.Time
	ready     bool
}

// Cache is a TTL cache of document bodies keyed by document id. Concurrent
// same-key reads share a single underlying fetch; failed fetches are never
// cached.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	now func() time.Time
}

// New creates a cache over fetcher. A non-positive ttl falls back to
// DefaultTTL.
func New(fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// GetContent returns the cached body for key, fetching it when absent or
// expired. The slot is reserved before the fetch starts so every caller that
// arrives while the fetch is in flight waits on the same result instead of
// issuing a duplicate request. A failed fetch deletes the slot, so the next
// call retries rather than replaying the failure.
func (c *Cache) GetContent(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.ready {
			if c.now().Sub(e.fetchedAt) < c.ttl {
				content := e.content
				c.mu.Unlock()
				return content, nil
			}
			// Expired entries are treated as absent.
			delete(c.entries, key)
		} else {
			// Join the in-flight fetch.
			c.mu.Unlock()
			select {
			case <-e.done:
				return e.content, e.err
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	e := &entry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	content, err := c.fetcher.FetchContent(ctx, key)

	c.mu.Lock()
	if err != nil {
		// Do not cache the failure.
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		e.err = err
	} else {
		e.content = content
		e.fetchedAt = c.now()
		e.ready = true
	}
	close(e.done)
	c.mu.Unlock()

	return content, err
}

// Invalidate drops the entry for key unconditionally; the next GetContent is
// guaranteed to refetch.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Update writes newContent through to the backend and invalidates the local
// entry. There is no optimistic local write: truth is re-fetched on the next
// read.
func (c *Cache) Update(ctx context.Context, key, newContent string) error {
	if err := c.fetcher.UpdateContent(ctx, key, newContent); err != nil {
		return err
	}
	c.Invalidate(key)
	return nil
}

// Preload warms the cache for keys in parallel. Per-key failures are logged
// and swallowed so one bad key does not abort warming the others.
func (c *Cache) Preload(ctx context.Context, keys []string) {
	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if _, err := c.GetContent(ctx, key); err != nil {
				log.Printf("content: preload %q failed: %v", key, err)
			}
		}(key)
	}
	wg.Wait()
}

// Len returns the number of resident entries, pending included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
