// Package cache records per-file processing state so unchanged files are
// skipped on rescans. A store failure degrades to a cache miss, never to a
// failed scan.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/inventory"
	"github.com/MimeLyc/sidecar-translator/pkg/clock"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

type Cache struct {
	store Store
	clock clock.Clock
	locks *keyedMutex
}

// New wraps store. A nil store yields a disabled cache where every lookup
// misses and every write is dropped.
func New(store Store, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache{
		store: store,
		clock: clk,
		locks: newKeyedMutex(),
	}
}

func (c *Cache) Enabled() bool {
	return c != nil && c.store != nil
}

// Lookup returns the entry for fingerprint, or nil on a miss or store error.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) *Entry {
	if !c.Enabled() {
		return nil
	}
	entry, err := c.store.GetEntry(ctx, fingerprint)
	if err != nil {
		log.Warn("cache_lookup_failed fingerprint=%s error=%v", fingerprint, err)
		return nil
	}
	return entry
}

// RecordStreams stores the stream inventory and returns the merged entry.
// With the cache disabled the update itself is returned.
func (c *Cache) RecordStreams(ctx context.Context, fingerprint, path string, streams []inventory.Stream) *Entry {
	return c.merge(ctx, Entry{
		Fingerprint: fingerprint,
		Path:        path,
		Probed:      true,
		Streams:     streams,
	})
}

func (c *Cache) MarkCompleted(ctx context.Context, fingerprint, path, lang string) *Entry {
	return c.merge(ctx, Entry{
		Fingerprint: fingerprint,
		Path:        path,
		Completed:   []string{lang},
	})
}

// MarkFailed records a permanent failure. It is honoured only while the
// language policy digest stays the same.
func (c *Cache) MarkFailed(ctx context.Context, fingerprint, path, lang, policy string) *Entry {
	return c.merge(ctx, Entry{
		Fingerprint: fingerprint,
		Path:        path,
		Failed:      []string{lang},
		Policy:      policy,
	})
}

func (c *Cache) merge(ctx context.Context, update Entry) *Entry {
	update.UpdatedAt = c.clock.Now().UTC()
	if !c.Enabled() {
		merged := Merge(nil, update)
		return &merged
	}

	unlock := c.locks.Lock(update.Fingerprint)
	defer unlock()

	merged, err := c.store.MergeEntry(ctx, update)
	if err != nil {
		log.Warn("cache_write_failed fingerprint=%s path=%s error=%v", update.Fingerprint, update.Path, err)
		fallback := Merge(nil, update)
		return &fallback
	}
	return merged
}

// Invalidate forgets every fingerprint recorded for path.
func (c *Cache) Invalidate(ctx context.Context, path string) {
	if !c.Enabled() {
		return
	}
	n, err := c.store.DeletePath(ctx, path)
	if err != nil {
		log.Warn("cache_invalidate_failed path=%s error=%v", path, err)
		return
	}
	if n > 0 {
		log.Debug("cache_invalidated path=%s entries=%d", path, n)
	}
}

// Prune drops entries whose path no longer exists according to exists.
func (c *Cache) Prune(ctx context.Context, exists func(path string) bool) (int, error) {
	if !c.Enabled() {
		return 0, nil
	}
	start := time.Now()
	paths, err := c.store.EntryPaths(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if exists(p) {
			continue
		}
		n, err := c.store.DeletePath(ctx, p)
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	log.Info("cache_pruned checked=%d removed=%d duration=%s", len(paths), removed, time.Since(start).Round(time.Millisecond))
	return removed, nil
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
