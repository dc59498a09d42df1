package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/types"
)

const (
	defaultTTL    = 2 * time.Second
	defaultLRUCap = 10
)

type cacheEntry struct {
	snap       *types.Snapshot
	prevAnchor *types.Snapshot // the diff anchor; always equals snap once committed
	expiresAt  time.Time
}

// Cache is the Snapshot subsystem's TTL+LRU cache, keyed by page URL (plus
// scope/excludes when specified). It owns the diff anchor alongside each
// entry so the cache and the anchor can never observe each other out of
// sync (spec.md §4.4's correctness contract).
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	lruCap  int
	entries map[string]*cacheEntry
	order   []string // least-recently-used first
	refSeq  int      // monotonic ref sequence; guarded by mu
}

// nextRef hands out the next ref in this Cache's sequence. Monotonic per
// Cache, so a ref is never reused across snapshots from different
// navigation events (spec.md §3's core invariant).
func (c *Cache) nextRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refSeq++
	return fmt.Sprintf("e%d", c.refSeq)
}

// NewCache builds a Cache with the given TTL and LRU capacity. Pass zero
// values to use the documented defaults (2s TTL, 10-entry cap).
func NewCache(ttl time.Duration, lruCap int) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if lruCap <= 0 {
		lruCap = defaultLRUCap
	}
	return &Cache{
		ttl:     ttl,
		lruCap:  lruCap,
		entries: make(map[string]*cacheEntry),
	}
}

func cacheKey(url string, opts Options) string {
	return fmt.Sprintf("%s|%s|%s", url, opts.Scope, strings.Join(opts.Exclude, ","))
}

// Get returns either a full Snapshot or a SnapshotDiff, never both — the
// return is stable for a given opts.Diff value, satisfying spec.md §4.4's
// "the return type must be stable for a given diff value" rule.
//
// diff=true always regenerates against the live page rather than serving
// a TTL-cached snapshot: spec.md's scenario 4 requires that a diff issued
// inside the TTL window still observe a page mutation that happened after
// the cached snapshot was taken. Serving the stale cached snapshot here
// would silently report "no changes" on a page that in fact changed, so
// diff mode bypasses the cache-hit fast path (the cache itself is still
// updated with the fresh result, keeping subsequent non-diff reads warm).
func (c *Cache) Get(ctx context.Context, drv driver.PageDriver, opts Options) (*types.Snapshot, *types.SnapshotDiff, error) {
	url, err := drv.CurrentURL(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot cache: current url: %w", err)
	}
	key := cacheKey(url, opts)

	now := time.Now()
	c.mu.Lock()
	entry, hit := c.entries[key]
	useCached := hit && !opts.Force && !opts.Diff && now.Before(entry.expiresAt)
	if useCached {
		snap := entry.snap
		c.touch(key)
		c.mu.Unlock()
		return snap, nil, nil
	}
	var anchor *types.Snapshot
	if hit {
		anchor = entry.prevAnchor
	}
	c.mu.Unlock()

	fresh, err := generate(ctx, drv, opts, c.nextRef)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{
		snap:       fresh,
		prevAnchor: fresh,
		expiresAt:  time.Now().Add(c.ttl),
	}
	c.touch(key)
	c.evictOverCap()

	if !opts.Diff {
		return fresh, nil, nil
	}
	if anchor == nil {
		// No prior anchor for this key: everything present is "added".
		return nil, &types.SnapshotDiff{Added: fresh.Elements}, nil
	}
	d := Diff(anchor, fresh)
	return nil, &d, nil
}

// touch moves key to the most-recently-used position. Caller holds mu.
func (c *Cache) touch(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}

// evictOverCap drops least-recently-used entries until the cache is back
// at capacity. Caller holds mu.
func (c *Cache) evictOverCap() {
	for len(c.order) > c.lruCap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Sweep removes every entry whose TTL has elapsed. Intended to run on a
// periodic background task per spec.md §5; a size-bounded LRU cache does
// not strictly need this for correctness, but it keeps memory bounded
// between bursts of activity on many distinct URLs.
func (c *Cache) Sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var kept []string
	for _, key := range c.order {
		if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
			kept = append(kept, key)
			continue
		}
		delete(c.entries, key)
	}
	c.order = kept
}

// StartSweeper runs Sweep on interval in a background goroutine until ctx
// is cancelled. It returns at once and gives no way to wait for that
// goroutine to exit.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Len reports the number of live cache entries, for tests/diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sortedKeys returns cache keys in sorted order, for deterministic test
// assertions.
func (c *Cache) sortedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
