package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// simpleEntry stores a cached value, when it was stored and its absolute
// expiration timestamp.
type simpleEntry[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time // zero means no expiration
}

func (e simpleEntry[V]) expired(ts time.Time) bool {
	return !e.expiresAt.IsZero() && ts.After(e.expiresAt)
}

// SimpleCache is a lightweight map-backed cache with optional concurrency safety.
// It supports per-item TTL (no background janitor; cleanup is lazy or via PurgeExpired)
// and a soft item bound that drops the oldest entries in batches.
type SimpleCache[K comparable, V any] struct {
	// If muPtr is nil, the cache is NOT goroutine-safe.
	// If muPtr is non-nil, it guards all operations.
	muPtr *sync.RWMutex

	defaultTTL time.Duration
	maxItems   int
	evictBatch int

	items map[K]simpleEntry[V]
}

// Options controls construction of a SimpleCache.
type Options struct {
	// ConcurrencySafe controls whether operations are guarded by a RWMutex.
	// If false, the cache is not safe for concurrent use and may be faster in single-threaded contexts.
	ConcurrencySafe bool

	// DefaultTTL applies when Set is called with ttl <= 0. Zero means no expiration.
	DefaultTTL time.Duration

	// MaxItems bounds the item count; 0 means unbounded.
	MaxItems int

	// EvictBatch is how many of the oldest entries are dropped when MaxItems is
	// reached. Defaults to 10.
	EvictBatch int
}

// SimpleStats is returned by Snapshot. Oldest and Newest are zero when empty.
type SimpleStats struct {
	Items  int
	Size   int64
	Oldest time.Time
	Newest time.Time
}

// NewSimpleCache constructs a new SimpleCache with the given options.
func NewSimpleCache[K comparable, V any](opts Options) *SimpleCache[K, V] {
	var mu *sync.RWMutex
	if opts.ConcurrencySafe {
		mu = &sync.RWMutex{}
	}
	batch := opts.EvictBatch
	if batch <= 0 {
		batch = 10
	}
	return &SimpleCache[K, V]{
		muPtr:      mu,
		defaultTTL: opts.DefaultTTL,
		maxItems:   opts.MaxItems,
		evictBatch: batch,
		items:      make(map[K]simpleEntry[V]),
	}
}

func (c *SimpleCache[K, V]) lockR() func() {
	if c.muPtr == nil {
		return func() {}
	}
	c.muPtr.RLock()
	return c.muPtr.RUnlock
}

func (c *SimpleCache[K, V]) lockW() func() {
	if c.muPtr == nil {
		return func() {}
	}
	c.muPtr.Lock()
	return c.muPtr.Unlock
}

// Get implements Cache.Get. Expired entries are removed on access.
func (c *SimpleCache[K, V]) Get(key K) (V, bool) {
	unlock := c.lockW()
	defer unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if e.expired(now()) {
		delete(c.items, key)
		return zero, false
	}
	return e.value, true
}

// Set implements Cache.Set.
func (c *SimpleCache[K, V]) Set(key K, value V, ttl time.Duration) {
	unlock := c.lockW()
	defer unlock()

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictOldestLocked(c.evictBatch)
	}

	ts := now()
	var exp time.Time
	if ttl > 0 {
		exp = ts.Add(ttl)
	}
	c.items[key] = simpleEntry[V]{
		value:     value,
		storedAt:  ts,
		expiresAt: exp,
	}
}

func (c *SimpleCache[K, V]) evictOldestLocked(n int) {
	type aged struct {
		key K
		at  time.Time
	}
	all := make([]aged, 0, len(c.items))
	for k, e := range c.items {
		all = append(all, aged{key: k, at: e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(c.items, a.key)
	}
}

// Delete implements Cache.Delete.
func (c *SimpleCache[K, V]) Delete(key K) {
	unlock := c.lockW()
	defer unlock()
	delete(c.items, key)
}

// Has implements Cache.Has.
func (c *SimpleCache[K, V]) Has(key K) bool {
	unlock := c.lockR()
	defer unlock()
	e, ok := c.items[key]
	if !ok {
		return false
	}
	return !e.expired(now())
}

// Len implements Cache.Len. It counts only non-expired entries.
func (c *SimpleCache[K, V]) Len() int {
	unlock := c.lockR()
	defer unlock()
	ts := now()
	count := 0
	for _, e := range c.items {
		if !e.expired(ts) {
			count++
		}
	}
	return count
}

// Clear implements Cache.Clear.
func (c *SimpleCache[K, V]) Clear() {
	unlock := c.lockW()
	defer unlock()
	c.items = make(map[K]simpleEntry[V])
}

// DeleteMatching implements Cache.DeleteMatching.
func (c *SimpleCache[K, V]) DeleteMatching(match func(K) bool) int {
	unlock := c.lockW()
	defer unlock()
	count := 0
	for k := range c.items {
		if match(k) {
			delete(c.items, k)
			count++
		}
	}
	return count
}

// PurgeExpired implements Cache.PurgeExpired.
func (c *SimpleCache[K, V]) PurgeExpired() int {
	unlock := c.lockW()
	defer unlock()
	if len(c.items) == 0 {
		return 0
	}
	nowTs := now()
	count := 0
	for k, e := range c.items {
		if e.expired(nowTs) {
			delete(c.items, k)
			count++
		}
	}
	return count
}

// Snapshot implements Cache.Snapshot. Size is the summed JSON length of the
// stored values; values that fail to encode count as zero.
func (c *SimpleCache[K, V]) Snapshot() SimpleStats {
	unlock := c.lockR()
	defer unlock()
	st := SimpleStats{Items: len(c.items)}
	for _, e := range c.items {
		if data, err := json.Marshal(e.value); err == nil {
			st.Size += int64(len(data))
		}
		if st.Oldest.IsZero() || e.storedAt.Before(st.Oldest) {
			st.Oldest = e.storedAt
		}
		if e.storedAt.After(st.Newest) {
			st.Newest = e.storedAt
		}
	}
	return st
}

// Ensure SimpleCache implements Cache at compile time.
var _ Cache[any, any] = (*SimpleCache[any, any])(nil)
