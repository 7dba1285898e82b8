package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"disclosure-cache-api/internal/logging"
)

// now is a small indirection to allow test stubbing.
var now = time.Now

type entry[V any] struct {
	key         string
	value       V
	createdAt   time.Time
	accessedAt  time.Time
	expiresAt   time.Time // zero means no expiration
	tags        []string
	accessCount uint64
	size        int64
	seq         uint64 // write order, used for Keys ordering and popularity ties
}

func (e *entry[V]) expired(ts time.Time) bool {
	return !e.expiresAt.IsZero() && !ts.Before(e.expiresAt)
}

// Store is an in-process TTL cache with a tag index, glob key matching and
// hit/miss accounting. All operations, including the background sweep, run
// under a single mutex.
type Store[V any] struct {
	mu sync.Mutex

	cfg     Config
	entries map[string]*entry[V]
	tags    tagIndex
	size    int64
	seq     uint64

	hits      uint64
	misses    uint64
	evictions uint64

	log *zap.Logger
	obs Observer

	// collapses concurrent GetOrLoad calls for one key
	loads singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewStore builds a Store and starts its sweeper unless
// cfg.CleanupInterval is negative. Call Close to stop it.
func NewStore[V any](cfg Config, opts ...Option) *Store[V] {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.obs == nil {
		o.obs = noopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store[V]{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*entry[V]),
		tags:    make(tagIndex),
		log:     logging.OrNop(o.log).Named("cache"),
		obs:     o.obs,
		ctx:     ctx,
		cancel:  cancel,
	}
	if s.cfg.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}
	return s
}

// Set inserts or fully replaces the entry for key. It returns false, with no
// side effects, when the ttl is not positive, the value cannot be serialized,
// or the value alone exceeds MaxSize.
func (s *Store[V]) Set(key string, value V, opts ...SetOption) bool {
	o := setOptions{ttl: s.cfg.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.noExpiry && o.ttl <= 0 {
		s.log.Debug("rejected non-positive ttl", zap.String("key", key), zap.Duration("ttl", o.ttl))
		return false
	}

	data, err := json.Marshal(value)
	if err != nil {
		s.log.Warn("value is not serializable", zap.String("key", key), zap.Error(err))
		return false
	}
	size := int64(len(data))
	tags := normalizeTags(o.tags)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxSize > 0 && size > s.cfg.MaxSize {
		s.log.Warn("value too large for cache",
			zap.String("key", key),
			zap.Int64("size", size),
			zap.Int64("max_size", s.cfg.MaxSize),
		)
		return false
	}

	ts := now()
	if old, ok := s.entries[key]; ok {
		// a fresh write; expired-but-unswept entries are dropped the same way
		s.removeLocked(old)
	} else if s.cfg.MaxKeys > 0 && len(s.entries) >= s.cfg.MaxKeys {
		s.evictOneLocked(ts, "")
	}

	s.seq++
	e := &entry[V]{
		key:        key,
		value:      value,
		createdAt:  ts,
		accessedAt: ts,
		tags:       tags,
		size:       size,
		seq:        s.seq,
	}
	if !o.noExpiry {
		e.expiresAt = ts.Add(o.ttl)
	}
	s.entries[key] = e
	s.size += size
	s.tags.attach(key, tags)

	for s.cfg.MaxSize > 0 && s.size > s.cfg.MaxSize {
		if !s.evictOneLocked(ts, key) {
			break
		}
	}

	s.log.Debug("cache set", zap.String("key", key), zap.Int64("size", size), zap.Strings("tags", tags))
	return true
}

// SetMany stores every value with the same options. It returns false if any
// single Set failed; the others are still stored.
func (s *Store[V]) SetMany(values map[string]V, opts ...SetOption) bool {
	ok := true
	for k, v := range values {
		if !s.Set(k, v, opts...) {
			ok = false
		}
	}
	return ok
}

// Get returns the live value for key. An expired entry is removed and
// counted as a miss.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	e, ok := s.entries[key]
	if !ok {
		s.misses++
		s.obs.Miss()
		s.log.Debug("cache miss", zap.String("key", key))
		return zero, false
	}
	ts := now()
	if e.expired(ts) {
		s.removeLocked(e)
		s.misses++
		s.obs.Expire()
		s.obs.Miss()
		s.log.Debug("cache expired", zap.String("key", key))
		return zero, false
	}

	e.accessCount++
	e.accessedAt = ts
	s.hits++
	s.obs.Hit()
	return e.value, true
}

// peek returns the live value for key without touching stats or recency.
func (s *Store[V]) peek(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expired(now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetMany returns the live values among keys. Each key counts as one Get.
func (s *Store[V]) GetMany(keys ...string) map[string]V {
	out := make(map[string]V, len(keys))
	for _, k := range keys {
		if v, ok := s.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// Exists reports whether key holds a live entry. It does not touch stats.
func (s *Store[V]) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && !e.expired(now())
}

// TTL returns the remaining lifetime of a live key, or NoExpiration for an
// entry without expiry. The bool is false for absent or expired keys.
func (s *Store[V]) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return 0, false
	}
	ts := now()
	if e.expired(ts) {
		return 0, false
	}
	if e.expiresAt.IsZero() {
		return NoExpiration, true
	}
	return e.expiresAt.Sub(ts), true
}

// Delete removes key. It returns true iff a live entry was removed.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	live := !e.expired(now())
	s.removeLocked(e)
	if !live {
		s.obs.Expire()
	}
	return live
}

// DeletePattern removes every key matching the glob and returns how many live
// entries were removed. Expired matches are swept without being counted.
func (s *Store[V]) DeletePattern(pattern string) int {
	if pattern == "" {
		return 0
	}
	p := CompilePattern(pattern)

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	count := 0
	for key, e := range s.entries {
		if !p.Match(key) {
			continue
		}
		if s.removeCountedLocked(e, ts) {
			count++
		}
	}
	s.log.Debug("cache pattern delete", zap.String("pattern", pattern), zap.Int("count", count))
	return count
}

// InvalidateByTags removes every entry carrying any of tags, each at most
// once, and returns the number of live entries removed.
func (s *Store[V]) InvalidateByTags(tags ...string) int {
	tags = normalizeTags(tags)
	if len(tags) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	count := 0
	for _, key := range s.tags.union(tags) {
		e, ok := s.entries[key]
		if !ok {
			s.invariant("tag index references missing key", zap.String("key", key), zap.Strings("tags", tags))
			continue
		}
		if s.removeCountedLocked(e, ts) {
			count++
		}
	}
	s.log.Debug("cache tag invalidation", zap.Strings("tags", tags), zap.Int("count", count))
	return count
}

// Keys lists live keys matching the glob in write order. It does not mutate
// state or stats; an empty pattern matches nothing.
func (s *Store[V]) Keys(pattern string) []string {
	if pattern == "" {
		return []string{}
	}
	p := CompilePattern(pattern)

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	matched := make([]*entry[V], 0)
	for key, e := range s.entries {
		if !e.expired(ts) && p.Match(key) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	keys := make([]string, len(matched))
	for i, e := range matched {
		keys[i] = e.key
	}
	return keys
}

// Expire resets the lifetime of a live key to ttl from now. Absent or
// already expired keys are left alone and false is returned.
func (s *Store[V]) Expire(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	ts := now()
	if e.expired(ts) {
		return false
	}
	e.expiresAt = ts.Add(ttl)
	return true
}

// Clear drops every entry and resets the counters.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]*entry[V])
	s.tags = make(tagIndex)
	s.size = 0
	s.hits = 0
	s.misses = 0
	s.evictions = 0
	s.log.Info("cache cleared", zap.Int("removed", n))
}

// Cleanup removes every expired entry and returns how many it removed.
func (s *Store[V]) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(now())
}

func (s *Store[V]) cleanupLocked(ts time.Time) int {
	count := 0
	for _, e := range s.entries {
		if e.expired(ts) {
			s.removeLocked(e)
			s.obs.Expire()
			count++
		}
	}
	return count
}

// Len returns the number of physically present entries, expired or not.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// removeCountedLocked removes e and reports whether it was still live.
func (s *Store[V]) removeCountedLocked(e *entry[V], ts time.Time) bool {
	live := !e.expired(ts)
	s.removeLocked(e)
	if !live {
		s.obs.Expire()
	}
	return live
}

func (s *Store[V]) removeLocked(e *entry[V]) {
	delete(s.entries, e.key)
	s.size -= e.size
	if missing := s.tags.detach(e.key, e.tags); len(missing) > 0 {
		s.invariant("entry tags missing from tag index", zap.String("key", e.key), zap.Strings("tags", missing))
	}
	if s.size < 0 {
		s.invariant("negative total size", zap.Int64("size", s.size))
		s.size = 0
	}
}

// evictOneLocked removes one entry other than skip: an expired one if found,
// else the least recently accessed. It reports whether anything was removed.
func (s *Store[V]) evictOneLocked(ts time.Time, skip string) bool {
	var victim *entry[V]
	for key, e := range s.entries {
		if key == skip {
			continue
		}
		if e.expired(ts) {
			s.removeLocked(e)
			s.obs.Expire()
			return true
		}
		if victim == nil || e.accessedAt.Before(victim.accessedAt) ||
			(e.accessedAt.Equal(victim.accessedAt) && e.seq < victim.seq) {
			victim = e
		}
	}
	if victim == nil {
		return false
	}
	s.removeLocked(victim)
	s.evictions++
	s.obs.Evict()
	s.log.Debug("cache evicted", zap.String("key", victim.key))
	return true
}

func (s *Store[V]) invariant(msg string, fields ...zap.Field) {
	s.log.Error("cache invariant violated: "+msg, fields...)
	if s.cfg.StrictInvariants {
		panic("cache: " + msg)
	}
}

// Verify rescans the store and checks that the tag index and size counter
// agree with the entries.
func (s *Store[V]) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var size int64
	for key, e := range s.entries {
		if key != e.key {
			return fmt.Errorf("entry stored under %q has key %q", key, e.key)
		}
		if !e.expiresAt.IsZero() && e.expiresAt.Before(e.createdAt) {
			return fmt.Errorf("entry %q expires before it was created", key)
		}
		size += e.size
		for _, tag := range e.tags {
			if _, ok := s.tags[tag][key]; !ok {
				return fmt.Errorf("entry %q tag %q missing from index", key, tag)
			}
		}
	}
	for tag, bucket := range s.tags {
		if len(bucket) == 0 {
			return fmt.Errorf("tag %q has an empty bucket", tag)
		}
		for key := range bucket {
			e, ok := s.entries[key]
			if !ok {
				return fmt.Errorf("tag %q references missing key %q", tag, key)
			}
			if !containsString(e.tags, tag) {
				return fmt.Errorf("tag %q references key %q which lacks it", tag, key)
			}
		}
	}
	if size != s.size {
		return fmt.Errorf("size counter %d, actual %d", s.size, size)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
