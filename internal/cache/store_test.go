package cache

import (
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// frozenClock pins now and returns a function that moves it forward.
func frozenClock(t *testing.T) func(time.Duration) {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time { return base }
	t.Cleanup(func() { now = time.Now })
	return func(d time.Duration) { base = base.Add(d) }
}

func newTestStore(t *testing.T, cfg Config) *Store[any] {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = -1
	}
	cfg.StrictInvariants = true
	s := NewStore[any](cfg)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore(t, Config{})
	require.True(t, s.Set("a", map[string]any{"n": 1}))

	v, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, map[string]any{"n": 1}, v)

	_, ok = s.Get("missing")
	require.False(t, ok)

	st := s.Stats()
	require.Equal(t, uint64(1), st.Hits)
	require.Equal(t, uint64(1), st.Misses)
	require.InDelta(t, 0.5, st.HitRate, 1e-9)
}

func TestStore_SetRejectsNonPositiveTTL(t *testing.T) {
	s := newTestStore(t, Config{})
	require.False(t, s.Set("a", 1, WithTTL(0)))
	require.False(t, s.Set("a", 1, WithTTL(-time.Second)))
	require.Equal(t, 0, s.Len())
}

func TestStore_SetRejectsUnserializableValue(t *testing.T) {
	s := newTestStore(t, Config{})
	require.False(t, s.Set("ch", make(chan int), WithTags("t")))
	require.False(t, s.Set("nan", math.NaN()))
	require.Equal(t, 0, s.Len())
	require.Empty(t, s.Keys("*"))
	require.Equal(t, 0, s.InvalidateByTags("t"))
	require.NoError(t, s.Verify())
}

func TestStore_TTLBoundary(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{})

	require.True(t, s.Set("k", "v", WithTTL(10*time.Second)))
	advance(9*time.Second + 999*time.Millisecond)
	_, ok := s.Get("k")
	require.True(t, ok)

	advance(time.Millisecond)
	_, ok = s.Get("k")
	require.False(t, ok, "expired at exactly ttl")
	require.Equal(t, 0, s.Len(), "lazy expiry removes the entry")
}

func TestStore_DefaultTTL(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{DefaultTTL: time.Minute})
	require.True(t, s.Set("k", 1))

	ttl, ok := s.TTL("k")
	require.True(t, ok)
	require.Equal(t, time.Minute, ttl)

	advance(time.Minute)
	require.False(t, s.Exists("k"))
}

func TestStore_WithoutExpiry(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{})
	require.True(t, s.Set("k", 1, WithoutExpiry()))
	advance(1000 * time.Hour)

	ttl, ok := s.TTL("k")
	require.True(t, ok)
	require.Equal(t, NoExpiration, ttl)
	require.Equal(t, 0, s.Cleanup())
}

func TestStore_OverwriteResetsAccessCount(t *testing.T) {
	s := newTestStore(t, Config{})
	require.True(t, s.Set("k", 1, WithTTL(60*time.Second)))
	for i := 0; i < 3; i++ {
		_, ok := s.Get("k")
		require.True(t, ok)
	}
	require.Equal(t, []KeyHits{{Key: "k", Hits: 3}}, s.PopularKeys(1))

	require.True(t, s.Set("k", 2, WithTTL(60*time.Second)))
	require.Equal(t, []KeyHits{{Key: "k", Hits: 0}}, s.PopularKeys(1))
}

func TestStore_OverwriteReplacesTags(t *testing.T) {
	s := newTestStore(t, Config{})
	require.True(t, s.Set("k", 1, WithTags("old")))
	require.True(t, s.Set("k", 2, WithTags("new")))

	require.Equal(t, 0, s.InvalidateByTags("old"))
	require.True(t, s.Exists("k"))
	require.Equal(t, 1, s.InvalidateByTags("new"))
	require.NoError(t, s.Verify())
}

func TestStore_SetOverExpiredEntryDiscardsOldTags(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{})
	require.True(t, s.Set("k", 1, WithTTL(time.Second), WithTags("a")))
	advance(2 * time.Second)

	require.True(t, s.Set("k", 2, WithTags("b")))
	require.NoError(t, s.Verify())
	require.Equal(t, 0, s.InvalidateByTags("a"))
	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestStore_TagInvalidationScenario(t *testing.T) {
	s := newTestStore(t, Config{})
	require.True(t, s.Set("a", 1, WithTags("t1")))
	require.True(t, s.Set("b", 2, WithTags("t1", "t2")))

	require.Equal(t, 2, s.InvalidateByTags("t1"))
	_, ok := s.Get("a")
	require.False(t, ok)
	_, ok = s.Get("b")
	require.False(t, ok)

	require.True(t, s.Set("c", 3, WithTags("t2")))
	require.Equal(t, 1, s.InvalidateByTags("t2"))
	require.NoError(t, s.Verify())
}

func TestStore_InvalidateByTagsCountsEachKeyOnce(t *testing.T) {
	s := newTestStore(t, Config{})
	require.True(t, s.Set("a", 1, WithTags("x", "y", "x")))
	require.True(t, s.Set("b", 1, WithTags("y")))
	require.Equal(t, 2, s.InvalidateByTags("x", "y", "x"))
	require.Equal(t, 0, s.InvalidateByTags())
}

func TestStore_DeletePatternScenario(t *testing.T) {
	s := newTestStore(t, Config{})
	for _, k := range []string{"user:1", "user:2", "order:1"} {
		require.True(t, s.Set(k, k))
	}
	require.Equal(t, 2, s.DeletePattern("user:*"))
	require.Equal(t, []string{"order:1"}, s.Keys("*"))
	require.Equal(t, 0, s.DeletePattern(""))
	require.Equal(t, 0, s.DeletePattern("nothing:*"))
}

func TestStore_KeysAnchoredAndOrdered(t *testing.T) {
	s := newTestStore(t, Config{})
	for _, k := range []string{"abd", "xabc", "abc"} {
		require.True(t, s.Set(k, 1))
	}
	require.Equal(t, []string{"abd", "abc"}, s.Keys("a*"))
	require.Empty(t, s.Keys(""))

	// rewriting moves the key to the end
	require.True(t, s.Set("abd", 2))
	require.Equal(t, []string{"abc", "abd"}, s.Keys("a*"))

	st := s.Stats()
	require.Zero(t, st.Hits+st.Misses, "Keys does not touch stats")
}

func TestStore_KeysSkipsExpired(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{})
	require.True(t, s.Set("short", 1, WithTTL(time.Second)))
	require.True(t, s.Set("long", 1, WithTTL(time.Hour)))
	advance(2 * time.Second)
	require.Equal(t, []string{"long"}, s.Keys("*"))
	require.Equal(t, 2, s.Len(), "Keys does not sweep")
}

func TestStore_Delete(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{})
	require.True(t, s.Set("a", 1, WithTags("t")))
	require.True(t, s.Delete("a"))
	require.False(t, s.Delete("a"))
	require.NoError(t, s.Verify())

	require.True(t, s.Set("b", 1, WithTTL(time.Second), WithTags("t")))
	advance(time.Second)
	require.False(t, s.Delete("b"), "expired entries are not found")
	require.Equal(t, 0, s.Len())
	require.NoError(t, s.Verify())
}

func TestStore_Expire(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{})
	require.True(t, s.Set("k", 1, WithTTL(time.Second)))

	require.False(t, s.Expire("k", 0))
	require.True(t, s.Expire("k", time.Hour))
	advance(30 * time.Minute)
	require.True(t, s.Exists("k"))

	require.False(t, s.Expire("missing", time.Hour))

	advance(31 * time.Minute)
	require.False(t, s.Expire("k", time.Hour), "no resurrection")
	_, ok := s.Get("k")
	require.False(t, ok)
}

func TestStore_CleanupIdempotent(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{})
	require.True(t, s.Set("a", 1, WithTTL(time.Second), WithTags("t")))
	require.True(t, s.Set("b", 1, WithTTL(time.Second)))
	require.True(t, s.Set("c", 1, WithTTL(time.Hour), WithTags("t")))
	advance(time.Second)

	require.Equal(t, 2, s.Cleanup())
	require.Equal(t, 0, s.Cleanup())
	require.Equal(t, 1, s.Len())
	require.NoError(t, s.Verify())
}

func TestStore_ClearResetsEverything(t *testing.T) {
	s := newTestStore(t, Config{})
	require.True(t, s.Set("a", 1, WithTags("t")))
	s.Get("a")
	s.Get("b")
	s.Clear()

	st := s.Stats()
	require.Equal(t, Stats{}, st)
	require.Equal(t, 0, s.InvalidateByTags("t"))
	require.NoError(t, s.Verify())
}

func TestStore_HitRateBounds(t *testing.T) {
	s := newTestStore(t, Config{})
	require.Equal(t, 0.0, s.Stats().HitRate)

	require.True(t, s.Set("a", 1))
	for i := 0; i < 10; i++ {
		s.Get("a")
		if i%3 == 0 {
			s.Get("zz")
		}
		r := s.Stats().HitRate
		require.GreaterOrEqual(t, r, 0.0)
		require.LessOrEqual(t, r, 1.0)
	}
}

func TestStore_PopularKeys(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{})
	require.True(t, s.Set("a", 1))
	require.True(t, s.Set("b", 1))
	require.True(t, s.Set("c", 1))
	require.True(t, s.Set("gone", 1, WithTTL(time.Second)))
	s.Get("a")
	s.Get("a")
	s.Get("gone")
	s.Get("gone")
	s.Get("gone")
	advance(time.Second)

	require.Empty(t, s.PopularKeys(0))
	require.Empty(t, s.PopularKeys(-1))
	// b and c tie at zero hits; c was written last
	require.Equal(t, []KeyHits{{"a", 2}, {"c", 0}, {"b", 0}}, s.PopularKeys(10))
	require.Equal(t, []KeyHits{{"a", 2}}, s.PopularKeys(1))
}

func TestStore_StatsSizesAndExpired(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{})
	require.True(t, s.Set("a", "xyz", WithTTL(10*time.Second))) // `"xyz"` = 5 bytes
	require.True(t, s.Set("b", 12, WithTTL(time.Second)))       // `12` = 2 bytes
	advance(time.Second)

	st := s.Stats()
	require.Equal(t, 2, st.TotalKeys)
	require.Equal(t, int64(7), st.TotalSize)
	require.Equal(t, 1, st.ExpiredKeys)
	// expired b is left out of the average rather than counted as zero
	require.InDelta(t, 9.0, st.AverageTTL, 1e-9)
}

func TestConfig_DefaultsAndDisabling(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, DefaultCleanupInterval, cfg.CleanupInterval)
	require.Equal(t, DefaultMaxKeys, cfg.MaxKeys)
	require.Equal(t, int64(DefaultMaxSize), cfg.MaxSize)
	require.Equal(t, DefaultTTL, cfg.DefaultTTL)

	off := Config{CleanupInterval: -1, MaxKeys: -1, MaxSize: -1}.withDefaults()
	require.Equal(t, time.Duration(-1), off.CleanupInterval)
	require.Equal(t, -1, off.MaxKeys)
	require.Equal(t, int64(-1), off.MaxSize)
}

func TestStore_MaxKeysEvictsLeastRecentlyAccessed(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{MaxKeys: 2})
	require.True(t, s.Set("a", 1, WithTags("t")))
	advance(time.Second)
	require.True(t, s.Set("b", 1))
	advance(time.Second)
	s.Get("a")
	advance(time.Second)

	require.True(t, s.Set("c", 1))
	require.False(t, s.Exists("b"))
	require.True(t, s.Exists("a"))
	require.True(t, s.Exists("c"))
	require.Equal(t, uint64(1), s.Stats().Evictions)
	require.NoError(t, s.Verify())

	// overwriting an existing key never evicts
	require.True(t, s.Set("a", 2))
	require.Equal(t, 2, s.Len())
}

func TestStore_MaxKeysPrefersExpiredVictim(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{MaxKeys: 2})
	require.True(t, s.Set("old", 1))
	require.True(t, s.Set("short", 1, WithTTL(time.Second)))
	advance(time.Second)
	require.True(t, s.Set("new", 1))
	require.True(t, s.Exists("old"))
	require.Equal(t, uint64(0), s.Stats().Evictions)
}

func TestStore_MaxSize(t *testing.T) {
	advance := frozenClock(t)
	s := newTestStore(t, Config{MaxSize: 10})
	require.False(t, s.Set("huge", "this is far too long"))

	require.True(t, s.Set("a", "1234")) // 6 bytes
	advance(time.Second)
	require.True(t, s.Set("b", "1234")) // 6 bytes, pushes a out
	require.False(t, s.Exists("a"))
	require.True(t, s.Exists("b"))
	require.Equal(t, int64(6), s.Stats().TotalSize)
	require.NoError(t, s.Verify())
}

func TestStore_GetManySetMany(t *testing.T) {
	s := newTestStore(t, Config{})
	require.True(t, s.SetMany(map[string]any{"a": 1, "b": 2}, WithTags("batch")))
	require.False(t, s.SetMany(map[string]any{"c": 3, "bad": make(chan int)}))

	got := s.GetMany("a", "b", "c", "bad", "none")
	require.Len(t, got, 3)
	require.Equal(t, 2, s.InvalidateByTags("batch"))
}

func TestStore_TagInvariantUnderRandomOps(t *testing.T) {
	s := newTestStore(t, Config{MaxKeys: 8})
	keys := []string{"k1", "k2", "k3", "k4", "k5", "k6", "k7", "k8", "k9", "k10"}
	tagSets := [][]string{{"a"}, {"b"}, {"a", "b"}, {"c"}, nil}

	// deterministic pseudo-random walk
	x := uint32(2463534242)
	next := func(n int) int {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		return int(x % uint32(n))
	}
	for i := 0; i < 2000; i++ {
		key := keys[next(len(keys))]
		switch next(5) {
		case 0, 1:
			s.Set(key, i, WithTags(tagSets[next(len(tagSets))]...))
		case 2:
			s.Delete(key)
		case 3:
			s.InvalidateByTags(tagSets[next(len(tagSets)-1)]...)
		case 4:
			s.DeletePattern("k1*")
		}
		require.NoError(t, s.Verify(), "step %d", i)
	}
}

func TestStore_GetOrLoad(t *testing.T) {
	s := newTestStore(t, Config{})
	calls := 0
	load := func() (any, error) {
		calls++
		return "loaded", nil
	}
	v, err := GetOrLoad(s, "k", load, WithTags("t"))
	require.NoError(t, err)
	require.Equal(t, "loaded", v)
	v, err = GetOrLoad(s, "k", load)
	require.NoError(t, err)
	require.Equal(t, "loaded", v)
	require.Equal(t, 1, calls)

	_, err = GetOrLoad(s, "bad", func() (any, error) { return nil, errBoom })
	require.ErrorIs(t, err, errBoom)
	require.False(t, s.Exists("bad"))
}

func TestStore_GetOrLoadSharesConcurrentLoads(t *testing.T) {
	s := newTestStore(t, Config{})
	var calls atomic.Int32
	release := make(chan struct{})
	load := func() (any, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]any, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = GetOrLoad(s, "shared", load)
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for i, v := range results {
		require.NoError(t, errs[i])
		require.Equal(t, 42, v)
	}
}

func TestFinancialKey(t *testing.T) {
	require.Equal(t, "financial:metrics:S100ABC:2024:Q1", FinancialKey(KindMetrics, "S100ABC", "2024", "Q1"))
	require.Equal(t, "financial:document:S100ABC:", FinancialKey(KindDocument, "S100ABC"))
}

func TestStore_StrictInvariantPanics(t *testing.T) {
	s := newTestStore(t, Config{})
	require.True(t, s.Set("a", 1, WithTags("t")))

	// corrupt the index behind the store's back
	s.mu.Lock()
	delete(s.tags, "t")
	s.mu.Unlock()

	require.Error(t, s.Verify())
	require.Panics(t, func() { s.Delete("a") })
}

func TestStore_BackgroundSweep(t *testing.T) {
	s := NewStore[any](Config{CleanupInterval: 10 * time.Millisecond})
	defer s.Close()

	require.True(t, s.Set("k", 1, WithTTL(20*time.Millisecond)))
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)

	st := s.Stats()
	require.Zero(t, st.Misses, "sweeping is not a miss")
}

func TestStore_CloseIdempotent(t *testing.T) {
	s := NewStore[any](Config{CleanupInterval: time.Millisecond})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.True(t, s.Set("still", "usable"))
}

type countingObserver struct{ hits, misses, evicts, expires int }

func (o *countingObserver) Hit()    { o.hits++ }
func (o *countingObserver) Miss()   { o.misses++ }
func (o *countingObserver) Evict()  { o.evicts++ }
func (o *countingObserver) Expire() { o.expires++ }

func TestStore_Observer(t *testing.T) {
	advance := frozenClock(t)
	obs := &countingObserver{}
	s := NewStore[any](Config{CleanupInterval: -1, MaxKeys: 1}, WithObserver(obs))
	defer s.Close()

	s.Set("a", 1, WithTTL(time.Second))
	s.Get("a")
	s.Get("none")
	s.Set("b", 1) // evicts a
	s.Set("b", 1, WithTTL(time.Second))
	advance(time.Second)
	s.Get("b")

	require.Equal(t, 1, obs.hits)
	require.Equal(t, 2, obs.misses)
	require.Equal(t, 1, obs.evicts)
	require.Equal(t, 1, obs.expires)
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestStore_GetManyKeys(t *testing.T) {
	s := newTestStore(t, Config{})
	s.Set("x", 1)
	s.Set("y", 2)
	require.Equal(t, []string{"x", "y"}, sortedKeys(s.GetMany("y", "x", "z")))
}
