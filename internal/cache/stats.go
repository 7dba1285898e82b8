package cache

import "sort"

// Stats is a point-in-time view of the store.
type Stats struct {
	TotalKeys   int     `json:"total_keys"`
	TotalSize   int64   `json:"total_size"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	ExpiredKeys int     `json:"expired_keys"`
	AverageTTL  float64 `json:"average_ttl"` // seconds remaining, over entries that expire
	Evictions   uint64  `json:"evictions"`
}

// KeyHits is one row of PopularKeys.
type KeyHits struct {
	Key  string `json:"key"`
	Hits uint64 `json:"hits"`
}

// Stats rescans the entries for sizes and counts; only hits, misses and
// evictions come from counters.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	st := Stats{
		TotalKeys: len(s.entries),
		Hits:      s.hits,
		Misses:    s.misses,
		HitRate:   hitRate(s.hits, s.misses),
		Evictions: s.evictions,
	}
	var remaining float64
	var expiring int
	for _, e := range s.entries {
		st.TotalSize += e.size
		if e.expired(ts) {
			st.ExpiredKeys++
			continue
		}
		if !e.expiresAt.IsZero() {
			remaining += e.expiresAt.Sub(ts).Seconds()
			expiring++
		}
	}
	if expiring > 0 {
		st.AverageTTL = remaining / float64(expiring)
	}
	return st
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	r := float64(hits) / float64(total)
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// PopularKeys returns up to limit live keys by access count, most accessed
// first; ties go to the most recently written key.
func (s *Store[V]) PopularKeys(limit int) []KeyHits {
	if limit <= 0 {
		return []KeyHits{}
	}

	s.mu.Lock()
	live := make([]*entry[V], 0, len(s.entries))
	ts := now()
	for _, e := range s.entries {
		if !e.expired(ts) {
			live = append(live, e)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].accessCount != live[j].accessCount {
			return live[i].accessCount > live[j].accessCount
		}
		return live[i].seq > live[j].seq
	})
	if len(live) > limit {
		live = live[:limit]
	}
	out := make([]KeyHits, len(live))
	for i, e := range live {
		out[i] = KeyHits{Key: e.key, Hits: e.accessCount}
	}
	s.mu.Unlock()
	return out
}
