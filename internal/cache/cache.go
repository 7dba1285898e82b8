// Package cache holds the process-wide TTL cache (Store) with tag and glob
// invalidation, and a lighter map-backed SimpleCache used by the storage
// optimizer.
package cache

import "time"

// Cache defines a minimal key-value cache API with optional TTL per entry.
// Implementations may or may not be goroutine-safe depending on configuration.
type Cache[K comparable, V any] interface {
	// Get returns the value and whether it was present and not expired.
	Get(key K) (V, bool)

	// Set stores the value. If ttl <= 0 the implementation default applies.
	Set(key K, value V, ttl time.Duration)

	// Delete removes a key if present.
	Delete(key K)

	// Has reports whether a key is present and not expired.
	Has(key K) bool

	// Len returns the number of non-expired items currently stored.
	Len() int

	// Clear removes all entries.
	Clear()

	// DeleteMatching removes every key for which match returns true.
	DeleteMatching(match func(K) bool) int

	// PurgeExpired scans and removes expired entries, returning the count.
	PurgeExpired() int

	// Snapshot reports item count, approximate size and age bounds.
	Snapshot() SimpleStats
}
