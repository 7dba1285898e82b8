package cache

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTTL             = time.Hour
	DefaultCleanupInterval = 5 * time.Minute
	DefaultMaxKeys         = 1000
	DefaultMaxSize         = 50 * 1024 * 1024
)

// NoExpiration is what TTL reports for an entry with no expiry.
const NoExpiration time.Duration = -1

// Config controls a Store. Zero values take the package defaults; negative
// values for CleanupInterval, MaxKeys and MaxSize disable the feature.
type Config struct {
	// DefaultTTL applies to Set calls without WithTTL.
	DefaultTTL time.Duration

	// CleanupInterval is the period of the background sweep.
	CleanupInterval time.Duration

	// MaxKeys bounds the number of entries; at the bound the
	// least-recently-accessed entry is evicted to make room.
	MaxKeys int

	// MaxSize bounds the sum of serialized value sizes in bytes.
	MaxSize int64

	// StrictInvariants panics on an index inconsistency instead of logging it.
	StrictInvariants bool
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.MaxKeys == 0 {
		c.MaxKeys = DefaultMaxKeys
	}
	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}
	return c
}

// Option configures a Store at construction.
type Option func(*storeOptions)

type storeOptions struct {
	log *zap.Logger
	obs Observer
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *storeOptions) { o.log = l }
}

// WithObserver registers hooks for hit/miss/eviction/expiration events.
func WithObserver(obs Observer) Option {
	return func(o *storeOptions) { o.obs = obs }
}

// SetOption adjusts a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl      time.Duration
	noExpiry bool
	tags     []string
}

// WithTTL sets the entry lifetime. A non-positive ttl makes Set fail.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = ttl }
}

// WithoutExpiry stores an entry that never expires.
func WithoutExpiry() SetOption {
	return func(o *setOptions) { o.noExpiry = true }
}

// WithTags labels the entry for InvalidateByTags.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) { o.tags = append(o.tags, tags...) }
}

// Observer receives cache events. Calls happen with the store lock held and
// must not call back into the store.
type Observer interface {
	Hit()
	Miss()
	Evict()
	Expire()
}

type noopObserver struct{}

func (noopObserver) Hit()    {}
func (noopObserver) Miss()   {}
func (noopObserver) Evict()  {}
func (noopObserver) Expire() {}
