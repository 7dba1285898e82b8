// Package storage is a read-through cache in front of the Markdown document
// bucket: file sizes, contents, previews and folder listings.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"disclosure-cache-api/internal/cache"
	"disclosure-cache-api/internal/logging"
)

const (
	sizeTTL    = time.Hour
	previewTTL = 2 * time.Hour
	listTTL    = 15 * time.Minute

	DefaultContentTTL  = 30 * time.Minute
	DefaultMaxItems    = 100
	DefaultConcurrency = 5
	DefaultListLimit   = 100
)

// Config controls an Optimizer.
type Config struct {
	DefaultTTL time.Duration
	MaxItems   int
}

// ContentOptions adjusts FileContent.
type ContentOptions struct {
	MaxLength int // characters; 0 keeps the whole file
	NoCache   bool
	TTL       time.Duration
}

// Preview is the head of a file plus whether more of it exists.
type Preview struct {
	Preview     string `json:"preview"`
	TotalSize   int64  `json:"total_size"`
	IsTruncated bool   `json:"is_truncated"`
}

// Stats describes the optimizer's cache.
type Stats struct {
	TotalItems int       `json:"total_items"`
	TotalSize  int64     `json:"total_size"`
	HitRate    float64   `json:"hit_rate"`
	OldestItem time.Time `json:"oldest_item"`
	NewestItem time.Time `json:"newest_item"`
}

// Optimizer caches bucket reads.
type Optimizer struct {
	bucket Bucket
	cache  cache.Cache[string, any]
	log    *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewOptimizer wraps bucket with a bounded, concurrency-safe cache.
func NewOptimizer(bucket Bucket, cfg Config, log *zap.Logger) *Optimizer {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultContentTTL
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	return &Optimizer{
		bucket: bucket,
		cache: cache.NewSimpleCache[string, any](cache.Options{
			ConcurrencySafe: true,
			DefaultTTL:      cfg.DefaultTTL,
			MaxItems:        cfg.MaxItems,
		}),
		log: logging.OrNop(log).Named("storage"),
	}
}

func (o *Optimizer) lookup(key string) (any, bool) {
	v, ok := o.cache.Get(key)
	if ok {
		o.hits.Add(1)
	} else {
		o.misses.Add(1)
	}
	return v, ok
}

// FileSize returns the byte size of objectPath.
func (o *Optimizer) FileSize(ctx context.Context, objectPath string) (int64, error) {
	key := "size:" + objectPath
	if v, ok := o.lookup(key); ok {
		return v.(int64), nil
	}

	dir, name := path.Split(strings.TrimPrefix(objectPath, "/"))
	files, err := o.bucket.List(ctx, strings.TrimSuffix(dir, "/"), ListOptions{Search: name})
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		if f.Name == name {
			o.cache.Set(key, f.Size, sizeTTL)
			return f.Size, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", objectPath, ErrNotFound)
}

// FileContent returns the file text, cut to opts.MaxLength characters.
func (o *Optimizer) FileContent(ctx context.Context, objectPath string, opts ContentOptions) (string, error) {
	key := fmt.Sprintf("storage:%s:max=%d", objectPath, opts.MaxLength)
	if !opts.NoCache {
		if v, ok := o.lookup(key); ok {
			return v.(string), nil
		}
	}

	data, err := o.bucket.Download(ctx, objectPath)
	if err != nil {
		o.log.Warn("storage download failed", zap.String("path", objectPath), zap.Error(err))
		return "", err
	}
	content := truncateRunes(string(data), opts.MaxLength)

	if !opts.NoCache {
		o.cache.Set(key, content, opts.TTL)
	}
	return content, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// FilePreview returns the first length characters of a file.
func (o *Optimizer) FilePreview(ctx context.Context, objectPath string, length int) (*Preview, error) {
	if length <= 0 {
		length = 1000
	}
	key := fmt.Sprintf("preview:%s:%d", objectPath, length)
	if v, ok := o.lookup(key); ok {
		return v.(*Preview), nil
	}

	total, err := o.FileSize(ctx, objectPath)
	if err != nil {
		return nil, err
	}
	// previews are cached on their own key
	content, err := o.FileContent(ctx, objectPath, ContentOptions{MaxLength: length, NoCache: true})
	if err != nil {
		return nil, err
	}

	p := &Preview{
		Preview:     content,
		TotalSize:   total,
		IsTruncated: int64(len(content)) < total,
	}
	o.cache.Set(key, p, previewTTL)
	return p, nil
}

// MultipleFiles fetches paths with at most concurrency downloads in flight.
// A path that fails maps to nil.
func (o *Optimizer) MultipleFiles(ctx context.Context, paths []string, opts ContentOptions, concurrency int) map[string]*string {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	results := make(map[string]*string, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			content, err := o.FileContent(gctx, p, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[p] = nil
				return nil
			}
			results[p] = &content
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ListFiles lists a folder, defaulting to 100 entries sorted by name.
func (o *Optimizer) ListFiles(ctx context.Context, folder string, opts ListOptions) ([]FileInfo, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.SortBy == "" {
		opts.SortBy = SortByName
	}
	key := fmt.Sprintf("list:%s:%d:%d:%s", folder, opts.Limit, opts.Offset, opts.SortBy)
	if v, ok := o.lookup(key); ok {
		return v.([]FileInfo), nil
	}

	files, err := o.bucket.List(ctx, folder, opts)
	if err != nil {
		return nil, err
	}
	o.cache.Set(key, files, listTTL)
	return files, nil
}

// CacheStats reports the optimizer cache.
func (o *Optimizer) CacheStats() Stats {
	snap := o.cache.Snapshot()
	hits, misses := o.hits.Load(), o.misses.Load()
	st := Stats{
		TotalItems: snap.Items,
		TotalSize:  snap.Size,
		OldestItem: snap.Oldest,
		NewestItem: snap.Newest,
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}

// ClearCache drops entries whose key contains pattern, or everything when
// pattern is empty. It returns the number of entries dropped.
func (o *Optimizer) ClearCache(pattern string) int {
	if pattern == "" {
		n := o.cache.Snapshot().Items
		o.cache.Clear()
		o.hits.Store(0)
		o.misses.Store(0)
		return n
	}
	return o.cache.DeleteMatching(func(k string) bool { return strings.Contains(k, pattern) })
}

// CleanExpired removes expired cache entries and returns how many.
func (o *Optimizer) CleanExpired() int {
	return o.cache.PurgeExpired()
}
