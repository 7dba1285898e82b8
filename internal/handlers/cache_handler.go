package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"disclosure-cache-api/internal/cache"
	"disclosure-cache-api/internal/models"
	"disclosure-cache-api/internal/realtime"
	"disclosure-cache-api/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPopularLimit = 10
	matchingKeysLimit   = 50
	defaultAuditLimit   = 50
	maxAuditLimit       = 500
)

func megabytes(n int64) string {
	return fmt.Sprintf("%.2f", float64(n)/1024/1024)
}

func percentage(rate float64) string {
	return fmt.Sprintf("%.2f", rate*100)
}

func ageMinutes(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return int64(time.Since(t) / time.Minute)
}

func cacheStatsJSON(st cache.Stats) gin.H {
	return gin.H{
		"total_keys":          st.TotalKeys,
		"total_size":          st.TotalSize,
		"hits":                st.Hits,
		"misses":              st.Misses,
		"hit_rate":            st.HitRate,
		"expired_keys":        st.ExpiredKeys,
		"average_ttl":         st.AverageTTL,
		"evictions":           st.Evictions,
		"size_mb":             megabytes(st.TotalSize),
		"hit_rate_percentage": percentage(st.HitRate),
	}
}

func storageStatsJSON(st storage.Stats) gin.H {
	return gin.H{
		"total_items":             st.TotalItems,
		"total_size":              st.TotalSize,
		"hit_rate":                st.HitRate,
		"oldest_item":             st.OldestItem,
		"newest_item":             st.NewestItem,
		"total_size_mb":           megabytes(st.TotalSize),
		"oldest_item_age_minutes": ageMinutes(st.OldestItem),
		"newest_item_age_minutes": ageMinutes(st.NewestItem),
	}
}

// GetCacheStats reports cache and storage statistics, then sweeps expired entries
// GET /api/v1/cache?include_keys=true&pattern=*&popular_limit=10
func (h *Handler) GetCacheStats(c *gin.Context) {
	includeKeys := c.Query("include_keys") == "true"
	pattern := c.DefaultQuery("pattern", "*")
	popularLimit := defaultPopularLimit
	if v := c.Query("popular_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, "popular_limit must be an integer")
			return
		}
		popularLimit = n
	}

	stats := h.cache.Stats()
	popular := h.cache.PopularKeys(popularLimit)

	var matching gin.H
	if includeKeys {
		keys := h.cache.Keys(pattern)
		shown := keys
		if len(shown) > matchingKeysLimit {
			shown = shown[:matchingKeysLimit]
		}
		matching = gin.H{
			"pattern": pattern,
			"count":   len(keys),
			"keys":    shown,
		}
	}

	storageStats := h.storage.CacheStats()
	expired := h.cache.Cleanup()

	cacheStats := cacheStatsJSON(stats)
	cacheStats["expired_cleaned"] = expired

	resp := gin.H{
		"success":                 true,
		"cache_stats":             cacheStats,
		"storage_optimizer_stats": storageStatsJSON(storageStats),
		"popular_keys":            popular,
		"matching_keys":           nil,
	}
	if matching != nil {
		resp["matching_keys"] = matching
	}
	c.JSON(http.StatusOK, resp)
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// InvalidateCache clears cache entries by action
// DELETE /api/v1/cache?action=clear_all|clear_expired|clear_pattern|clear_tags|clear_key
func (h *Handler) InvalidateCache(c *gin.Context) {
	action := models.CacheAction(c.DefaultQuery("action", string(models.ActionClearExpired)))
	result := gin.H{
		"success": true,
		"action":  action,
	}

	var affected int
	var target string
	switch action {
	case models.ActionClearAll:
		affected = h.cache.Len()
		h.cache.Clear()
		affected += h.storage.ClearCache("")
		result["message"] = "All caches cleared"

	case models.ActionClearExpired:
		affected = h.cache.Cleanup() + h.storage.CleanExpired()
		result["message"] = fmt.Sprintf("%d expired items cleared", affected)

	case models.ActionClearPattern:
		pattern := c.Query("pattern")
		if pattern == "" {
			badRequest(c, "Pattern is required for pattern-based clearing")
			return
		}
		affected = h.cache.DeletePattern(pattern)
		h.storage.ClearCache(pattern)
		target = pattern
		result["pattern"] = pattern
		result["message"] = fmt.Sprintf("%d items matching '%s' cleared", affected, pattern)

	case models.ActionClearTags:
		tags := splitTags(c.Query("tags"))
		if len(tags) == 0 {
			badRequest(c, "Tags are required for tag-based clearing")
			return
		}
		affected = h.cache.InvalidateByTags(tags...)
		target = strings.Join(tags, ",")
		result["tags"] = tags
		result["message"] = fmt.Sprintf("%d items with tags [%s] cleared", affected, strings.Join(tags, ", "))

	case models.ActionClearKey:
		key := c.Query("key")
		if key == "" {
			badRequest(c, "Key is required for key-based clearing")
			return
		}
		if h.cache.Delete(key) {
			affected = 1
			result["message"] = fmt.Sprintf("Key '%s' cleared", key)
		} else {
			result["message"] = fmt.Sprintf("Key '%s' not found", key)
		}
		target = key
		result["key"] = key

	default:
		badRequest(c, fmt.Sprintf("Unknown action: %s. Valid actions: clear_all, clear_expired, clear_pattern, clear_tags, clear_key", action))
		return
	}

	result["affected_items"] = affected
	after := h.cache.Stats()
	result["cache_stats_after"] = gin.H{
		"total_keys":          after.TotalKeys,
		"total_size_mb":       megabytes(after.TotalSize),
		"hit_rate_percentage": percentage(after.HitRate),
	}

	h.recordInvalidation(c, action, target, affected)
	c.JSON(http.StatusOK, result)
}

// recordInvalidation persists an audit row, counts the request and notifies
// subscribers. Failures are logged; the invalidation itself already happened.
func (h *Handler) recordInvalidation(c *gin.Context, action models.CacheAction, target string, affected int) {
	userID := c.GetString("user_id")
	audit := models.CacheAudit{
		ID:            uuid.NewString(),
		Action:        action,
		Target:        target,
		AffectedItems: affected,
		UserID:        userID,
	}
	if h.db != nil {
		if err := h.db.WithContext(c.Request.Context()).Create(&audit).Error; err != nil {
			h.log.Error("write cache audit", zap.String("action", string(action)), zap.Error(err))
		}
	}
	if h.metrics != nil {
		h.metrics.Invalidation(string(action), affected)
	}
	h.hub.Publish(realtime.Event{
		Type:          realtime.EventCacheInvalidated,
		Action:        string(action),
		Target:        target,
		AffectedItems: affected,
		UserID:        userID,
	})
	h.log.Info("cache invalidated",
		zap.String("action", string(action)),
		zap.String("target", target),
		zap.Int("affected_items", affected),
		zap.String("user_id", userID),
	)
}

// CacheRequest is the POST /api/v1/cache payload
type CacheRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// CacheItem is one key written through the API. TTL is in seconds.
type CacheItem struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	TTL   *int64          `json:"ttl"`
	Tags  []string        `json:"tags"`
}

func (it CacheItem) hasValue() bool {
	return len(it.Value) > 0 && !bytes.Equal(it.Value, []byte("null"))
}

func (it CacheItem) setOptions() []cache.SetOption {
	var opts []cache.SetOption
	if it.TTL != nil {
		opts = append(opts, cache.WithTTL(time.Duration(*it.TTL)*time.Second))
	}
	if len(it.Tags) > 0 {
		opts = append(opts, cache.WithTags(it.Tags...))
	}
	return opts
}

func (h *Handler) storeItem(it CacheItem) bool {
	var value any
	if err := json.Unmarshal(it.Value, &value); err != nil {
		return false
	}
	return h.cache.Set(it.Key, value, it.setOptions()...)
}

// UpdateCache writes to the cache
// POST /api/v1/cache {"action": "preload"|"set"|"extend_ttl", "data": ...}
func (h *Handler) UpdateCache(c *gin.Context) {
	var req CacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	result := gin.H{
		"success": true,
		"action":  req.Action,
	}

	switch req.Action {
	case "preload":
		var items []CacheItem
		if len(req.Data) == 0 || json.Unmarshal(req.Data, &items) != nil {
			badRequest(c, "Data array is required for preloading")
			return
		}
		preloaded := 0
		for _, it := range items {
			if it.Key == "" || !it.hasValue() {
				continue
			}
			if h.storeItem(it) {
				preloaded++
			}
		}
		result["preloaded_items"] = preloaded
		result["message"] = fmt.Sprintf("%d items preloaded", preloaded)

	case "set":
		var it CacheItem
		if len(req.Data) == 0 || json.Unmarshal(req.Data, &it) != nil || it.Key == "" || len(it.Value) == 0 {
			badRequest(c, "Key and value are required")
			return
		}
		ok := h.storeItem(it)
		result["success"] = ok
		result["key"] = it.Key
		if ok {
			result["message"] = "Key set successfully"
		} else {
			result["message"] = "Failed to set key"
		}

	case "extend_ttl":
		var it CacheItem
		if len(req.Data) == 0 || json.Unmarshal(req.Data, &it) != nil || it.Key == "" || it.TTL == nil || *it.TTL == 0 {
			badRequest(c, "Key and TTL are required")
			return
		}
		ok := h.cache.Expire(it.Key, time.Duration(*it.TTL)*time.Second)
		result["success"] = ok
		result["key"] = it.Key
		result["new_ttl"] = *it.TTL
		if ok {
			result["message"] = "TTL extended successfully"
		} else {
			result["message"] = "Key not found or expired"
		}

	default:
		badRequest(c, fmt.Sprintf("Unknown action: %s. Valid actions: preload, set, extend_ttl", req.Action))
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetCacheAudits lists the most recent invalidations, newest first
// GET /api/v1/cache/audit?limit=50
func (h *Handler) GetCacheAudits(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Audit log is not configured",
		})
		return
	}

	limit := defaultAuditLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	query := h.db.WithContext(c.Request.Context()).Order("created_at desc").Limit(limit)
	if action := c.Query("action"); action != "" {
		query = query.Where("action = ?", action)
	}

	var audits []models.CacheAudit
	if err := query.Find(&audits).Error; err != nil {
		internalError(c, "Failed to fetch cache audits", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"audits": audits,
		"count":  len(audits),
	})
}
