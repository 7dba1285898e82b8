package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"disclosure-cache-api/internal/cache"
	"disclosure-cache-api/internal/storage"

	"github.com/gin-gonic/gin"
)

const (
	defaultPreviewLength = 1000
	documentTTL          = 2 * time.Hour
)

// companyOf returns the first path segment, which names the filing company.
func companyOf(objectPath string) string {
	p := strings.TrimPrefix(objectPath, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

func (h *Handler) storageError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "File not found",
		})
		return
	}
	internalError(c, "Failed to read storage", err)
}

// StoragePreview returns the head of a disclosure document. Previews are
// cached under the document's company tag so clear_tags can drop them.
// GET /api/v1/storage/preview?path=S100ABC/2024.md&length=1000
func (h *Handler) StoragePreview(c *gin.Context) {
	objectPath := c.Query("path")
	if objectPath == "" {
		badRequest(c, "path is required")
		return
	}
	length := defaultPreviewLength
	if v := c.Query("length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "length must be a positive integer")
			return
		}
		length = n
	}

	company := companyOf(objectPath)
	key := cache.FinancialKey(cache.KindDocument, company, objectPath, strconv.Itoa(length))
	// the load is shared with concurrent callers, so one client leaving must not cancel it
	loadCtx := context.WithoutCancel(c.Request.Context())
	preview, err := cache.GetOrLoad(h.cache, key, func() (any, error) {
		return h.storage.FilePreview(loadCtx, objectPath, length)
	}, cache.WithTTL(documentTTL), cache.WithTags(company, cache.KindDocument))
	if err != nil {
		h.storageError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"path":    objectPath,
		"data":    preview,
	})
}

// StorageFiles lists one folder of the bucket
// GET /api/v1/storage/files?folder=S100ABC&limit=100&offset=0&sort=name
func (h *Handler) StorageFiles(c *gin.Context) {
	opts := storage.ListOptions{
		SortBy: c.DefaultQuery("sort", storage.SortByName),
		Search: c.Query("search"),
	}
	if opts.SortBy != storage.SortByName && opts.SortBy != storage.SortByUpdatedAt {
		badRequest(c, "sort must be one of: name, updated_at")
		return
	}
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	folder := c.Query("folder")
	files, err := h.storage.ListFiles(c.Request.Context(), folder, opts)
	if err != nil {
		h.storageError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"folder":  folder,
		"files":   files,
		"count":   len(files),
	})
}
