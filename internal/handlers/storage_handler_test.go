package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"disclosure-cache-api/internal/cache"

	"github.com/stretchr/testify/require"
)

func TestStoragePreview_CachesUnderCompanyTag(t *testing.T) {
	body := strings.Repeat("x", 40)
	env := newTestEnv(t, map[string]string{"S100ABC/2024.md": body})

	w, resp := env.do(t, http.MethodGet, "/api/v1/storage/preview?path=S100ABC/2024.md&length=10", env.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := resp["data"].(map[string]any)
	require.Equal(t, strings.Repeat("x", 10), data["preview"])
	require.Equal(t, true, data["is_truncated"])
	require.Equal(t, float64(40), data["total_size"])

	key := cache.FinancialKey(cache.KindDocument, "S100ABC", "S100ABC/2024.md", "10")
	require.True(t, env.store.Exists(key))

	w, _ = env.do(t, http.MethodGet, "/api/v1/storage/preview?path=S100ABC/2024.md&length=10", env.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []cache.KeyHits{{Key: key, Hits: 1}}, env.store.PopularKeys(1))

	w, resp = env.do(t, http.MethodDelete, "/api/v1/cache?action=clear_tags&tags=S100ABC", env.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), resp["affected_items"])
	require.False(t, env.store.Exists(key))
}

func TestStoragePreview_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	w, resp := env.do(t, http.MethodGet, "/api/v1/storage/preview", env.viewer, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "path is required", resp["error"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/storage/preview?path=a.md&length=0", env.viewer, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/v1/storage/preview?path=S1/missing.md", env.viewer, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, 0, env.store.Len())
}

func TestStorageFiles(t *testing.T) {
	env := newTestEnv(t, map[string]string{"S1/b.md": "b", "S1/a.md": "a", "S1/c.md": "c"})

	w, resp := env.do(t, http.MethodGet, "/api/v1/storage/files?folder=S1&limit=2", env.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(2), resp["count"])
	files := resp["files"].([]any)
	require.Equal(t, "a.md", files[0].(map[string]any)["name"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/storage/files?folder=S1&sort=size", env.viewer, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/v1/storage/files?folder=S1&offset=x", env.viewer, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/v1/storage/files?folder=nope", env.viewer, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStoragePreview_LoadSurvivesCallerCancel(t *testing.T) {
	env := newTestEnv(t, map[string]string{"S100ABC/2024.md": "body"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/storage/preview?path=S100ABC/2024.md", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+env.viewer)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	key := cache.FinancialKey(cache.KindDocument, "S100ABC", "S100ABC/2024.md", "1000")
	require.True(t, env.store.Exists(key))
}
