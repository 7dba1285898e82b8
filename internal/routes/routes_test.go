package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"disclosure-cache-api/internal/cache"
	"disclosure-cache-api/internal/handlers"
	"disclosure-cache-api/internal/metrics"
	"disclosure-cache-api/internal/models"
	"disclosure-cache-api/internal/storage"
	"disclosure-cache-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *cache.Store[any]) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)

	m := metrics.New()
	store := cache.NewStore[any](cache.Config{CleanupInterval: -1}, cache.WithObserver(m))
	t.Cleanup(func() { _ = store.Close() })
	m.RegisterStats(store.Stats)

	issuer := testutil.TestIssuer()
	h := handlers.New(handlers.Deps{
		DB:      db,
		Issuer:  issuer,
		Cache:   store,
		Storage: storage.NewOptimizer(storage.NewDirBucket(t.TempDir()), storage.Config{}, nil),
		Metrics: m,
	})
	return SetupRoutes(Options{Handler: h, Issuer: issuer, Metrics: m.Handler()}), store
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, target := range []string{"/api/v1/cache", "/api/v1/cache/audit", "/api/v1/storage/files", "/api/users"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusUnauthorized, w.Code, target)
	}
}

func TestInvalidationShowsInMetrics(t *testing.T) {
	r, store := newTestRouter(t)
	store.Set("k", 1)

	token, err := testutil.TestIssuer().GenerateToken("u-1", "ops", string(models.RoleAdmin))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cache?action=clear_key&key=k", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.True(t, strings.Contains(body, `disclosure_cache_invalidations_total{action="clear_key"} 1`), body)
	require.Contains(t, body, "disclosure_cache_keys 0")
}
