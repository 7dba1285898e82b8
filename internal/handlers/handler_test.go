package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"disclosure-cache-api/internal/auth"
	"disclosure-cache-api/internal/cache"
	"disclosure-cache-api/internal/middleware"
	"disclosure-cache-api/internal/models"
	"disclosure-cache-api/internal/realtime"
	"disclosure-cache-api/internal/storage"
	"disclosure-cache-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordedInvalidation struct {
	action   string
	affected int
}

type fakeRecorder struct {
	calls []recordedInvalidation
}

func (r *fakeRecorder) Invalidation(action string, affected int) {
	r.calls = append(r.calls, recordedInvalidation{action, affected})
}

type testEnv struct {
	db      *gorm.DB
	issuer  *auth.Issuer
	store   *cache.Store[any]
	hub     *realtime.Hub
	metrics *fakeRecorder
	router  *gin.Engine
	admin   string
	viewer  string
}

func newTestEnv(t *testing.T, files map[string]string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	_, err = testutil.CreateUser(db, "u-admin", "admin", "admin-pw", models.RoleAdmin)
	require.NoError(t, err)
	_, err = testutil.CreateUser(db, "u-viewer", "viewer", "viewer-pw", models.RoleViewer)
	require.NoError(t, err)

	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	env := &testEnv{
		db:      db,
		issuer:  testutil.TestIssuer(),
		store:   cache.NewStore[any](cache.Config{CleanupInterval: -1, StrictInvariants: true}),
		hub:     realtime.NewHub(nil),
		metrics: &fakeRecorder{},
	}
	t.Cleanup(func() { _ = env.store.Close() })

	h := New(Deps{
		DB:      db,
		Issuer:  env.issuer,
		Cache:   env.store,
		Storage: storage.NewOptimizer(storage.NewDirBucket(dir), storage.Config{}, nil),
		Hub:     env.hub,
		Metrics: env.metrics,
	})

	r := gin.New()
	r.POST("/api/login", h.Login)
	api := r.Group("/api", middleware.JWTAuthMiddleware(env.issuer))
	api.GET("/users", middleware.RequireRole(models.RoleAdmin), h.GetAllUsers)
	v1 := api.Group("/v1")
	v1.GET("/cache", h.GetCacheStats)
	v1.GET("/cache/audit", h.GetCacheAudits)
	v1.GET("/cache/events", h.CacheEvents)
	v1.DELETE("/cache", middleware.RequireRole(models.RoleAdmin), h.InvalidateCache)
	v1.POST("/cache", middleware.RequireRole(models.RoleAdmin), h.UpdateCache)
	v1.GET("/storage/preview", h.StoragePreview)
	v1.GET("/storage/files", h.StorageFiles)
	env.router = r

	env.admin, err = env.issuer.GenerateToken("u-admin", "admin", string(models.RoleAdmin))
	require.NoError(t, err)
	env.viewer, err = env.issuer.GenerateToken("u-viewer", "viewer", string(models.RoleViewer))
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(t *testing.T, method, target, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}
