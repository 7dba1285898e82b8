package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetAllUsers(t *testing.T) {
	env := newTestEnv(t, nil)

	w, resp := env.do(t, http.MethodGet, "/api/users", env.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(2), resp["count"])
	users := resp["users"].([]any)
	first := users[0].(map[string]any)
	require.Equal(t, "admin", first["username"])
	require.NotContains(t, first, "password_hash")

	w, _ = env.do(t, http.MethodGet, "/api/users", env.viewer, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}
