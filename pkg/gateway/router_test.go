package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/edge-cache-gateway/internal/testutil"
)

func TestNewRouter_RequiresRoutes(t *testing.T) {
	_, err := NewRouter(nil, nil)
	assert.Error(t, err)

	_, err = NewRouter([]Route{{Name: "broken"}}, nil)
	assert.ErrorIs(t, err, ErrNoUpstream)
}

func TestRouter_PrefixMatching(t *testing.T) {
	auth := testutil.NewMockBackend()
	defer auth.Close()
	users := testutil.NewMockBackend()
	defer users.Close()

	mux, err := NewRouter([]Route{
		{Name: "auth", PathPrefix: "/api/v1/auth", Upstream: mustURL(t, auth.URL())},
		{Name: "users", PathPrefix: "/api/v1/users/", Upstream: mustURL(t, users.URL())},
	}, nil)
	require.NoError(t, err)

	for _, path := range []string{"/api/v1/auth", "/api/v1/auth/login", "/api/v1/auth/a/b"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/users/42", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 3, auth.GetRequestCount())
	assert.Equal(t, 1, users.GetRequestCount())

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_MiddlewaresWrapRoutesOnly(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()

	var wrapped []string
	mark := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped = append(wrapped, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	mux, err := NewRouter([]Route{
		{Name: "auth", PathPrefix: "/api/v1/auth", Upstream: mustURL(t, backend.URL())},
	}, []func(http.Handler) http.Handler{mark})
	require.NoError(t, err)

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fallback", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, DefaultFallbackMessage, w.Body.String())

	assert.Equal(t, []string{"/api/v1/auth/me"}, wrapped)
}
