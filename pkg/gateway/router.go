package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// NewRouter mounts a reverse proxy for every route behind middlewares,
// typically the cache filter, and serves DefaultFallbackMessage on
// /fallback outside of them. Routes are matched by path prefix.
func NewRouter(routes []Route, middlewares []func(http.Handler) http.Handler, opts ...UpstreamOption) (*chi.Mux, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("at least one route is required")
	}

	mux := chi.NewRouter()
	mux.Handle("/fallback", FallbackHandler(DefaultFallbackMessage))

	var mountErr error
	mux.Group(func(g chi.Router) {
		g.Use(middlewares...)

		for _, route := range routes {
			proxy, err := NewUpstream(route, opts...)
			if err != nil {
				mountErr = err
				return
			}

			prefix := strings.TrimSuffix(route.PathPrefix, "/")
			if prefix == "" {
				g.Handle("/*", proxy)
				continue
			}
			g.Handle(prefix, proxy)
			g.Handle(prefix+"/*", proxy)
		}
	})
	if mountErr != nil {
		return nil, mountErr
	}

	return mux, nil
}
