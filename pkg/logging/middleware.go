package logging

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Middleware returns the handler chain that puts logger into every request
// context, assigns a request id and writes one access line per request.
// Handlers retrieve the request logger with hlog.FromRequest.
func Middleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	withLogger := hlog.NewHandler(logger)
	// no header name: the id stays out of the response headers and so out
	// of cached records
	withID := hlog.RequestIDHandler("req_id", "")
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	})

	return func(next http.Handler) http.Handler {
		return withLogger(withID(access(next)))
	}
}
