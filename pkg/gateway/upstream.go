// Package gateway routes requests by path prefix to upstream services
// through reverse proxies, retrying transient failures and answering with
// a fallback message when an upstream cannot be reached.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// FallbackHeader names the route whose fallback produced a response.
const FallbackHeader = "X-Gateway-Fallback"

// DefaultFallbackMessage is served on /fallback and by routes without a
// message of their own.
const DefaultFallbackMessage = "The authentication service is not responding right now. Please try again later."

// Route maps a path prefix to an upstream service. The request path is
// forwarded unchanged.
type Route struct {
	Name            string
	PathPrefix      string
	Upstream        *url.URL
	FallbackMessage string

	// Retries is the number of additional attempts for replayable requests.
	Retries int

	// Breaker opens the route after repeated upstream failures. The zero
	// value disables it.
	Breaker BreakerConfig
}

type upstreamOptions struct {
	transport     http.RoundTripper
	retry         RetryConfig
	flushInterval time.Duration
	logger        zerolog.Logger
}

// UpstreamOption configures NewUpstream.
type UpstreamOption func(*upstreamOptions)

// WithTransport sets the transport performing single attempts.
func WithTransport(rt http.RoundTripper) UpstreamOption {
	return func(o *upstreamOptions) { o.transport = rt }
}

// WithRetryConfig replaces the default backoff settings. MaxAttempts is
// always taken from Route.Retries.
func WithRetryConfig(cfg RetryConfig) UpstreamOption {
	return func(o *upstreamOptions) { o.retry = cfg }
}

// WithFlushInterval sets the reverse proxy flush interval. A negative
// value flushes after every write.
func WithFlushInterval(d time.Duration) UpstreamOption {
	return func(o *upstreamOptions) { o.flushInterval = d }
}

// WithLogger sets the logger used when a request carries none.
func WithLogger(logger zerolog.Logger) UpstreamOption {
	return func(o *upstreamOptions) { o.logger = logger }
}

// NewUpstream creates the reverse proxy for route.
func NewUpstream(route Route, opts ...UpstreamOption) (*httputil.ReverseProxy, error) {
	if route.Upstream == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoUpstream, route.Name)
	}
	if route.Retries < 0 {
		return nil, fmt.Errorf("route %s: retries must be >= 0 (got %d)", route.Name, route.Retries)
	}

	o := upstreamOptions{
		retry:  DefaultRetryConfig(),
		logger: log.With().Str("component", "upstream").Str("route", route.Name).Logger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.retry.MaxAttempts = route.Retries + 1

	retry := NewRetryTransport(route.Name, o.transport, o.retry)
	retry.Logger = o.logger

	var transport http.RoundTripper = retry
	if route.Breaker.FailureThreshold > 0 {
		transport = &breakerTransport{next: retry, breaker: NewBreaker(route.Name, route.Breaker)}
	}
	target := route.Upstream

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport:     transport,
		FlushInterval: o.flushInterval,
		ErrorHandler:  fallbackHandler(route, o.logger),
	}, nil
}

// fallbackHandler answers requests whose upstream round trip failed.
func fallbackHandler(route Route, fallbackLogger zerolog.Logger) func(http.ResponseWriter, *http.Request, error) {
	message := route.FallbackMessage
	if message == "" {
		message = DefaultFallbackMessage
	}

	return func(w http.ResponseWriter, r *http.Request, err error) {
		logger := hlog.FromRequest(r)
		if logger.GetLevel() == zerolog.Disabled {
			logger = &fallbackLogger
		}

		if errors.Is(err, context.Canceled) || errors.Is(r.Context().Err(), context.Canceled) {
			logger.Debug().Err(err).Str("route", route.Name).Msg("Client went away before upstream answered")
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		fallbacksTotal.WithLabelValues(route.Name).Inc()
		logger.Warn().
			Err(err).
			Str("route", route.Name).
			Str("upstream", route.Upstream.String()).
			Msg("Upstream unavailable, serving fallback")

		writeFallback(w, route.Name, message)
	}
}

func writeFallback(w http.ResponseWriter, route, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(FallbackHeader, route)
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, message)
}

// FallbackHandler serves message the way a failing route does.
func FallbackHandler(message string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFallback(w, "fallback", message)
	})
}

// IsFallback reports whether a response was produced by a fallback.
func IsFallback(status int, header http.Header) bool {
	return status == http.StatusServiceUnavailable && header.Get(FallbackHeader) != ""
}

// Cacheable is the cache filter predicate for gateway routes. Fallbacks
// and upstream server errors are never stored, so an outage is not
// replayed once the upstream recovers.
func Cacheable(status int, header http.Header) bool {
	return !IsFallback(status, header) && status < http.StatusInternalServerError
}
