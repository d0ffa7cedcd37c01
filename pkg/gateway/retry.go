package gateway

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RetryConfig holds the configuration for upstream retries.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration. The backoffs
// are short because a client is waiting on the other side of the gateway.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryTransport is an http.RoundTripper that retries idempotent requests
// without body on network errors and 502, 503 and 504 answers, with
// exponential backoff and jitter. Other requests get exactly one attempt.
type RetryTransport struct {
	// Base performs the round trips (default http.DefaultTransport)
	Base http.RoundTripper

	// Route labels metrics and logs
	Route string

	Config RetryConfig

	Logger zerolog.Logger
}

// NewRetryTransport creates a RetryTransport for route.
func NewRetryTransport(route string, base http.RoundTripper, cfg RetryConfig) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RetryTransport{
		Base:   base,
		Route:  route,
		Config: cfg,
		Logger: log.With().Str("component", "upstream").Str("route", route).Logger(),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempts := t.Config.MaxAttempts
	if attempts < 1 || !replayable(req) {
		attempts = 1
	}

	ctx := req.Context()
	backoff := t.Config.InitialBackoff
	logger := t.Logger.With().Str("method", req.Method).Str("path", req.URL.Path).Logger()

	for attempt := 1; ; attempt++ {
		resp, err := t.attempt(req)
		class := classify(resp, err)
		if class == "" || !shouldRetry(class, statusOf(resp)) {
			if attempt > 1 && err == nil {
				logger.Info().
					Int("attempt", attempt).
					Int("status_code", resp.StatusCode).
					Msg("Upstream answered after retry")
			}
			return resp, err
		}

		if attempt >= attempts {
			if attempts > 1 {
				retryExhaustedTotal.WithLabelValues(t.Route).Inc()
				logger.Warn().
					Str("error_class", string(class)).
					Int("max_attempts", attempts).
					Msg("Retry attempts exhausted")
			}
			if err != nil {
				return nil, &UpstreamError{
					Route:      t.Route,
					ErrorClass: class,
					Message:    fmt.Sprintf("%d attempt(s) failed", attempt),
					Err:        fmt.Errorf("%w: %w", ErrRetryExhausted, err),
				}
			}
			// relay the last answer as is
			return resp, nil
		}

		if resp != nil {
			// drain so the connection can be reused
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}

		retriesTotal.WithLabelValues(t.Route, string(class)).Inc()

		// ±20% jitter
		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		logger.Debug().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying upstream request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * t.Config.BackoffMultiplier)
		if backoff > t.Config.MaxBackoff {
			backoff = t.Config.MaxBackoff
		}
	}
}

func (t *RetryTransport) attempt(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)
	upstreamDuration.WithLabelValues(t.Route).Observe(time.Since(start).Seconds())

	status := strconv.Itoa(statusOf(resp))
	upstreamRequestsTotal.WithLabelValues(t.Route, status).Inc()
	if class := classify(resp, err); class != "" {
		upstreamErrorsTotal.WithLabelValues(t.Route, string(class)).Inc()
	}
	return resp, err
}

// replayable reports whether req can be sent again unchanged.
func replayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		return false
	}
	return req.Body == nil || req.Body == http.NoBody
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
