package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned while a route's breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit open")

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_breaker_state",
		Help: "Circuit breaker state by route (0 closed, 1 half-open, 2 open)",
	}, []string{"route"})

	breakerRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_breaker_rejections_total",
		Help: "Requests rejected by an open circuit breaker, by route",
	}, []string{"route"})
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every request through.
	BreakerClosed BreakerState = iota

	// BreakerHalfOpen lets a single probe through after the open period.
	BreakerHalfOpen

	// BreakerOpen rejects requests until the open period has passed.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	default:
		return "closed"
	}
}

// BreakerConfig configures a route's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed round trips
	// that opens the breaker. Zero disables the breaker.
	FailureThreshold int

	// OpenDuration is how long an open breaker rejects requests before
	// letting a probe through.
	OpenDuration time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenDuration:     10 * time.Second,
	}
}

// Breaker tracks upstream health for one route and gates requests.
// Failures are network errors and 502, 503 or 504 answers after retries.
type Breaker struct {
	mu       sync.Mutex
	route    string
	cfg      BreakerConfig
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	now    func() time.Time
	logger zerolog.Logger
}

// NewBreaker creates a closed breaker for route.
func NewBreaker(route string, cfg BreakerConfig) *Breaker {
	b := &Breaker{
		route:  route,
		cfg:    cfg,
		now:    time.Now,
		logger: log.With().Str("component", "breaker").Str("route", route).Logger(),
	}
	breakerState.WithLabelValues(route).Set(float64(BreakerClosed))
	return b
}

// State returns the current state, moving from open to half-open once the
// open period has passed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Allow reports whether a request may go upstream. In half-open state
// only the first caller is let through until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case BreakerOpen:
		breakerRejectionsTotal.WithLabelValues(b.route).Inc()
		return false
	case BreakerHalfOpen:
		if b.probing {
			breakerRejectionsTotal.WithLabelValues(b.route).Inc()
			return false
		}
		b.probing = true
	}
	return true
}

// Success records a healthy round trip.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != BreakerClosed {
		b.logger.Info().Msg("Upstream recovered, closing circuit")
		b.setState(BreakerClosed)
	}
}

// Failure records a failed round trip.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	wasProbe := b.probing
	b.probing = false

	if wasProbe || b.failures >= b.cfg.FailureThreshold {
		if b.state != BreakerOpen {
			b.logger.Error().
				Int("failures", b.failures).
				Dur("open_for", b.cfg.OpenDuration).
				Msg("Upstream failing, opening circuit")
		}
		b.openedAt = b.now()
		b.setState(BreakerOpen)
	}
}

// Abandon releases a half-open probe whose outcome says nothing about the
// upstream, e.g. a client that went away.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) advance() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenDuration {
		b.setState(BreakerHalfOpen)
	}
}

func (b *Breaker) setState(s BreakerState) {
	b.state = s
	breakerState.WithLabelValues(b.route).Set(float64(s))
}

// breakerTransport consults breaker around every round trip of next.
type breakerTransport struct {
	next    http.RoundTripper
	breaker *Breaker
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.breaker.Allow() {
		return nil, &UpstreamError{
			Route:      t.breaker.route,
			ErrorClass: ErrorClassNetwork,
			Message:    "upstream marked unavailable",
			Err:        ErrCircuitOpen,
		}
	}

	resp, err := t.next.RoundTrip(req)
	switch {
	case errors.Is(err, ErrContextCancelled) || errors.Is(err, context.Canceled):
		t.breaker.Abandon()
	case shouldRetry(classify(resp, err), statusOf(resp)):
		t.breaker.Failure()
	default:
		t.breaker.Success()
	}
	return resp, err
}
