package gateway

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/edge-cache-gateway/internal/testutil"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, open time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := NewBreaker("test", BreakerConfig{FailureThreshold: threshold, OpenDuration: open})
	b.now = clock.Now
	return b, clock
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
	assert.Equal(t, "open", BreakerOpen.String())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.Failure()
	}
	assert.Equal(t, BreakerClosed, b.State())

	require.True(t, b.Allow())
	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(2, time.Second)

	b.Failure()
	b.Success()
	b.Failure()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)

	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())

	clock.Advance(10 * time.Second)
	assert.Equal(t, BreakerHalfOpen, b.State())

	assert.True(t, b.Allow(), "first probe passes")
	assert.False(t, b.Allow(), "concurrent probe rejected")

	b.Success()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	clock.Advance(time.Second)
	require.True(t, b.Allow())
	b.Failure()

	assert.Equal(t, BreakerOpen, b.State())
	clock.Advance(500 * time.Millisecond)
	assert.False(t, b.Allow())
}

func TestBreaker_AbandonedProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)

	b.Failure()
	clock.Advance(time.Second)
	require.True(t, b.Allow())
	b.Abandon()

	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.True(t, b.Allow(), "next probe allowed")
}

func TestUpstream_BreakerServesFallbackWithoutUpstream(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()
	backend.SetResponse("/down", testutil.NewServerErrorResponse())

	proxy, err := NewUpstream(Route{
		Name:     "down",
		Upstream: mustURL(t, backend.URL()),
		Breaker:  BreakerConfig{FailureThreshold: 2, OpenDuration: time.Minute},
	}, fastUpstream())
	require.NoError(t, err)

	serve := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		proxy.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/down", nil))
		return w
	}

	// upstream 503s are relayed until the breaker opens
	for i := 0; i < 2; i++ {
		w := serve()
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Empty(t, w.Header().Get(FallbackHeader))
	}

	w := serve()
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "down", w.Header().Get(FallbackHeader))
	assert.Equal(t, 2, backend.GetPathCount("/down"))
}
