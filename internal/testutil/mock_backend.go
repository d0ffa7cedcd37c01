// Package testutil provides test doubles for the gateway.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock backend endpoint.
type MockResponse struct {
	StatusCode int
	Headers    map[string]string

	// Chunks are written in order, each followed by a flush.
	Chunks []string

	// Delay is waited before the status line is sent.
	Delay time.Duration
}

// MockBackend is a configurable backend service for gateway tests.
type MockBackend struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	RequestCount    int
	RequestsPerPath map[string]int
	LastRequest     *http.Request
}

// NewMockBackend starts a mock backend. Unconfigured paths answer
// 200 {"status":"ok"}.
func NewMockBackend() *MockBackend {
	mock := &MockBackend{
		handlers:        make(map[string]http.HandlerFunc),
		RequestsPerPath: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.RequestsPerPath[r.URL.Path]++
		mock.LastRequest = r.Clone(r.Context())
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the backend base URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Close shuts down the backend.
func (m *MockBackend) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.RequestsPerPath = make(map[string]int)
	m.LastRequest = nil
}

// SetHandler sets a custom handler for path.
func (m *MockBackend) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for path.
func (m *MockBackend) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)

		for _, chunk := range resp.Chunks {
			if _, err := w.Write([]byte(chunk)); err != nil {
				return
			}
			http.NewResponseController(w).Flush()
		}
	})
}

// SetBlocking makes path wait for release to be closed before answering
// with resp. started receives one value per request that reached the
// handler.
func (m *MockBackend) SetBlocking(path string, resp MockResponse, started chan<- struct{}, release <-chan struct{}) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		for _, chunk := range resp.Chunks {
			_, _ = w.Write([]byte(chunk))
		}
	})
}

// GetRequestCount returns the number of requests received.
func (m *MockBackend) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests received for path.
func (m *MockBackend) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestsPerPath[path]
}

// GetLastRequest returns a copy of the most recent request.
func (m *MockBackend) GetLastRequest() *http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequest
}

func (m *MockBackend) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// NewTextResponse creates a 200 text/plain response of body.
func NewTextResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Chunks:     []string{body},
		Headers: map[string]string{
			"Content-Type": "text/plain",
		},
	}
}

// NewChunkedResponse creates a 200 response streamed as chunks.
func NewChunkedResponse(chunks ...string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Chunks:     chunks,
		Headers: map[string]string{
			"Content-Type": "text/plain",
		},
	}
}

// NewServerErrorResponse creates a 503 Service Unavailable response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Chunks:     []string{`{"error": "service unavailable"}`},
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewFlakyHandler fails the first failures requests with status and then
// answers with resp.
func NewFlakyHandler(failures, status int, resp MockResponse) http.HandlerFunc {
	var mu sync.Mutex
	calls := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n <= failures {
			w.WriteHeader(status)
			return
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		for _, chunk := range resp.Chunks {
			_, _ = w.Write([]byte(chunk))
		}
	}
}
