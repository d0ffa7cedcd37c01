package gateway

import (
	"errors"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		err      error
		expected ErrorClass
	}{
		{"network error", 0, errors.New("dial tcp: connection refused"), ErrorClassNetwork},
		{"ok", http.StatusOK, nil, ""},
		{"redirect", http.StatusFound, nil, ""},
		{"not found", http.StatusNotFound, nil, ErrorClassClient},
		{"too many requests", http.StatusTooManyRequests, nil, ErrorClassClient},
		{"internal error", http.StatusInternalServerError, nil, ErrorClassServer},
		{"bad gateway", http.StatusBadGateway, nil, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.err == nil {
				resp = &http.Response{StatusCode: tt.status}
			}
			if got := classify(resp, tt.err); got != tt.expected {
				t.Errorf("classify() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name     string
		class    ErrorClass
		status   int
		expected bool
	}{
		{"client error should not retry", ErrorClassClient, 404, false},
		{"internal server error should not retry", ErrorClassServer, 500, false},
		{"bad gateway should retry", ErrorClassServer, 502, true},
		{"unavailable should retry", ErrorClassServer, 503, true},
		{"gateway timeout should retry", ErrorClassServer, 504, true},
		{"network error should retry", ErrorClassNetwork, 0, true},
		{"empty class should not retry", "", 200, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.class, tt.status); got != tt.expected {
				t.Errorf("shouldRetry(%q, %d) = %v, want %v", tt.class, tt.status, got, tt.expected)
			}
		})
	}
}

func TestUpstreamError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *UpstreamError
		expected string
	}{
		{
			name: "error with wrapped error",
			err: &UpstreamError{
				Route:      "auth-service",
				ErrorClass: ErrorClassNetwork,
				Message:    "3 attempt(s) failed",
				Err:        errors.New("connection refused"),
			},
			expected: "upstream auth-service: network error (status 0): 3 attempt(s) failed: connection refused",
		},
		{
			name: "error without wrapped error",
			err: &UpstreamError{
				Route:      "auth-service",
				StatusCode: 503,
				ErrorClass: ErrorClassServer,
				Message:    "service unavailable",
			},
			expected: "upstream auth-service: server error (status 503): service unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUpstreamError_Unwrap(t *testing.T) {
	wrapped := errors.New("wrapped error")
	err := &UpstreamError{Route: "r", ErrorClass: ErrorClassNetwork, Err: wrapped}

	if !errors.Is(err, wrapped) {
		t.Error("errors.Is should work with wrapped error")
	}

	var target *UpstreamError
	if !errors.As(error(err), &target) {
		t.Error("errors.As should find *UpstreamError")
	}
}
