package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the upstream transport.
var (
	// ErrRetryExhausted is returned when all attempts failed with a network
	// error.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the request context ends during
	// retry backoff.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrNoUpstream is returned for a route without upstream URL.
	ErrNoUpstream = errors.New("route has no upstream")
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents connection and timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// UpstreamError describes a failed round trip to a route's upstream.
type UpstreamError struct {
	Route      string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %s error (status %d): %s: %v",
			e.Route, e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s error (status %d): %s",
		e.Route, e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// classify maps a round trip result to an error class. Successful and
// redirect responses have no class.
func classify(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}
	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry reports whether a result of class with status may succeed
// on another attempt. Only gateway-style 5xx answers are retried: a 500
// usually fails again the same way.
func shouldRetry(class ErrorClass, status int) bool {
	switch class {
	case ErrorClassNetwork:
		return true
	case ErrorClassServer:
		return status == http.StatusBadGateway ||
			status == http.StatusServiceUnavailable ||
			status == http.StatusGatewayTimeout
	default:
		return false
	}
}
