package filter

import (
	"errors"
	"fmt"
	"net/http"
)

// errWriteSkipped marks a response that was delivered but deliberately not
// cached.
var errWriteSkipped = errors.New("cache write skipped")

// errAborted marks a coalesced round trip the backend aborted.
var errAborted = errors.New("backend aborted response")

// UpstreamDependencyError reports a request failed because the cache store,
// a dependency of the gateway, could not serve it.
type UpstreamDependencyError struct {
	Op  string
	Key string
	Err error
}

// Error implements the error interface.
func (e *UpstreamDependencyError) Error() string {
	return fmt.Sprintf("cache store %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamDependencyError) Unwrap() error {
	return e.Err
}

// CacheCorruptionError reports a stored value that is not a valid record.
type CacheCorruptionError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache entry %q: %v", e.Key, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *CacheCorruptionError) Unwrap() error {
	return e.Err
}

// WriteError reports a cache write that failed after the response had been
// delivered to the client.
type WriteError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("cache write %q: %v", e.Key, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// ErrorHandler writes the response for a request the filter failed.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// DefaultErrorHandler answers 503 for store outages and 500 otherwise.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	var dep *UpstreamDependencyError
	var corrupt *CacheCorruptionError

	switch {
	case errors.As(err, &dep):
		http.Error(w, "cache store unavailable", http.StatusServiceUnavailable)
	case errors.As(err, &corrupt):
		http.Error(w, "corrupt cache entry", http.StatusInternalServerError)
	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
