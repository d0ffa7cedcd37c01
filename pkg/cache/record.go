package cache

import (
	"net/http"
)

// Record is a cached HTTP response as it is stored under a cache key.
// A record is never modified after it is written; a later write for the
// same key replaces it entirely.
type Record struct {
	// Status is the HTTP status code sent by the backend
	Status int `json:"status"`

	// Headers holds one value per header name
	Headers map[string]string `json:"headers"`

	// Body is the full response body, UTF-8 text
	Body string `json:"body"`
}

// SingleValueHeaders flattens h to one value per header name. Only the
// first value of a multi-valued header is kept.
func SingleValueHeaders(h http.Header) map[string]string {
	headers := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		headers[name] = values[0]
	}
	return headers
}

// WriteHeaders copies the record headers into h, replacing existing values.
func (r Record) WriteHeaders(h http.Header) {
	for name, value := range r.Headers {
		h.Set(name, value)
	}
}

// Size returns the approximate number of bytes the record occupies.
func (r Record) Size() int {
	size := len(r.Body)
	for name, value := range r.Headers {
		size += len(name) + len(value)
	}
	return size
}
