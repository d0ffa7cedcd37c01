// Package capture provides an http.ResponseWriter that forwards a response
// to the client while keeping a copy of the body for caching.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Sternrassler/edge-cache-gateway/pkg/cache"
)

var (
	// ErrBodyTooLarge is returned by Body when the response exceeded the
	// configured limit. The client still received the full response.
	ErrBodyTooLarge = errors.New("response body exceeds capture limit")

	// ErrIncomplete is returned by Body when forwarding to the client
	// failed, so the captured copy may be truncated.
	ErrIncomplete = errors.New("response not fully delivered")
)

// Recorder wraps the writer of exactly one exchange. Every chunk written is
// passed unchanged to the underlying writer and then appended to an
// in-memory copy.
//
// The handler writing the response and the caller of Complete must be the
// same goroutine, or synchronize on their own; Body may be called from any
// goroutine.
type Recorder struct {
	w     http.ResponseWriter
	limit int64

	body        []byte
	status      int
	wroteHeader bool
	overflow    bool
	writeErr    error

	done chan struct{}
	once sync.Once
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLimit caps the captured body at limit bytes. Zero or negative means
// no limit.
func WithLimit(limit int64) Option {
	return func(r *Recorder) {
		r.limit = limit
	}
}

// New returns a Recorder forwarding to w.
func New(w http.ResponseWriter, opts ...Option) *Recorder {
	r := &Recorder{
		w:    w,
		body: []byte{},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Header implements http.ResponseWriter. Headers set by the handler go
// straight to the client's header map.
func (r *Recorder) Header() http.Header {
	return r.w.Header()
}

// WriteHeader implements http.ResponseWriter.
func (r *Recorder) WriteHeader(statusCode int) {
	if r.wroteHeader {
		return
	}
	// informational responses precede the final status
	if statusCode >= 100 && statusCode < 200 && statusCode != http.StatusSwitchingProtocols {
		r.w.WriteHeader(statusCode)
		return
	}
	r.wroteHeader = true
	r.status = statusCode
	r.w.WriteHeader(statusCode)
}

// Write implements http.ResponseWriter.
func (r *Recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}

	n, err := r.w.Write(p)
	if err != nil && r.writeErr == nil {
		r.writeErr = err
	}
	r.append(p[:n])
	return n, err
}

func (r *Recorder) append(p []byte) {
	if r.overflow {
		return
	}
	if r.limit > 0 && int64(len(r.body)+len(p)) > r.limit {
		r.overflow = true
		r.body = nil
		return
	}
	r.body = append(r.body, p...)
}

// Flush implements http.Flusher when the underlying writer supports it.
func (r *Recorder) Flush() {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	if f, ok := r.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying writer for http.ResponseController.
func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.w
}

// Complete marks the end of the response stream. Calls after the first have
// no effect. Nothing may be written after Complete.
func (r *Recorder) Complete() {
	r.once.Do(func() {
		close(r.done)
	})
}

// Body waits for Complete and returns every chunk written, concatenated in
// arrival order. A response without body yields "".
func (r *Recorder) Body(ctx context.Context) (string, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return "", fmt.Errorf("wait for response body: %w", ctx.Err())
	}

	switch {
	case r.writeErr != nil:
		return "", fmt.Errorf("%w: %v", ErrIncomplete, r.writeErr)
	case r.overflow:
		return "", fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, r.limit)
	}
	return string(r.body), nil
}

// StatusCode returns the status sent to the client. A handler that writes
// nothing at all has implicitly sent 200.
func (r *Recorder) StatusCode() int {
	if !r.wroteHeader {
		return http.StatusOK
	}
	return r.status
}

// HeaderSnapshot returns the response headers with one value per name.
func (r *Recorder) HeaderSnapshot() map[string]string {
	return cache.SingleValueHeaders(r.w.Header())
}

// Record waits for the body and assembles the cache record of the response.
func (r *Recorder) Record(ctx context.Context) (cache.Record, error) {
	body, err := r.Body(ctx)
	if err != nil {
		return cache.Record{}, err
	}
	return cache.Record{
		Status:  r.StatusCode(),
		Headers: r.HeaderSnapshot(),
		Body:    body,
	}, nil
}
