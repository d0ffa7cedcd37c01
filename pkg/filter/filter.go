// Package filter implements the cache-aside gateway filter: serve a stored
// response when one exists, otherwise forward to the backend, capture the
// response on its way to the client and store it.
package filter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/edge-cache-gateway/pkg/cache"
	"github.com/Sternrassler/edge-cache-gateway/pkg/capture"
)

// Config holds the filter configuration.
type Config struct {
	// Store holds the serialized records (required)
	Store cache.Store

	// Codec serializes records (default cache.JSONCodec)
	Codec cache.Codec

	// Keys derives cache keys (default cache.PathKey)
	Keys cache.KeyGenerator

	// Failure policies
	LookupFailure LookupPolicy     // default fail-closed
	WriteFailure  WritePolicy      // default fail-open
	Corruption    CorruptionPolicy // default fail

	// MaxBodyBytes skips caching responses larger than this (0 = no limit)
	MaxBodyBytes int64

	// StoreTimeout bounds each store call (0 = request context only)
	StoreTimeout time.Duration

	// Coalesce lets concurrent misses for one key share a single backend
	// round trip. Off by default: every miss reaches the backend.
	Coalesce bool

	// Cacheable reports whether a delivered response may be stored
	// (nil = every response)
	Cacheable func(status int, header http.Header) bool

	// ErrorHandler answers failed requests (default DefaultErrorHandler)
	ErrorHandler ErrorHandler

	// Logger is used when the request carries no logger
	Logger zerolog.Logger
}

// DefaultConfig returns the reference configuration for store: path-only
// keys, JSON records, fail-closed lookups and fail-open writes.
func DefaultConfig(store cache.Store) Config {
	return Config{
		Store:         store,
		Codec:         cache.JSONCodec{},
		Keys:          cache.PathKey{},
		LookupFailure: LookupFailClosed,
		WriteFailure:  WriteFailOpen,
		Corruption:    CorruptionFail,
		ErrorHandler:  DefaultErrorHandler,
		Logger:        log.With().Str("component", "cache-filter").Logger(),
	}
}

// Filter is the cache-aside middleware. It is safe for concurrent use and
// holds no per-request state.
type Filter struct {
	store   cache.Store
	codec   cache.Codec
	keys    cache.KeyGenerator
	onError ErrorHandler
	flight  *singleflight.Group
	config  Config
	logger  zerolog.Logger
}

// New creates a filter.
func New(cfg Config) (*Filter, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.MaxBodyBytes < 0 {
		return nil, fmt.Errorf("max body bytes must be >= 0 (got %d)", cfg.MaxBodyBytes)
	}
	if cfg.Codec == nil {
		cfg.Codec = cache.JSONCodec{}
	}
	if cfg.Keys == nil {
		cfg.Keys = cache.PathKey{}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	f := &Filter{
		store:   cfg.Store,
		codec:   cfg.Codec,
		keys:    cfg.Keys,
		onError: cfg.ErrorHandler,
		config:  cfg,
		logger:  cfg.Logger,
	}
	if cfg.Coalesce {
		f.flight = &singleflight.Group{}
	}
	return f, nil
}

// Middleware wraps next, the rest of the proxy chain, with the filter.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.serve(w, r, next)
	})
}

func (f *Filter) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	logger := f.requestLogger(r)
	key := f.keys.Generate(r)

	value, found, err := f.lookup(r.Context(), key)
	if err != nil {
		filterFailuresTotal.WithLabelValues("lookup").Inc()
		if f.config.LookupFailure == LookupFailOpen {
			logger.Warn().Err(err).Str("key", key).Msg("Cache lookup failed, bypassing cache")
			next.ServeHTTP(w, r)
			return
		}
		logger.Error().Err(err).Str("key", key).Msg("Cache lookup failed")
		f.onError(w, r, &UpstreamDependencyError{Op: "get", Key: key, Err: err})
		return
	}

	if found {
		rec, err := f.codec.Decode(value)
		if err == nil {
			logger.Debug().Str("key", key).Int("status_code", rec.Status).Msg("Cache hit")
			if err := replay(w, rec); err != nil {
				logger.Debug().Err(err).Str("key", key).Msg("Client went away during replay")
			}
			return
		}

		filterFailuresTotal.WithLabelValues("corruption").Inc()
		if f.config.Corruption != CorruptionAsMiss {
			logger.Error().Err(err).Str("key", key).Msg("Corrupt cache entry")
			f.onError(w, r, &CacheCorruptionError{Key: key, Err: err})
			return
		}
		logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry, treating as miss")
		f.purge(r.Context(), key, logger)
	}

	logger.Debug().Str("key", key).Msg("Cache miss")

	if f.flight != nil {
		f.serveCoalesced(w, r, next, key, logger)
		return
	}
	_, err = f.forward(w, r, next, key, logger)
	f.finish(err)
}

// serveCoalesced runs forward for the first miss on key and lets requests
// arriving meanwhile replay its record.
func (f *Filter) serveCoalesced(w http.ResponseWriter, r *http.Request, next http.Handler, key string, logger *zerolog.Logger) {
	leader := false
	v, err, _ := f.flight.Do(key, func() (v any, err error) {
		leader = true
		// singleflight re-panics with its own value; keep the abort
		// sentinel so net/http recognizes it
		defer func() {
			if p := recover(); p != nil {
				if p != http.ErrAbortHandler {
					panic(p)
				}
				v, err = cache.Record{}, errAborted
			}
		}()
		return f.forward(w, r, next, key, logger)
	})
	if leader {
		if errors.Is(err, errAborted) {
			panic(http.ErrAbortHandler)
		}
		f.finish(err)
		return
	}

	if err == nil {
		cacheCoalescedTotal.Inc()
		logger.Debug().Str("key", key).Msg("Served from concurrent request")
		if err := replay(w, v.(cache.Record)); err != nil {
			logger.Debug().Err(err).Str("key", key).Msg("Client went away during replay")
		}
		return
	}

	// the leader's response was not cached; make our own round trip
	_, err = f.forward(w, r, next, key, logger)
	f.finish(err)
}

// forward passes the request to next through a capture recorder and stores
// the captured response. The returned error is nil when the record was
// stored, wraps errWriteSkipped when caching was skipped, or is a
// *WriteError.
func (f *Filter) forward(w http.ResponseWriter, r *http.Request, next http.Handler, key string, logger *zerolog.Logger) (cache.Record, error) {
	rec := capture.New(w, capture.WithLimit(f.config.MaxBodyBytes))
	next.ServeHTTP(rec, r)
	rec.Complete()

	record, err := rec.Record(r.Context())
	if err == nil && r.Context().Err() != nil {
		err = r.Context().Err()
	}
	if err != nil {
		reason := skipReason(err)
		cacheWritesSkipped.WithLabelValues(reason).Inc()
		logger.Warn().Err(err).Str("key", key).Str("reason", reason).Msg("Response not cached")
		return record, fmt.Errorf("%w: %s: %v", errWriteSkipped, reason, err)
	}

	// a HEAD response has no body but keeps the GET headers
	if r.Method == http.MethodHead {
		cacheWritesSkipped.WithLabelValues(skipHead).Inc()
		logger.Debug().Str("key", key).Msg("HEAD response not cached")
		return record, fmt.Errorf("%w: %s", errWriteSkipped, skipHead)
	}

	if f.config.Cacheable != nil && !f.config.Cacheable(record.Status, rec.Header()) {
		cacheWritesSkipped.WithLabelValues(skipNotCacheable).Inc()
		logger.Debug().Str("key", key).Int("status_code", record.Status).Msg("Response not cacheable")
		return record, fmt.Errorf("%w: %s", errWriteSkipped, skipNotCacheable)
	}

	if err := f.write(r.Context(), key, record); err != nil {
		cacheWritesTotal.WithLabelValues("failed").Inc()
		filterFailuresTotal.WithLabelValues("write").Inc()
		event := logger.Warn()
		if f.config.WriteFailure == WriteFailClosed {
			event = logger.Error()
		}
		event.Err(err).Str("key", key).Str("policy", f.config.WriteFailure.String()).Msg("Cache write failed")
		return record, &WriteError{Key: key, Err: err}
	}

	cacheWritesTotal.WithLabelValues("stored").Inc()
	logger.Debug().
		Str("key", key).
		Int("status_code", record.Status).
		Int("size", record.Size()).
		Msg("Cached response")
	return record, nil
}

// finish applies the write policy once forwarding is over.
func (f *Filter) finish(err error) {
	var writeErr *WriteError
	if errors.As(err, &writeErr) && f.config.WriteFailure == WriteFailClosed {
		panic(http.ErrAbortHandler)
	}
}

func (f *Filter) lookup(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := f.storeContext(ctx)
	defer cancel()
	return f.store.Get(ctx, key)
}

func (f *Filter) write(ctx context.Context, key string, record cache.Record) error {
	value, err := f.codec.Encode(record)
	if err != nil {
		return err
	}

	ctx, cancel := f.storeContext(ctx)
	defer cancel()
	return f.store.Set(ctx, key, value)
}

// purge removes a corrupt entry when the store supports deletes, so a
// response that ends up not cached does not leave it behind.
func (f *Filter) purge(ctx context.Context, key string, logger *zerolog.Logger) {
	d, ok := f.store.(cache.Deleter)
	if !ok {
		return
	}
	ctx, cancel := f.storeContext(ctx)
	defer cancel()
	if err := d.Delete(ctx, key); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Failed to purge corrupt cache entry")
	}
}

func (f *Filter) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.config.StoreTimeout > 0 {
		return context.WithTimeout(ctx, f.config.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

// requestLogger prefers the logger attached by the logging middleware.
func (f *Filter) requestLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		return &f.logger
	}
	l := logger.With().Str("component", "cache-filter").Logger()
	return &l
}

// replay writes a stored record as a single chunk. The stored
// Content-Length is dropped; net/http derives it from the body written.
func replay(w http.ResponseWriter, rec cache.Record) error {
	rec.WriteHeaders(w.Header())
	w.Header().Del("Content-Length")
	w.WriteHeader(rec.Status)
	_, err := io.WriteString(w, rec.Body)
	return err
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, capture.ErrBodyTooLarge):
		return skipTooLarge
	case errors.Is(err, capture.ErrIncomplete):
		return skipIncomplete
	default:
		return skipClientGone
	}
}
