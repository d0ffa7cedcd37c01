package cache

import (
	"encoding/hex"
	"net/http"
	"strings"

	"lukechampine.com/blake3"
)

// DefaultKeyPrefix is prepended to every cache key.
const DefaultKeyPrefix = "api_cache:"

// KeyGenerator derives the cache key for a request.
// Generate must be deterministic and must not block.
type KeyGenerator interface {
	Generate(r *http.Request) string
}

// KeyFunc adapts an ordinary function to KeyGenerator.
type KeyFunc func(r *http.Request) string

// Generate calls f(r).
func (f KeyFunc) Generate(r *http.Request) string {
	return f(r)
}

// PathKey keys requests by URL path only. Method and query string are
// ignored, so GET /items?page=1 and DELETE /items share a key.
//
// Format: api_cache:/v1/items
type PathKey struct {
	// Prefix replaces DefaultKeyPrefix when set
	Prefix string
}

// Generate implements KeyGenerator.
func (k PathKey) Generate(r *http.Request) string {
	return prefixOrDefault(k.Prefix) + r.URL.Path
}

// RequestKey keys requests by method, path and query string.
// Query parameters are sorted by name so that parameter order does not
// produce distinct keys; the order of repeated values is kept.
//
// Format: api_cache:GET:/v1/items:page=1&sort=asc
type RequestKey struct {
	// Prefix replaces DefaultKeyPrefix when set
	Prefix string

	// HashQuery replaces the query component with its BLAKE3 digest,
	// bounding key length for long query strings
	HashQuery bool
}

// Generate implements KeyGenerator.
func (k RequestKey) Generate(r *http.Request) string {
	parts := []string{r.Method, r.URL.Path}

	// url.Values.Encode sorts by key
	if query := r.URL.Query().Encode(); query != "" {
		if k.HashQuery {
			sum := blake3.Sum256([]byte(query))
			query = "blake3=" + hex.EncodeToString(sum[:])
		}
		parts = append(parts, query)
	}

	return prefixOrDefault(k.Prefix) + strings.Join(parts, ":")
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return DefaultKeyPrefix
	}
	return prefix
}
