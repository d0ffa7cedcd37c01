package filter

import (
	"fmt"
	"strings"
)

// LookupPolicy decides what happens when the cache store fails on lookup.
type LookupPolicy int

const (
	// LookupFailClosed fails the request with UpstreamDependencyError.
	// The backend is not called.
	LookupFailClosed LookupPolicy = iota

	// LookupFailOpen passes the request to the backend without caching.
	LookupFailOpen
)

// WritePolicy decides what happens when a cache write fails after the
// response was streamed to the client.
type WritePolicy int

const (
	// WriteFailOpen logs the failure and keeps the delivered response.
	WriteFailOpen WritePolicy = iota

	// WriteFailClosed aborts the exchange with http.ErrAbortHandler. The
	// client sees a broken connection instead of a completed response.
	WriteFailClosed
)

// CorruptionPolicy decides what happens when a stored value cannot be
// decoded.
type CorruptionPolicy int

const (
	// CorruptionFail fails the request with CacheCorruptionError.
	CorruptionFail CorruptionPolicy = iota

	// CorruptionAsMiss forwards the request and overwrites the entry.
	CorruptionAsMiss
)

// ParseLookupPolicy parses "closed" or "open".
func ParseLookupPolicy(s string) (LookupPolicy, error) {
	switch strings.ToLower(s) {
	case "", "closed", "fail-closed":
		return LookupFailClosed, nil
	case "open", "fail-open":
		return LookupFailOpen, nil
	default:
		return 0, fmt.Errorf("unknown lookup failure policy %q", s)
	}
}

// ParseWritePolicy parses "open" or "closed".
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch strings.ToLower(s) {
	case "", "open", "fail-open":
		return WriteFailOpen, nil
	case "closed", "fail-closed":
		return WriteFailClosed, nil
	default:
		return 0, fmt.Errorf("unknown write failure policy %q", s)
	}
}

// ParseCorruptionPolicy parses "fail" or "miss".
func ParseCorruptionPolicy(s string) (CorruptionPolicy, error) {
	switch strings.ToLower(s) {
	case "", "fail":
		return CorruptionFail, nil
	case "miss":
		return CorruptionAsMiss, nil
	default:
		return 0, fmt.Errorf("unknown corruption policy %q", s)
	}
}

func (p LookupPolicy) String() string {
	if p == LookupFailOpen {
		return "open"
	}
	return "closed"
}

func (p WritePolicy) String() string {
	if p == WriteFailClosed {
		return "closed"
	}
	return "open"
}

func (p CorruptionPolicy) String() string {
	if p == CorruptionAsMiss {
		return "miss"
	}
	return "fail"
}
