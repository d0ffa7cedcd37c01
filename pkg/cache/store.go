package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreUnavailable indicates the cache store could not be reached or
// failed to execute an operation. Store implementations wrap every backend
// error with it.
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Store is the key-value service holding serialized records.
//
// There is no transaction across Get and Set: concurrent writers for the
// same key race and the last Set wins.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key. found is false if the key
	// does not exist.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
}

// Deleter is implemented by stores that can purge a single key.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can report their availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryStore is an in-process Store. It is intended for tests, examples and
// single-instance deployments where losing the cache on restart is fine.
type MemoryStore struct {
	mu  sync.RWMutex
	db  map[string]memoryEntry
	ttl time.Duration
	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. Entries never expire when
// ttl is zero.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		db:  make(map[string]memoryEntry),
		ttl: ttl,
		now: time.Now,
	}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, errors.Join(ErrStoreUnavailable, err)
	}

	m.mu.RLock()
	entry, ok := m.db[key]
	m.mu.RUnlock()

	if !ok {
		CacheMisses.WithLabelValues("memory").Inc()
		return "", false, nil
	}
	if !entry.expires.IsZero() && m.now().After(entry.expires) {
		m.mu.Lock()
		// a Set may have replaced the entry since the read lock was released
		if current, ok := m.db[key]; ok && !current.expires.IsZero() && m.now().After(current.expires) {
			delete(m.db, key)
		}
		m.mu.Unlock()
		CacheMisses.WithLabelValues("memory").Inc()
		return "", false, nil
	}

	CacheHits.WithLabelValues("memory").Inc()
	return entry.value, true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	entry := memoryEntry{value: value}
	if m.ttl > 0 {
		entry.expires = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	m.db[key] = entry
	m.mu.Unlock()

	StoredBytes.WithLabelValues("memory").Add(float64(len(value)))
	return nil
}

// Delete implements Deleter.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.db, key)
	m.mu.Unlock()
	return nil
}

// Ping implements Pinger. A MemoryStore is always available.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.db)
}
