package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteStore(t *testing.T, ttl time.Duration) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	storeContract(t, setupSQLiteStore(t, 0))
}

func TestSQLiteStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(path, 0)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "api_cache:/p", "value"))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path, 0)
	require.NoError(t, err)
	defer second.Close()

	value, found, err := second.Get(ctx, "api_cache:/p")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", value)
}

func TestSQLiteStore_ExpiredEntry(t *testing.T) {
	store := setupSQLiteStore(t, 0)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx,
		"INSERT INTO cache_records (key, value, expires) VALUES (?, ?, ?)",
		"api_cache:/old", "stale", time.Now().Add(-time.Hour).Unix(),
	)
	require.NoError(t, err)

	_, found, err := store.Get(ctx, "api_cache:/old")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := setupSQLiteStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v"))
	require.NoError(t, store.Delete(ctx, "k"))

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteStore_Closed(t *testing.T) {
	store := setupSQLiteStore(t, 0)
	require.NoError(t, store.Close())
	ctx := context.Background()

	_, _, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	err = store.Set(ctx, "k", "v")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	assert.ErrorIs(t, store.Ping(ctx), ErrStoreUnavailable)
}
