package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_records (
	key     TEXT PRIMARY KEY,
	value   TEXT NOT NULL,
	expires INTEGER NOT NULL DEFAULT 0
)`

// SQLiteStore is a Store persisted in a SQLite database file. It suits a
// single gateway instance that should keep its cache across restarts.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLiteStore opens (or creates) the database at dsn. Use
// "file::memory:?cache=shared" for a throwaway in-memory database.
// Entries never expire when ttl is zero.
func NewSQLiteStore(dsn string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, ttl: ttl}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expires int64
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires FROM cache_records WHERE key = ?", key,
	).Scan(&value, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			CacheMisses.WithLabelValues("sqlite").Inc()
			return "", false, nil
		}
		CacheErrors.WithLabelValues("sqlite", "get").Inc()
		return "", false, fmt.Errorf("%w: sqlite get: %v", ErrStoreUnavailable, err)
	}

	if expires > 0 && time.Now().After(time.Unix(expires, 0)) {
		_ = s.Delete(ctx, key)
		CacheMisses.WithLabelValues("sqlite").Inc()
		return "", false, nil
	}

	CacheHits.WithLabelValues("sqlite").Inc()
	return value, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	var expires int64
	if s.ttl > 0 {
		expires = time.Now().Add(s.ttl).Unix()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_records (key, value, expires) VALUES (?, ?, ?)",
		key, value, expires,
	)
	if err != nil {
		CacheErrors.WithLabelValues("sqlite", "set").Inc()
		return fmt.Errorf("%w: sqlite set: %v", ErrStoreUnavailable, err)
	}

	StoredBytes.WithLabelValues("sqlite").Add(float64(len(value)))
	return nil
}

// Delete implements Deleter.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_records WHERE key = ?", key); err != nil {
		CacheErrors.WithLabelValues("sqlite", "delete").Inc()
		return fmt.Errorf("%w: sqlite delete: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Ping implements Pinger.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		CacheErrors.WithLabelValues("sqlite", "ping").Inc()
		return fmt.Errorf("%w: sqlite ping: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
