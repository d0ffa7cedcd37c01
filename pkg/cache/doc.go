// Package cache provides the storage side of the gateway response cache:
// the cached record type, its string codec, cache key generators and the
// key-value stores records are persisted in.
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create store, codec and key policy
//	store := cache.NewRedisStore(redisClient)
//	codec := cache.JSONCodec{}
//	keys := cache.PathKey{}
//
//	// Store a record
//	record := cache.Record{
//		Status:  200,
//		Headers: cache.SingleValueHeaders(resp.Header),
//		Body:    body,
//	}
//	value, err := codec.Encode(record)
//	if err != nil {
//		return err
//	}
//	err = store.Set(ctx, keys.Generate(req), value)
//
//	// Read it back
//	value, found, err := store.Get(ctx, keys.Generate(req))
//	if errors.Is(err, cache.ErrStoreUnavailable) {
//		// Redis down
//	}
//
// # Key Policies
//
//   - PathKey: "api_cache:" + path, method and query ignored
//   - RequestKey: "api_cache:" + method + path + sorted query, optionally
//     BLAKE3-hashed
//
// # Stores
//
//   - RedisStore: shared store for multiple gateway instances
//   - SQLiteStore: file-backed store for a single instance
//   - MemoryStore: in-process map for tests and examples
//
// Entries do not expire unless a TTL is configured on the store.
//
// # Metrics
//
//   - gateway_cache_hits_total{store} - Cache hits
//   - gateway_cache_misses_total{store} - Cache misses
//   - gateway_cache_stored_bytes_total{store} - Bytes written
//   - gateway_cache_errors_total{store,operation} - Store operation errors
package cache
