// Package cache provides the shared key-value cache store used by the scan
// coordinator, backed by Redis.
//
// The store hosts four kinds of entries per resource:
//
// - all:<resource>        full, ordered result of a completed scan
// - partial:<resource>    snapshot of items accumulated by an in-flight scan
// - chunk:<resource>:...  one page served directly from the backing store
// - checkpoint:<resource> cursor + accumulated items of the in-flight scan
//
// and the distributed lock record lock:<resource>.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	store := cache.NewRedisStore(redisClient, "scancache")
//	keys := cache.KeysFor("orders")
//
//	data, err := store.Get(ctx, keys.All())
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// not populated yet
//	}
//
// # Atomic primitives
//
// SetIfAbsent, CompareAndDelete and SetIfEqual are single round trips
// (SET NX PX and two Lua scripts). The lock manager depends on them; a
// read followed by a separate write would break mutual exclusion.
//
// # Failure semantics
//
// Every transport error is wrapped in ErrUnavailable. Use IsMiss on read
// paths to degrade to a miss instead of failing the request.
//
// # Metrics
//
//   - scancache_cache_hits_total{tier}
//   - scancache_cache_misses_total{tier}
//   - scancache_cache_written_bytes_total
//   - scancache_cache_errors_total{operation}
package cache
