package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by RedisStore.
const DefaultPrefix = "scancache"

var (
	compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

	setIfEqualScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
else
  redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`)
)

// RedisStore implements Store on a Redis backend.
type RedisStore struct {
	redis  redis.Cmdable
	prefix string
}

// NewRedisStore creates a Redis-backed store. An empty prefix uses DefaultPrefix.
func NewRedisStore(redisClient redis.Cmdable, prefix string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	prefix = strings.Trim(prefix, ": ")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Get retrieves the value stored under key.
// Returns ErrCacheMiss if the key doesn't exist.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, s.fail("get", err)
	}
	return data, nil
}

// Set stores value with TTL. The entry is removed by Redis when it expires.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.redis.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return s.fail("set", err)
	}
	CacheBytesWritten.Add(float64(len(value)))
	return nil
}

// Del removes keys.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.redis.Del(ctx, full...).Err(); err != nil {
		return s.fail("delete", err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, s.fail("exists", err)
	}
	return n > 0, nil
}

// SetIfAbsent is SET NX PX.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, s.fail("setnx", err)
	}
	if ok {
		CacheBytesWritten.Add(float64(len(value)))
	}
	return ok, nil
}

// CompareAndDelete deletes key only if it still holds expected.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.redis, []string{s.key(key)}, expected).Int64()
	if err != nil {
		return false, s.fail("cad", err)
	}
	return n > 0, nil
}

// SetIfEqual writes key only while guardKey holds guardValue, atomically.
func (s *RedisStore) SetIfEqual(ctx context.Context, guardKey string, guardValue []byte, key string, value []byte, ttl time.Duration) (bool, error) {
	n, err := setIfEqualScript.Run(ctx, s.redis,
		[]string{s.key(guardKey), s.key(key)},
		guardValue, value, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, s.fail("set_if_equal", err)
	}
	if n > 0 {
		CacheBytesWritten.Add(float64(len(value)))
	}
	return n > 0, nil
}

// Ping checks connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return s.fail("ping", err)
	}
	return nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) fail(op string, err error) error {
	CacheErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: redis %s: %w", ErrUnavailable, op, err)
}
