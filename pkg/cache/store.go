package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrUnavailable indicates the cache store could not be reached.
	// Read paths treat it as a miss; the scan path treats it as fatal.
	ErrUnavailable = errors.New("cache unavailable")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is the shared key-value cache with per-entry TTL. It also hosts the
// distributed lock, so implementations must make every single-key operation
// atomic and provide a true set-if-absent.
type Store interface {
	// Get returns the stored value or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// SetIfAbsent stores value only when key does not exist.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete removes key only while it still holds expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// SetIfEqual stores value under key only while guardKey holds guardValue.
	// This is the fenced write used by lock holders.
	SetIfEqual(ctx context.Context, guardKey string, guardValue []byte, key string, value []byte, ttl time.Duration) (bool, error)
}

// GetJSON loads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("%w: %s: %v", ErrInvalidEntry, key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return s.Set(ctx, key, data, ttl)
}

// IsMiss reports whether err should be treated as a miss on read paths:
// either the key is absent or the store is unavailable.
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrInvalidEntry)
}
