// Package testutil provides Redis and upstream fixtures for scancache tests.
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewRedis starts an in-memory Redis server and returns it together with a
// connected client. Both are closed when the test finishes.
//
// Note: miniredis does not advance time on its own; use mr.FastForward to
// expire keys.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		client.Close()
	})

	return mr, client
}
