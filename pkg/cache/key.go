package cache

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key roles stored per resource.
const (
	RoleAll        = "all"
	RolePartial    = "partial"
	RoleChunk      = "chunk"
	RoleCheckpoint = "checkpoint"
	RoleLock       = "lock"
)

// Keys builds the cache keys used for a single resource.
//
// Format: <role>:<resource>[:<cursor-hash>:<page-size>]
//
// Example:
//
//	all:orders
//	chunk:orders:9f2c1e0a77d3b4c5:50
type Keys struct {
	// Resource is the logical listing name (e.g., "orders")
	Resource string
}

// KeysFor returns the key builder for resource.
func KeysFor(resource string) Keys {
	return Keys{Resource: strings.Trim(resource, ": ")}
}

// All is the full-result entry key.
func (k Keys) All() string { return k.join(RoleAll) }

// Partial is the partial-result entry key.
func (k Keys) Partial() string { return k.join(RolePartial) }

// Checkpoint is the scan checkpoint key.
func (k Keys) Checkpoint() string { return k.join(RoleCheckpoint) }

// Lock is the distributed lock key.
func (k Keys) Lock() string { return k.join(RoleLock) }

// Chunk is the per-page entry key for an exact (cursor, pageSize) request.
// The cursor is hashed so arbitrarily long tokens produce bounded keys; an
// empty cursor maps to the literal "start".
func (k Keys) Chunk(cursor string, pageSize int) string {
	c := "start"
	if cursor != "" {
		c = strconv.FormatUint(xxhash.Sum64String(cursor), 16)
	}
	return strings.Join([]string{RoleChunk, k.Resource, c, strconv.Itoa(pageSize)}, ":")
}

func (k Keys) join(role string) string {
	return role + ":" + k.Resource
}
