package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/scancache/pkg/cache"
	"github.com/Sternrassler/scancache/pkg/lock"
)

// Checkpoint marks the progress of an in-flight scan. Cursor is empty exactly
// when the scan has not started or has finished; such checkpoints are never
// persisted.
type Checkpoint struct {
	Resource  string            `json:"resource"`
	Cursor    string            `json:"cursor"`
	Items     []json.RawMessage `json:"items"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// CheckpointStore persists checkpoints in the cache store. Writes are fenced
// by the scan lock so only the current holder can move a checkpoint.
type CheckpointStore struct {
	store cache.Store
	ttl   time.Duration
}

// NewCheckpointStore creates a checkpoint store. A zero ttl keeps checkpoints
// until deleted.
func NewCheckpointStore(store cache.Store, ttl time.Duration) *CheckpointStore {
	return &CheckpointStore{store: store, ttl: ttl}
}

// Load returns the checkpoint for resource or cache.ErrCacheMiss.
func (s *CheckpointStore) Load(ctx context.Context, resource string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := cache.GetJSON(ctx, s.store, cache.KeysFor(resource).Checkpoint(), &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Exists reports whether an unfinished scan left a checkpoint for resource.
func (s *CheckpointStore) Exists(ctx context.Context, resource string) (bool, error) {
	return s.store.Exists(ctx, cache.KeysFor(resource).Checkpoint())
}

// Save writes cp while lease still holds the resource lock.
func (s *CheckpointStore) Save(ctx context.Context, lease *lock.Lease, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	keys := cache.KeysFor(cp.Resource)
	ok, err := s.store.SetIfEqual(ctx, lease.Key, lease.Value(), keys.Checkpoint(), data, s.ttl)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.Resource, err)
	}
	if !ok {
		return fmt.Errorf("%w: checkpoint write for %s rejected", lock.ErrLockStale, cp.Resource)
	}
	return nil
}

// Delete removes the checkpoint for resource.
func (s *CheckpointStore) Delete(ctx context.Context, resource string) error {
	return s.store.Del(ctx, cache.KeysFor(resource).Checkpoint())
}
