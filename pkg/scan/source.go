// Package scan drives incremental, resumable retrieval of a whole resource
// from a slow paginated backing store into the cache.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
)

// Page is one page returned by the backing store.
type Page struct {
	Items []json.RawMessage

	// NextCursor continues the scan; empty means the store is exhausted
	NextCursor string
}

// Source is the backing store being scanned. Cursors are opaque to callers
// and only need to round-trip unchanged.
type Source interface {
	// ScanPage returns up to limit items of resource starting at cursor.
	// An empty cursor starts from the beginning.
	ScanPage(ctx context.Context, resource, cursor string, limit int) (Page, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, resource, cursor string, limit int) (Page, error)

// ScanPage implements Source.
func (f SourceFunc) ScanPage(ctx context.Context, resource, cursor string, limit int) (Page, error) {
	return f(ctx, resource, cursor, limit)
}

// SourceError wraps a failure returned by the backing store.
type SourceError struct {
	Resource string
	Cursor   string
	Err      error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	return fmt.Sprintf("backing store scan of %s at cursor %q: %v", e.Resource, e.Cursor, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SourceError) Unwrap() error {
	return e.Err
}
