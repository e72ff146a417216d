package pagination

import (
	"encoding/json"
	"fmt"
)

// Where a Result was served from.
const (
	SourceAll     = "all"
	SourceChunk   = "chunk"
	SourcePartial = "partial"
	SourceStore   = "store"
	SourceEmpty   = "empty"
)

// Request is a page request. An empty Cursor requests the first page.
type Request struct {
	Cursor   string
	PageSize int
}

// Result is one page returned to the caller.
type Result struct {
	Items []json.RawMessage `json:"items"`

	// NextCursor is nil only when the listing is known to be complete
	NextCursor *string `json:"nextCursor"`

	// Total is the number of items known so far, never an assumed final count
	Total *int `json:"total,omitempty"`

	// Complete is true only for pages of a finished scan
	Complete bool `json:"complete"`

	Source string `json:"source"`
}

// Normalize applies the default page size and rejects sizes above max.
func Normalize(req Request, defaultSize, maxSize int) (Request, error) {
	if req.PageSize == 0 {
		req.PageSize = defaultSize
	}
	if req.PageSize < 0 {
		return req, fmt.Errorf("page size must be positive (got %d)", req.PageSize)
	}
	if maxSize > 0 && req.PageSize > maxSize {
		return req, fmt.Errorf("page size %d exceeds maximum %d", req.PageSize, maxSize)
	}
	return req, nil
}

// Slice returns the page of items starting at pos.Offset.
// complete marks items as the full result; otherwise the page is a slice of a
// partial snapshot and always carries a next cursor. A position at or past
// the end of a partial snapshot is handed back unchanged so the caller never
// moves backwards.
func Slice(items []json.RawMessage, pos Position, size int, complete bool) *Result {
	n := len(items)
	start := min(pos.Offset, n)
	end := min(start+size, n)

	page := make([]json.RawMessage, end-start)
	copy(page, items[start:end])

	result := &Result{
		Items:    page,
		Total:    &n,
		Complete: complete,
		Source:   SourceAll,
	}
	if !complete {
		result.Source = SourcePartial
	}

	switch {
	case !complete && pos.Offset >= n:
		next := EncodeCursor(pos)
		result.NextCursor = &next
	case end < n || !complete:
		next := EncodeCursor(Position{Offset: end})
		result.NextCursor = &next
	}
	return result
}

// Empty returns a page without items that hands the caller's position back
// so the request can be retried once data is available. A first-page request
// gets the empty token back, which still means "start".
func Empty(req Request) *Result {
	next := req.Cursor
	return &Result{
		Items:      []json.RawMessage{},
		NextCursor: &next,
		Source:     SourceEmpty,
	}
}
