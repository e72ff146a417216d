// Package pagination translates cursor-based external pagination into
// in-memory slicing of cached results or continuation of a backing-store scan.
//
// External cursors are opaque base64url tokens carrying a Position: the
// number of items already returned (Offset) and, when the page came straight
// from the backing store, the store's own continuation cursor. Offsets let a
// token be served from the full or partial result cache; the store cursor
// lets the chunk path continue without rescanning.
//
// Example usage:
//
//	req, err := pagination.Normalize(pagination.Request{Cursor: c, PageSize: 50}, 25, 500)
//	pos, err := pagination.DecodeCursor(req.Cursor)
//	result := pagination.Slice(items, pos, req.PageSize, true)
//
// Slices of a partial snapshot never report completion: they always carry a
// next cursor and their Total is the count accumulated so far.
package pagination
