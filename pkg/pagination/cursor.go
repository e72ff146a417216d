package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCursor indicates a cursor token that could not be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// Position is the decoded form of an external cursor.
type Position struct {
	// Offset is the index of the first item of the requested page
	Offset int `json:"o"`

	// StoreCursor is the backing-store cursor that yields the item at Offset,
	// set only for pages served directly from the store
	StoreCursor string `json:"s,omitempty"`
}

// EncodeCursor returns the opaque token for pos.
func EncodeCursor(pos Position) string {
	data, _ := json.Marshal(pos)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses an external cursor. The empty token is the start.
func DecodeCursor(token string) (Position, error) {
	if token == "" {
		return Position{}, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var pos Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if pos.Offset < 0 {
		return Position{}, fmt.Errorf("%w: negative offset %d", ErrInvalidCursor, pos.Offset)
	}
	return pos, nil
}
