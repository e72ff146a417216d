package testutil

import (
	"encoding/json"
	"fmt"
)

// GenerateItems returns n distinct JSON items in order.
func GenerateItems(n int) []json.RawMessage {
	items := make([]json.RawMessage, n)
	for i := range items {
		items[i] = json.RawMessage(fmt.Sprintf(`{"id":%d}`, i))
	}
	return items
}
