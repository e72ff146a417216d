package cache

import (
	"strings"
	"testing"
)

func TestKeys(t *testing.T) {
	keys := KeysFor("orders")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "all", got: keys.All(), want: "all:orders"},
		{name: "partial", got: keys.Partial(), want: "partial:orders"},
		{name: "checkpoint", got: keys.Checkpoint(), want: "checkpoint:orders"},
		{name: "lock", got: keys.Lock(), want: "lock:orders"},
		{name: "chunk start", got: keys.Chunk("", 50), want: "chunk:orders:start:50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("key = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestKeysFor_TrimsSeparators(t *testing.T) {
	if got := KeysFor(":orders:").All(); got != "all:orders" {
		t.Errorf("All() = %q, want all:orders", got)
	}
}

func TestKeys_ChunkDeterminism(t *testing.T) {
	keys := KeysFor("orders")
	cursor := strings.Repeat("eyJvIjo1MH0", 40)

	a := keys.Chunk(cursor, 50)
	b := keys.Chunk(cursor, 50)
	if a != b {
		t.Errorf("Chunk() not deterministic: %q vs %q", a, b)
	}

	if keys.Chunk(cursor, 25) == a {
		t.Error("Chunk() must differ by page size")
	}
	if keys.Chunk(cursor+"x", 50) == a {
		t.Error("Chunk() must differ by cursor")
	}
	if len(a) > 64 {
		t.Errorf("Chunk() key too long for long cursor: %d bytes", len(a))
	}
}
