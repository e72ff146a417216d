package pagination

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func makeItems(n int) []json.RawMessage {
	items := make([]json.RawMessage, n)
	for i := range items {
		items[i] = json.RawMessage(strconv.Itoa(i))
	}
	return items
}

func TestDecodeCursor(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		want    Position
		wantErr bool
	}{
		{name: "empty is start", token: "", want: Position{}},
		{name: "offset", token: EncodeCursor(Position{Offset: 50}), want: Position{Offset: 50}},
		{name: "store cursor", token: EncodeCursor(Position{Offset: 50, StoreCursor: "bm-1"}), want: Position{Offset: 50, StoreCursor: "bm-1"}},
		{name: "not base64", token: "%%%", wantErr: true},
		{name: "not json", token: "bm90LWpzb24", wantErr: true},
		{name: "negative offset", token: EncodeCursor(Position{Offset: -1}), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCursor(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCursor) {
					t.Fatalf("DecodeCursor() error = %v, want ErrInvalidCursor", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeCursor() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeCursor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCursor_RoundTripProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("decode(encode(pos)) == pos", prop.ForAll(
		func(offset int, storeCursor string) bool {
			pos := Position{Offset: offset, StoreCursor: storeCursor}
			got, err := DecodeCursor(EncodeCursor(pos))
			return err == nil && got == pos
		},
		gen.IntRange(0, 1<<30),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		want    int
		wantErr bool
	}{
		{name: "default", size: 0, want: 25},
		{name: "explicit", size: 50, want: 50},
		{name: "at max", size: 500, want: 500},
		{name: "above max", size: 501, wantErr: true},
		{name: "negative", size: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(Request{PageSize: tt.size}, 25, 500)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.PageSize != tt.want {
				t.Errorf("PageSize = %d, want %d", got.PageSize, tt.want)
			}
		})
	}
}

func TestSlice_Complete(t *testing.T) {
	items := makeItems(120)

	first := Slice(items, Position{}, 50, true)
	if len(first.Items) != 50 || string(first.Items[0]) != "0" {
		t.Fatalf("first page = %d items starting %s", len(first.Items), first.Items[0])
	}
	if first.NextCursor == nil {
		t.Fatal("first page must have a next cursor")
	}
	if *first.Total != 120 || !first.Complete || first.Source != SourceAll {
		t.Errorf("first page meta = total %d complete %v source %s", *first.Total, first.Complete, first.Source)
	}

	pos, _ := DecodeCursor(*first.NextCursor)
	third := Slice(items, Position{Offset: 100}, 50, true)
	if pos.Offset != 50 {
		t.Errorf("next offset = %d, want 50", pos.Offset)
	}
	if len(third.Items) != 20 {
		t.Errorf("last page = %d items, want 20", len(third.Items))
	}
	if third.NextCursor != nil {
		t.Error("last page of a complete result must have nil next cursor")
	}

	beyond := Slice(items, Position{Offset: 500}, 50, true)
	if len(beyond.Items) != 0 || beyond.NextCursor != nil {
		t.Errorf("offset past end = %d items, next %v", len(beyond.Items), beyond.NextCursor)
	}
}

func TestSlice_PartialNeverCompletes(t *testing.T) {
	items := makeItems(30)

	page := Slice(items, Position{Offset: 10}, 50, false)
	if len(page.Items) != 20 {
		t.Fatalf("items = %d, want 20", len(page.Items))
	}
	if page.Complete || page.Source != SourcePartial {
		t.Errorf("complete = %v, source = %s", page.Complete, page.Source)
	}
	if page.NextCursor == nil {
		t.Fatal("partial page must always carry a next cursor")
	}
	if pos, _ := DecodeCursor(*page.NextCursor); pos.Offset != 30 {
		t.Errorf("next offset = %d, want 30", pos.Offset)
	}
	if *page.Total != 30 {
		t.Errorf("total = %d, want accumulated count 30", *page.Total)
	}
}

func TestSlice_PartialPastEndKeepsPosition(t *testing.T) {
	items := make([]json.RawMessage, 1000)
	for i := range items {
		items[i] = json.RawMessage(`{}`)
	}

	tests := []Position{
		{Offset: 1000},
		{Offset: 1050, StoreCursor: "1050"},
	}
	for _, pos := range tests {
		page := Slice(items, pos, 50, false)
		if len(page.Items) != 0 {
			t.Errorf("offset %d: items = %d, want 0", pos.Offset, len(page.Items))
		}
		if page.NextCursor == nil {
			t.Fatalf("offset %d: partial page without cursor", pos.Offset)
		}
		next, err := DecodeCursor(*page.NextCursor)
		if err != nil {
			t.Fatalf("DecodeCursor() error = %v", err)
		}
		if next != pos {
			t.Errorf("next position = %+v, want unchanged %+v", next, pos)
		}
	}

	// Inside the snapshot the cursor still advances.
	page := Slice(items, Position{Offset: 980}, 50, false)
	next, _ := DecodeCursor(*page.NextCursor)
	if next.Offset != 1000 {
		t.Errorf("next offset = %d, want 1000", next.Offset)
	}
}

func TestEmpty(t *testing.T) {
	cold := Empty(Request{PageSize: 50})
	if cold.Items == nil || len(cold.Items) != 0 {
		t.Error("empty page must have a non-nil empty item list")
	}
	if cold.NextCursor == nil || cold.Complete {
		t.Error("empty page must not look complete")
	}
	if *cold.NextCursor != "" {
		t.Errorf("first-page retry cursor = %q, want the empty start token", *cold.NextCursor)
	}

	token := EncodeCursor(Position{Offset: 50, StoreCursor: "x"})
	retry := Empty(Request{Cursor: token, PageSize: 50})
	if *retry.NextCursor != token {
		t.Errorf("empty page must hand back the request cursor")
	}

	data, _ := json.Marshal(cold)
	if string(data) == "" || !json.Valid(data) {
		t.Fatalf("invalid JSON: %s", data)
	}
}
