// Package scantest provides an in-memory scan.Source for tests.
package scantest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/scancache/internal/testutil"
	"github.com/Sternrassler/scancache/pkg/scan"
)

// MockSource is an in-memory backing store. Cursors are decimal offsets.
type MockSource struct {
	mu    sync.Mutex
	items map[string][]json.RawMessage

	delay     time.Duration
	failAfter int

	// Tracking
	calls   int
	limits  []int
	cursors []string
}

// NewMockSource creates a source holding n items for resource. Item i is the
// JSON object {"id": i}, see testutil.GenerateItems.
func NewMockSource(resource string, n int) *MockSource {
	s := &MockSource{items: make(map[string][]json.RawMessage)}
	s.SetItems(resource, testutil.GenerateItems(n))
	return s
}

// SetItems replaces the items of resource.
func (s *MockSource) SetItems(resource string, items []json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[resource] = items
}

// SetDelay applies d to every ScanPage call.
func (s *MockSource) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetFailAfter makes ScanPage fail once n calls were made (0 = never).
func (s *MockSource) SetFailAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
}

// ScanPage implements scan.Source.
func (s *MockSource) ScanPage(ctx context.Context, resource, cursor string, limit int) (scan.Page, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.limits = append(s.limits, limit)
	s.cursors = append(s.cursors, cursor)
	items := s.items[resource]
	delay := s.delay
	failAfter := s.failAfter
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return scan.Page{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	if failAfter > 0 && call > failAfter {
		return scan.Page{}, fmt.Errorf("mock source: simulated failure on call %d", call)
	}

	offset := 0
	if cursor != "" {
		var err error
		offset, err = strconv.Atoi(cursor)
		if err != nil {
			return scan.Page{}, fmt.Errorf("mock source: bad cursor %q", cursor)
		}
	}

	start := min(offset, len(items))
	end := min(start+limit, len(items))
	page := scan.Page{Items: append([]json.RawMessage(nil), items[start:end]...)}
	if end < len(items) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// Calls returns the number of ScanPage calls.
func (s *MockSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Limits returns the limit passed to each call.
func (s *MockSource) Limits() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.limits...)
}

// Cursors returns the cursor passed to each call.
func (s *MockSource) Cursors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cursors...)
}

// Reset clears all tracking counters and failure injection.
func (s *MockSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = 0
	s.limits = nil
	s.cursors = nil
	s.failAfter = 0
}
