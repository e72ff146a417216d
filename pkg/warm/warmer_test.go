package warm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/scancache/internal/testutil"
	"github.com/Sternrassler/scancache/pkg/cache"
	"github.com/Sternrassler/scancache/pkg/lock"
	"github.com/Sternrassler/scancache/pkg/scan"
	"github.com/Sternrassler/scancache/pkg/scan/scantest"
	"github.com/rs/zerolog"
)

// fakeFetcher records concurrency and returns per-resource results.
type fakeFetcher struct {
	delay   time.Duration
	results map[string]error

	mu      sync.Mutex
	running int
	peak    int
	calls   []string
}

func (f *fakeFetcher) FetchAll(ctx context.Context, resource string) ([]json.RawMessage, error) {
	f.mu.Lock()
	f.running++
	f.peak = max(f.peak, f.running)
	f.calls = append(f.calls, resource)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.delay):
	}

	if err := f.results[resource]; err != nil {
		return nil, err
	}
	return testutil.GenerateItems(3), nil
}

func TestWarmAll_Outcomes(t *testing.T) {
	boom := errors.New("backing store down")
	fetcher := &fakeFetcher{results: map[string]error{
		"users":    fmt.Errorf("%w: lock:users", lock.ErrLockUnavailable),
		"invoices": boom,
	}}
	w := NewWarmer(fetcher, Config{MaxConcurrency: 2}, zerolog.Nop())

	report, err := w.WarmAll(context.Background(), []string{"orders", "users", "invoices"})
	if err == nil {
		t.Fatal("WarmAll() error = nil with a failed resource")
	}

	tests := []struct {
		resource string
		status   Status
		items    int
	}{
		{"orders", StatusWarmed, 3},
		{"users", StatusSkipped, 0},
		{"invoices", StatusFailed, 0},
	}
	for _, tt := range tests {
		o, ok := report[tt.resource]
		if !ok {
			t.Errorf("no outcome for %s", tt.resource)
			continue
		}
		if o.Status != tt.status || o.Items != tt.items {
			t.Errorf("%s = %s/%d, want %s/%d", tt.resource, o.Status, o.Items, tt.status, tt.items)
		}
	}
	if !errors.Is(report["invoices"].Err, boom) {
		t.Errorf("invoices error = %v, want %v", report["invoices"].Err, boom)
	}
	if failed := report.Failed(); len(failed) != 1 || failed[0] != "invoices" {
		t.Errorf("Failed() = %v, want [invoices]", failed)
	}
}

func TestWarmAll_BoundedConcurrency(t *testing.T) {
	fetcher := &fakeFetcher{delay: 20 * time.Millisecond}
	w := NewWarmer(fetcher, Config{MaxConcurrency: 3}, zerolog.Nop())

	resources := make([]string, 10)
	for i := range resources {
		resources[i] = fmt.Sprintf("r%02d", i)
	}

	report, err := w.WarmAll(context.Background(), resources)
	if err != nil {
		t.Fatalf("WarmAll() error = %v", err)
	}
	if len(report) != 10 {
		t.Errorf("outcomes = %d, want 10", len(report))
	}
	if fetcher.peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", fetcher.peak)
	}

	calls := append([]string(nil), fetcher.calls...)
	sort.Strings(calls)
	if fmt.Sprint(calls) != fmt.Sprint(resources) {
		t.Errorf("calls = %v, want each resource once", calls)
	}
}

func TestWarmAll_Empty(t *testing.T) {
	w := NewWarmer(&fakeFetcher{}, DefaultConfig(), zerolog.Nop())
	report, err := w.WarmAll(context.Background(), nil)
	if err != nil || len(report) != 0 {
		t.Errorf("WarmAll(nil) = %v, %v", report, err)
	}
}

func TestWarmAll_PerResourceTimeout(t *testing.T) {
	fetcher := &fakeFetcher{delay: time.Minute}
	w := NewWarmer(fetcher, Config{MaxConcurrency: 1, Timeout: 20 * time.Millisecond}, zerolog.Nop())

	report, err := w.WarmAll(context.Background(), []string{"orders"})
	if err == nil {
		t.Fatal("WarmAll() error = nil after timeout")
	}
	if !errors.Is(report["orders"].Err, context.DeadlineExceeded) {
		t.Errorf("orders error = %v, want deadline exceeded", report["orders"].Err)
	}
}

func TestWarmAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWarmer(&fakeFetcher{}, Config{MaxConcurrency: 1}, zerolog.Nop())
	_, err := w.WarmAll(ctx, []string{"a", "b", "c"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WarmAll() error = %v, want context canceled", err)
	}
}

func TestWarmAll_WithCoordinator(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	store := cache.NewRedisStore(client, "test")
	locks := lock.NewManager(store, lock.DefaultConfig(), zerolog.Nop())

	src := scantest.NewMockSource("orders", 1200)
	src.SetItems("users", testutil.GenerateItems(40))
	coord := scan.NewCoordinator(store, locks, src, scan.Config{PageSize: 500, PartialThreshold: 500, CacheTTL: time.Hour}, zerolog.Nop())

	report, err := NewWarmer(coord, DefaultConfig(), zerolog.Nop()).WarmAll(context.Background(), []string{"orders", "users"})
	if err != nil {
		t.Fatalf("WarmAll() error = %v", err)
	}
	if report["orders"].Items != 1200 || report["users"].Items != 40 {
		t.Errorf("items = %d/%d, want 1200/40", report["orders"].Items, report["users"].Items)
	}
	for _, key := range []string{"test:all:orders", "test:all:users"} {
		if !mr.Exists(key) {
			t.Errorf("%s not cached", key)
		}
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/15 * * * *", false},
		{"0 3 * * *", false},
		{"@hourly", false},
		{"@every 10m", false},
		{"", true},
		{"not a schedule", true},
		{"* * * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestRunScheduled(t *testing.T) {
	var runs atomic.Int32
	fetcher := &countingFetcher{runs: &runs}
	w := NewWarmer(fetcher, DefaultConfig(), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	if err := w.RunScheduled(ctx, "@every 1s", []string{"orders"}); err != nil {
		t.Fatalf("RunScheduled() error = %v", err)
	}
	if got := runs.Load(); got < 1 {
		t.Errorf("scheduled runs = %d, want at least 1", got)
	}
}

func TestRunScheduled_InvalidExpr(t *testing.T) {
	w := NewWarmer(&fakeFetcher{}, DefaultConfig(), zerolog.Nop())
	if err := w.RunScheduled(context.Background(), "bogus", nil); err == nil {
		t.Error("RunScheduled() error = nil for an invalid schedule")
	}
}

type countingFetcher struct {
	runs *atomic.Int32
}

func (f *countingFetcher) FetchAll(context.Context, string) ([]json.RawMessage, error) {
	f.runs.Add(1)
	return nil, nil
}
