package httpapi

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/scancache/internal/testutil"
	"github.com/Sternrassler/scancache/pkg/cache"
	"github.com/Sternrassler/scancache/pkg/lock"
	"github.com/Sternrassler/scancache/pkg/ratelimit"
	"github.com/Sternrassler/scancache/pkg/scan"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, mock *testutil.MockUpstream, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig(mock.URL())
	cfg.Retry = fastPolicy(3)
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		errorMsg string
	}{
		{name: "valid config", config: DefaultConfig("https://api.example.com/v1")},
		{name: "missing base url", config: Config{UserAgent: "x"}, errorMsg: "base url is required"},
		{name: "unsupported scheme", config: Config{BaseURL: "ftp://example.com", UserAgent: "x"}, errorMsg: "must be http or https"},
		{name: "missing user agent", config: Config{BaseURL: "https://api.example.com"}, errorMsg: "user-agent is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config, zerolog.Nop())
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("New() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("New() error = %v, want containing %q", err, tt.errorMsg)
			}
		})
	}
}

func TestScanPage_Pagination(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetItems("orders", testutil.GenerateItems(250))

	client := newTestClient(t, mock, nil)
	ctx := context.Background()

	first, err := client.ScanPage(ctx, "orders", "", 100)
	if err != nil {
		t.Fatalf("ScanPage() error = %v", err)
	}
	if len(first.Items) != 100 || first.NextCursor != "100" {
		t.Fatalf("first page = %d items, cursor %q", len(first.Items), first.NextCursor)
	}
	if q := mock.LastQuery(); q != "page_size=100" {
		t.Errorf("query = %q, want page_size=100", q)
	}

	second, err := client.ScanPage(ctx, "orders", first.NextCursor, 100)
	if err != nil {
		t.Fatalf("ScanPage() error = %v", err)
	}
	if q := mock.LastQuery(); q != "bookmark=100&page_size=100" {
		t.Errorf("query = %q, want bookmark=100&page_size=100", q)
	}

	last, err := client.ScanPage(ctx, "orders", second.NextCursor, 100)
	if err != nil {
		t.Fatalf("ScanPage() error = %v", err)
	}
	if len(last.Items) != 50 || last.NextCursor != "" {
		t.Errorf("last page = %d items, cursor %q; want 50 and end", len(last.Items), last.NextCursor)
	}

	all := append(append(first.Items, second.Items...), last.Items...)
	if !reflect.DeepEqual(all, testutil.GenerateItems(250)) {
		t.Error("pages do not reproduce the listing in order")
	}
}

func TestScanPage_EmptyListing(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetItems("orders", nil)

	page, err := newTestClient(t, mock, nil).ScanPage(context.Background(), "orders", "", 10)
	if err != nil {
		t.Fatalf("ScanPage() error = %v", err)
	}
	if page.Items == nil || len(page.Items) != 0 || page.NextCursor != "" {
		t.Errorf("page = %+v, want empty non-nil items and no cursor", page)
	}
}

func TestScanPage_Headers(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetItems("orders", testutil.GenerateItems(1))
	mock.RequireToken("secret")

	client := newTestClient(t, mock, func(c *Config) {
		c.Token = "secret"
		c.UserAgent = "scancache-test/1.0"
	})
	if _, err := client.ScanPage(context.Background(), "orders", "", 10); err != nil {
		t.Fatalf("ScanPage() error = %v", err)
	}

	h := mock.LastRequestHeader()
	if got := h.Get("User-Agent"); got != "scancache-test/1.0" {
		t.Errorf("User-Agent = %q", got)
	}
	if got := h.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q", got)
	}
}

func TestScanPage_ErrorHandling(t *testing.T) {
	tests := []struct {
		name         string
		responses    []testutil.MockUpstreamResponse
		wantErr      bool
		wantStatus   int
		wantClass    ErrorClass
		wantRequests int
	}{
		{
			name:         "server error retried then ok",
			responses:    []testutil.MockUpstreamResponse{{StatusCode: http.StatusServiceUnavailable}},
			wantRequests: 2,
		},
		{
			name:         "rate limited retried then ok",
			responses:    []testutil.MockUpstreamResponse{{StatusCode: http.StatusTooManyRequests}},
			wantRequests: 2,
		},
		{
			name:         "truncated body retried then ok",
			responses:    []testutil.MockUpstreamResponse{{StatusCode: http.StatusOK, Body: `{"items": [`}},
			wantRequests: 2,
		},
		{
			name: "server error exhausted",
			responses: []testutil.MockUpstreamResponse{
				{StatusCode: http.StatusBadGateway},
				{StatusCode: http.StatusBadGateway},
				{StatusCode: http.StatusBadGateway},
			},
			wantErr:      true,
			wantStatus:   http.StatusBadGateway,
			wantClass:    ErrorClassServer,
			wantRequests: 3,
		},
		{
			name:         "client error not retried",
			responses:    []testutil.MockUpstreamResponse{{StatusCode: http.StatusForbidden, Body: `{"error":"forbidden"}`}},
			wantErr:      true,
			wantStatus:   http.StatusForbidden,
			wantClass:    ErrorClassClient,
			wantRequests: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockUpstream()
			defer mock.Close()
			mock.SetItems("orders", testutil.GenerateItems(5))
			mock.Enqueue(tt.responses...)

			page, err := newTestClient(t, mock, nil).ScanPage(context.Background(), "orders", "", 10)

			if got := mock.RequestCount(); got != tt.wantRequests {
				t.Errorf("requests = %d, want %d", got, tt.wantRequests)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ScanPage() error = %v", err)
				}
				if len(page.Items) != 5 {
					t.Errorf("items = %d, want 5", len(page.Items))
				}
				return
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("ScanPage() error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.wantStatus || apiErr.ErrorClass != tt.wantClass {
				t.Errorf("APIError = %d/%s, want %d/%s", apiErr.StatusCode, apiErr.ErrorClass, tt.wantStatus, tt.wantClass)
			}
		})
	}
}

func TestScanPage_NetworkError(t *testing.T) {
	mock := testutil.NewMockUpstream()
	client := newTestClient(t, mock, nil)
	mock.Close()

	_, err := client.ScanPage(context.Background(), "orders", "", 10)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("ScanPage() error = %v, want retry exhausted", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("error = %v, want network APIError", err)
	}
}

func TestScanPage_QuotaGate(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetItems("orders", testutil.GenerateItems(10))
	mock.SetRemaining(2)

	_, redisClient := testutil.NewRedis(t)
	tracker := ratelimit.NewTracker(redisClient, "commerce", ratelimit.DefaultConfig(), zerolog.Nop())

	client := newTestClient(t, mock, func(c *Config) { c.Quota = tracker })
	ctx := context.Background()

	if _, err := client.ScanPage(ctx, "orders", "", 5); err != nil {
		t.Fatalf("first ScanPage() error = %v", err)
	}

	_, err := client.ScanPage(ctx, "orders", "5", 5)
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("second ScanPage() error = %v, want ErrQuotaExhausted", err)
	}
	if got := mock.RequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestScanPage_FullScan(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetItems("orders", testutil.GenerateItems(2500))

	_, redisClient := testutil.NewRedis(t)
	store := cache.NewRedisStore(redisClient, "test")
	locks := lock.NewManager(store, lock.DefaultConfig(), zerolog.Nop())
	coord := scan.NewCoordinator(store, locks, newTestClient(t, mock, nil), scan.Config{
		PageSize:         1000,
		PartialThreshold: 500,
		CacheTTL:         time.Hour,
	}, zerolog.Nop())

	items, err := coord.FetchAll(context.Background(), "orders")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if !reflect.DeepEqual(items, testutil.GenerateItems(2500)) {
		t.Errorf("FetchAll() returned %d items, not the listing in order", len(items))
	}
	if got := mock.RequestCount(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}
