package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/scancache/internal/testutil"
	"github.com/Sternrassler/scancache/pkg/config"
	"github.com/Sternrassler/scancache/pkg/pagination"
	"github.com/Sternrassler/scancache/pkg/source/dynamo"
	"github.com/Sternrassler/scancache/pkg/source/httpapi"
)

func testConfig(mr *miniredis.Miniredis, upstream *testutil.MockUpstream) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.Prefix = "test"
	cfg.Source.HTTP.BaseURL = upstream.URL()
	cfg.Scan.PageSize = 50
	cfg.Scan.PageDelay = 0
	cfg.Scan.ScanOnMiss = false
	cfg.Lock.MaxRetries = 0
	cfg.Resources = []string{"orders", "customers"}
	return cfg
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scancache.yaml")
	yaml := `
redis:
  addr: redis.internal:6379
source:
  kind: http
  http:
    base_url: https://api.example.com
resources: [orders]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "")
	if err := cmd.Flags().Set("config", path); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("redis.addr = %q", cfg.Redis.Addr)
	}
	if len(cfg.Resources) != 1 || cfg.Resources[0] != "orders" {
		t.Errorf("resources = %v", cfg.Resources)
	}
}

func TestRootCommand(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "warm"} {
		if !names[want] {
			t.Errorf("missing %s subcommand", want)
		}
	}
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config flag")
	}
}

func TestWarmTargets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Resources = []string{"orders", "customers"}

	tests := []struct {
		name      string
		resources []string
		args      []string
		want      int
		wantErr   bool
	}{
		{name: "configured", resources: cfg.Resources, want: 2},
		{name: "explicit subset", resources: cfg.Resources, args: []string{"orders"}, want: 1},
		{name: "not allowed", resources: cfg.Resources, args: []string{"invoices"}, wantErr: true},
		{name: "nothing configured", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *cfg
			c.Resources = tt.resources
			got, err := warmTargets(&c, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("warmTargets() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("warmTargets() = %v, want %d entries", got, tt.want)
			}
		})
	}
}

func TestNewSource(t *testing.T) {
	_, client := testutil.NewRedis(t)
	ctx := context.Background()

	t.Run("http", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Source.HTTP.BaseURL = "https://api.example.com"
		src, closeFn, err := newSource(ctx, cfg, client)
		if err != nil {
			t.Fatalf("newSource() error = %v", err)
		}
		if _, ok := src.(*httpapi.Client); !ok {
			t.Errorf("source = %T, want *httpapi.Client", src)
		}
		if closeFn != nil {
			t.Error("http source should not need closing")
		}
	})

	t.Run("dynamodb", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Source.Kind = config.SourceDynamoDB
		cfg.Source.DynamoDB.Region = "eu-central-1"
		cfg.Source.DynamoDB.Endpoint = "http://localhost:8000"
		cfg.Source.DynamoDB.AccessKeyID = "local"
		cfg.Source.DynamoDB.SecretAccessKey = "local"
		src, _, err := newSource(ctx, cfg, client)
		if err != nil {
			t.Fatalf("newSource() error = %v", err)
		}
		if _, ok := src.(*dynamo.Source); !ok {
			t.Errorf("source = %T, want *dynamo.Source", src)
		}
	})

	t.Run("postgres without url", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Source.Kind = config.SourcePostgres
		if _, _, err := newSource(ctx, cfg, client); err == nil {
			t.Fatal("expected error for missing database url")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Source.Kind = "ftp"
		if _, _, err := newSource(ctx, cfg, client); err == nil {
			t.Fatal("expected error for unknown kind")
		}
	})
}

func TestNewApp_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	cfg := testConfig(mr, upstream)
	mr.Close()

	_, err := newApp(context.Background(), cfg, redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr}))
	if err == nil {
		t.Fatal("newApp() succeeded with redis down")
	}
}

func TestHandler_ServesPages(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetItems("orders", testutil.GenerateItems(40))

	cfg := testConfig(mr, upstream)
	a, err := newApp(context.Background(), cfg, newRedisClient(cfg))
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.Close()
	h := newHandler(a)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resources/orders?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var page pagination.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 10 || page.Source != pagination.SourceStore {
		t.Errorf("page = %d items from %q, want 10 from store", len(page.Items), page.Source)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resources/invoices", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unlisted resource status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	// The quota tracker shares the cache prefix.
	if !mr.Exists("test:quota:default") {
		t.Error("upstream quota was not recorded")
	}
}

func TestRunWarm(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetItems("orders", testutil.GenerateItems(120))
	upstream.SetItems("customers", testutil.GenerateItems(30))

	cfg := testConfig(mr, upstream)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := runWarm(ctx, cfg, zerolog.Nop(), nil, ""); err != nil {
		t.Fatalf("runWarm() error = %v", err)
	}

	for resource, want := range map[string]int{"orders": 120, "customers": 30} {
		raw, err := mr.Get("test:all:" + resource)
		if err != nil {
			t.Fatalf("full result for %s missing: %v", resource, err)
		}
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			t.Fatal(err)
		}
		if len(items) != want {
			t.Errorf("%s: %d items cached, want %d", resource, len(items), want)
		}
	}
}

func TestRunWarm_Failure(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetItems("orders", testutil.GenerateItems(10))
	// customers is unknown upstream and answers 404

	cfg := testConfig(mr, upstream)
	if err := runWarm(context.Background(), cfg, zerolog.Nop(), nil, ""); err == nil {
		t.Fatal("runWarm() succeeded although customers failed")
	}
	if !mr.Exists("test:all:orders") {
		t.Error("orders should be warmed despite the other failure")
	}
}

func TestRunWarm_BadSchedule(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	cfg := testConfig(mr, upstream)
	if err := runWarm(context.Background(), cfg, zerolog.Nop(), nil, "every tuesday"); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
