// Package metrics exposes the Prometheus registry and scrape handler.
// Metrics are defined with promauto in the package that records them
// (cache, lock, scan, fetch, ratelimit, source/*) to avoid import cycles.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all scancache metrics use.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - scancache_cache_hits_total{tier} (Counter): Hits by tier (all, chunk, partial)
//   - scancache_cache_misses_total{tier} (Counter): Misses by tier
//   - scancache_cache_written_bytes_total (Counter): Bytes written to the cache store
//   - scancache_cache_errors_total{operation} (Counter): Cache store failures
//
// Lock Metrics (pkg/lock):
//   - scancache_lock_acquisitions_total{result} (Counter): acquired, contended, error
//   - scancache_lock_stale_reclaims_total (Counter): Stale locks force-deleted
//   - scancache_lock_releases_total{result} (Counter): released, lost, error
//
// Scan Metrics (pkg/scan):
//   - scancache_scan_pages_total{resource} (Counter): Backing-store pages requested
//   - scancache_scans_total{outcome} (Counter): Scans by outcome
//   - scancache_scan_resumptions_total (Counter): Scans resumed from a checkpoint
//   - scancache_scan_duration_seconds{outcome} (Histogram): Scan duration
//
// Fetch Metrics (pkg/fetch):
//   - scancache_page_requests_total{source} (Counter): Pages by serving path
//   - scancache_page_request_duration_seconds{source} (Histogram): GetPage latency
//   - scancache_background_tasks_total{outcome} (Counter): Detached tasks by outcome
//
// Upstream Metrics (pkg/ratelimit, pkg/source/httpapi):
//   - scancache_upstream_quota_remaining{upstream} (Gauge): Requests left in the window
//   - scancache_upstream_quota_blocks_total{upstream} (Counter): Requests blocked
//   - scancache_upstream_quota_throttles_total{upstream} (Counter): Requests delayed
//   - scancache_upstream_requests_total{resource, status} (Counter)
//   - scancache_upstream_request_duration_seconds{resource} (Histogram)
//   - scancache_upstream_errors_total{class} (Counter)
//   - scancache_upstream_retries_total{error_class} (Counter)
//   - scancache_upstream_retry_backoff_seconds{error_class} (Histogram)
//   - scancache_upstream_retry_exhausted_total{error_class} (Counter)
//
// DynamoDB Metrics (pkg/source/dynamo):
//   - scancache_dynamo_scan_requests_total{table, result} (Counter)
//   - scancache_dynamo_consumed_capacity_units_total{table} (Counter)
//
// Example Prometheus Queries:
//
//   # Full-result hit rate
//   sum(rate(scancache_cache_hits_total{tier="all"}[5m])) /
//   sum(rate(scancache_page_requests_total[5m]))
//
//   # Requests answered with an empty page while a scan holds the lock
//   rate(scancache_page_requests_total{source="empty"}[5m])
//
//   # Aborted scans
//   sum by (outcome) (rate(scancache_scans_total{outcome!="complete"}[15m]))
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(scancache_page_request_duration_seconds_bucket[5m]))
