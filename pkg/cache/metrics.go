package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by tier (all, chunk, partial)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scancache_cache_hits_total",
			Help: "Total number of listing cache hits",
		},
		[]string{"tier"},
	)

	// CacheMisses tracks cache misses by tier
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scancache_cache_misses_total",
			Help: "Total number of listing cache misses",
		},
		[]string{"tier"},
	)

	// CacheBytesWritten tracks payload bytes written to the store
	CacheBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scancache_cache_written_bytes_total",
			Help: "Total bytes written to the cache store",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scancache_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "exists", "setnx", "cad", "set_if_equal"
	)
)
