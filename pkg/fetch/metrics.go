package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pageRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancache_page_requests_total",
		Help: "GetPage calls by serving path",
	}, []string{"source"}) // "all", "chunk", "partial", "store", "empty", "error"

	pageRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scancache_page_request_duration_seconds",
		Help:    "GetPage latency by serving path",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"source"})

	backgroundTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancache_background_tasks_total",
		Help: "Detached tasks by outcome",
	}, []string{"outcome"}) // "ok", "contended", "error", "panic", "rejected", "deduplicated"
)
