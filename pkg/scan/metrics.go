package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scanPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancache_scan_pages_total",
		Help: "Backing-store pages requested by scans",
	}, []string{"resource"})

	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancache_scans_total",
		Help: "Scans by outcome",
	}, []string{"outcome"}) // "complete", "contended", "stale", "source_error", "cache_error", "cancelled"

	scanResumptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scancache_scan_resumptions_total",
		Help: "Scans resumed from a persisted checkpoint",
	})

	scanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scancache_scan_duration_seconds",
		Help:    "Duration of scan runs by outcome",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"outcome"})
)
