// Package warm populates the cache for many resources ahead of user traffic
// by running full scans in a bounded worker pool, once or on a cron schedule.
package warm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/scancache/pkg/lock"
	"github.com/rs/zerolog"
)

// Fetcher runs a full scan of one resource. *scan.Coordinator implements it.
type Fetcher interface {
	FetchAll(ctx context.Context, resource string) ([]json.RawMessage, error)
}

// Config holds warmer settings.
type Config struct {
	// MaxConcurrency is the number of resources scanned in parallel
	MaxConcurrency int

	// Timeout bounds the scan of one resource
	Timeout time.Duration
}

// DefaultConfig returns default warmer settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        30 * time.Minute,
	}
}

// Status is the outcome of warming one resource.
type Status string

const (
	StatusWarmed  Status = "warmed"
	StatusSkipped Status = "skipped" // another process holds the scan lock
	StatusFailed  Status = "failed"
)

// Outcome reports the warm-up of one resource.
type Outcome struct {
	Resource string
	Status   Status
	Items    int
	Duration time.Duration
	Err      error
}

// Report maps resources to their outcomes.
type Report map[string]Outcome

// Failed returns the resources whose scan failed.
func (r Report) Failed() []string {
	var failed []string
	for resource, o := range r {
		if o.Status == StatusFailed {
			failed = append(failed, resource)
		}
	}
	return failed
}

// Warmer scans resources in parallel.
type Warmer struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewWarmer creates a warmer.
func NewWarmer(fetcher Fetcher, config Config, logger zerolog.Logger) *Warmer {
	def := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Warmer{fetcher: fetcher, config: config, logger: logger}
}

// WarmAll scans every resource and reports per-resource outcomes. A resource
// locked by another process is skipped, not failed. The returned error is
// non-nil when at least one scan failed or ctx ended early.
func (w *Warmer) WarmAll(ctx context.Context, resources []string) (Report, error) {
	start := time.Now()
	report := make(Report, len(resources))
	if len(resources) == 0 {
		return report, nil
	}

	w.logger.Info().
		Int("resources", len(resources)).
		Int("workers", w.config.MaxConcurrency).
		Msg("Starting cache warm-up")

	queue := make(chan string, len(resources))
	for _, r := range resources {
		queue <- r
	}
	close(queue)

	outcomes := make(chan Outcome, len(resources))

	var wg sync.WaitGroup
	for i := range min(w.config.MaxConcurrency, len(resources)) {
		wg.Add(1)
		go w.worker(ctx, queue, outcomes, &wg, i)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	done := 0
	for o := range outcomes {
		report[o.Resource] = o
		done++
		w.logger.Info().
			Str("resource", o.Resource).
			Str("status", string(o.Status)).
			Int("items", o.Items).
			Dur("duration", o.Duration).
			Int("done", done).
			Int("total", len(resources)).
			Msg("Warm-up progress")
	}

	failed := report.Failed()
	w.logger.Info().
		Int("resources", len(resources)).
		Int("failed", len(failed)).
		Dur("duration", time.Since(start)).
		Msg("Cache warm-up complete")

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("warm-up interrupted (%d/%d resources): %w", len(report), len(resources), err)
	}
	if len(failed) > 0 {
		return report, fmt.Errorf("warm-up failed for %d of %d resources: %v", len(failed), len(resources), failed)
	}
	return report, nil
}

// worker scans resources from the queue until it is drained or ctx ends.
func (w *Warmer) worker(ctx context.Context, queue <-chan string, outcomes chan<- Outcome, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for resource := range queue {
		if ctx.Err() != nil {
			w.logger.Debug().
				Int("worker_id", workerID).
				Int("processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		outcomes <- w.warmOne(ctx, resource)
		processed++
	}

	w.logger.Debug().
		Int("worker_id", workerID).
		Int("processed", processed).
		Msg("Worker completed")
}

func (w *Warmer) warmOne(ctx context.Context, resource string) Outcome {
	scanCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	start := time.Now()
	items, err := w.fetcher.FetchAll(scanCtx, resource)
	o := Outcome{Resource: resource, Duration: time.Since(start), Items: len(items)}

	switch {
	case err == nil:
		o.Status = StatusWarmed
	case errors.Is(err, lock.ErrLockUnavailable):
		o.Status = StatusSkipped
	default:
		o.Status = StatusFailed
		o.Err = err
		w.logger.Warn().Err(err).Str("resource", resource).Msg("Warm-up scan failed")
	}
	return o
}
