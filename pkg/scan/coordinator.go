package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/scancache/pkg/cache"
	"github.com/Sternrassler/scancache/pkg/lock"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config holds scan tuning.
type Config struct {
	// PageSize bounds each backing-store call. Keep it below the store's
	// maximum to bound per-call latency and throttling.
	PageSize int

	// PartialThreshold is the number of newly scanned items after which the
	// partial-result entry is rewritten
	PartialThreshold int

	// PageDelay is the pause between consecutive backing-store calls
	PageDelay time.Duration

	// CacheTTL applies to the full-result and partial-result entries
	CacheTTL time.Duration

	// CheckpointTTL applies to the checkpoint entry (default: CacheTTL)
	CheckpointTTL time.Duration
}

// DefaultConfig returns default scan tuning.
func DefaultConfig() Config {
	return Config{
		PageSize:         1000,
		PartialThreshold: 500,
		PageDelay:        100 * time.Millisecond,
		CacheTTL:         time.Hour,
	}
}

// Coordinator scans a resource end to end while holding its lock.
type Coordinator struct {
	store       cache.Store
	locks       *lock.Manager
	source      Source
	checkpoints *CheckpointStore
	config      Config
	logger      zerolog.Logger
}

// NewCoordinator creates a scan coordinator.
func NewCoordinator(store cache.Store, locks *lock.Manager, source Source, cfg Config, logger zerolog.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.PartialThreshold <= 0 {
		cfg.PartialThreshold = def.PartialThreshold
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CheckpointTTL <= 0 {
		cfg.CheckpointTTL = cfg.CacheTTL
	}

	return &Coordinator{
		store:       store,
		locks:       locks,
		source:      source,
		checkpoints: NewCheckpointStore(store, cfg.CheckpointTTL),
		config:      cfg,
		logger:      logger,
	}
}

// Checkpoints returns the checkpoint store used by the coordinator.
func (c *Coordinator) Checkpoints() *CheckpointStore {
	return c.checkpoints
}

// FetchAll returns every item of resource in backing-store order, caching
// the result under all:<resource>. It resumes from a persisted checkpoint
// when one exists. Returns lock.ErrLockUnavailable when another process is
// already scanning the resource.
func (c *Coordinator) FetchAll(ctx context.Context, resource string) ([]json.RawMessage, error) {
	keys := cache.KeysFor(resource)

	lease, ok, err := c.locks.Acquire(ctx, keys.Lock())
	if err != nil {
		scansTotal.WithLabelValues("cache_error").Inc()
		return nil, err
	}
	if !ok {
		scansTotal.WithLabelValues("contended").Inc()
		return nil, fmt.Errorf("%w: %s", lock.ErrLockUnavailable, keys.Lock())
	}
	defer c.locks.Release(context.WithoutCancel(ctx), lease)

	start := time.Now()
	items, outcome, err := c.scan(ctx, resource, lease)
	scansTotal.WithLabelValues(outcome).Inc()
	scanDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		c.logger.Error().
			Err(err).
			Str("resource", resource).
			Str("outcome", outcome).
			Dur("duration", time.Since(start)).
			Msg("Scan aborted")
		return nil, err
	}

	c.logger.Info().
		Str("resource", resource).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Scan complete")
	return items, nil
}

// scan runs the page loop. The returned outcome labels metrics.
func (c *Coordinator) scan(ctx context.Context, resource string, lease *lock.Lease) ([]json.RawMessage, string, error) {
	keys := cache.KeysFor(resource)
	logger := c.logger.With().Str("resource", resource).Logger()

	items := []json.RawMessage{}
	cursor := ""

	cp, err := c.checkpoints.Load(ctx, resource)
	switch {
	case err == nil && cp.Cursor != "":
		items = append(items, cp.Items...)
		cursor = cp.Cursor
		scanResumptionsTotal.Inc()
		logger.Info().
			Int("items", len(items)).
			Msg("Resuming scan from checkpoint")
	case err == nil, errors.Is(err, cache.ErrCacheMiss):
	case errors.Is(err, cache.ErrInvalidEntry):
		logger.Warn().Err(err).Msg("Discarding unreadable checkpoint")
	default:
		return nil, "cache_error", fmt.Errorf("load checkpoint: %w", err)
	}

	var limiter *rate.Limiter
	if c.config.PageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(c.config.PageDelay), 1)
	}

	sinceWrite := 0
	pages := 0
	for {
		if err := c.locks.Verify(ctx, lease); err != nil {
			if errors.Is(err, lock.ErrLockStale) {
				return nil, "stale", err
			}
			return nil, "cache_error", err
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, "cancelled", err
			}
		}

		page, err := c.source.ScanPage(ctx, resource, cursor, c.config.PageSize)
		scanPagesTotal.WithLabelValues(resource).Inc()
		if err != nil {
			return nil, "source_error", &SourceError{Resource: resource, Cursor: cursor, Err: err}
		}
		pages++

		items = append(items, page.Items...)
		sinceWrite += len(page.Items)

		if sinceWrite >= c.config.PartialThreshold {
			if err := cache.SetJSON(ctx, c.store, keys.Partial(), items, c.config.CacheTTL); err != nil {
				logger.Warn().Err(err).Msg("Partial result write failed")
			} else {
				sinceWrite = 0
			}
		}

		if page.NextCursor == "" {
			if err := c.commit(ctx, resource, lease, items); err != nil {
				if errors.Is(err, lock.ErrLockStale) {
					return nil, "stale", err
				}
				return nil, "cache_error", err
			}
			logger.Debug().Int("pages", pages).Msg("Backing store exhausted")
			return items, "complete", nil
		}

		cursor = page.NextCursor
		err = c.checkpoints.Save(ctx, lease, &Checkpoint{
			Resource:  resource,
			Cursor:    cursor,
			Items:     items,
			UpdatedAt: time.Now(),
		})
		if err != nil {
			if errors.Is(err, lock.ErrLockStale) {
				return nil, "stale", err
			}
			return nil, "cache_error", err
		}

		logger.Debug().
			Int("pages", pages).
			Int("items", len(items)).
			Msg("Checkpoint saved")
	}
}

// commit writes the full result while the lease still holds the lock, then
// drops the checkpoint and the partial snapshot.
func (c *Coordinator) commit(ctx context.Context, resource string, lease *lock.Lease, items []json.RawMessage) error {
	keys := cache.KeysFor(resource)

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal full result: %w", err)
	}

	ok, err := c.store.SetIfEqual(ctx, lease.Key, lease.Value(), keys.All(), data, c.config.CacheTTL)
	if err != nil {
		return fmt.Errorf("commit full result %s: %w", resource, err)
	}
	if !ok {
		return fmt.Errorf("%w: full result commit for %s rejected", lock.ErrLockStale, resource)
	}

	if err := c.checkpoints.Delete(ctx, resource); err != nil {
		c.logger.Warn().Err(err).Str("resource", resource).Msg("Checkpoint cleanup failed")
	}
	if err := c.store.Del(ctx, keys.Partial()); err != nil {
		c.logger.Warn().Err(err).Str("resource", resource).Msg("Partial result cleanup failed")
	}
	return nil
}
