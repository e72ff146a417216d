// Package fetch serves paginated listings cache-aside: from the full result
// when a scan finished, from cached chunks or partial snapshots while one is
// in progress, and from a single bounded backing-store call on a cold miss.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/scancache/pkg/cache"
	"github.com/Sternrassler/scancache/pkg/lock"
	"github.com/Sternrassler/scancache/pkg/pagination"
	"github.com/Sternrassler/scancache/pkg/scan"
	"github.com/rs/zerolog"
)

// ErrInvalidRequest indicates a page request with an unusable page size.
var ErrInvalidRequest = errors.New("invalid page request")

// Config holds orchestrator settings.
type Config struct {
	// DefaultPageSize applies when a request omits the page size
	DefaultPageSize int

	// MaxPageSize rejects larger requests
	MaxPageSize int

	// ChunkTTL applies to per-page entries cached on the miss path
	ChunkTTL time.Duration

	// ScanOnMiss starts a detached full scan after serving a cold miss
	ScanOnMiss bool
}

// DefaultConfig returns default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		DefaultPageSize: 25,
		MaxPageSize:     500,
		ChunkTTL:        5 * time.Minute,
		ScanOnMiss:      true,
	}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store      cache.Store
	Locks      *lock.Manager
	Source     scan.Source
	Scanner    *scan.Coordinator
	Background *Background
}

// Orchestrator decides between cache hit, partial hit and miss for each page.
type Orchestrator struct {
	store      cache.Store
	locks      *lock.Manager
	source     scan.Source
	scanner    *scan.Coordinator
	background *Background
	config     Config
	logger     zerolog.Logger
}

// NewOrchestrator creates a fetch orchestrator.
func NewOrchestrator(deps Deps, cfg Config, logger zerolog.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if deps.Locks == nil {
		return nil, fmt.Errorf("lock manager is required")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("backing store source is required")
	}
	if deps.Scanner == nil {
		return nil, fmt.Errorf("scan coordinator is required")
	}
	if deps.Background == nil {
		return nil, fmt.Errorf("background runner is required")
	}

	def := DefaultConfig()
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	if cfg.DefaultPageSize > cfg.MaxPageSize {
		return nil, fmt.Errorf("default page size %d exceeds maximum %d", cfg.DefaultPageSize, cfg.MaxPageSize)
	}
	if cfg.ChunkTTL <= 0 {
		cfg.ChunkTTL = def.ChunkTTL
	}

	return &Orchestrator{
		store:      deps.Store,
		locks:      deps.Locks,
		source:     deps.Source,
		scanner:    deps.Scanner,
		background: deps.Background,
		config:     cfg,
		logger:     logger,
	}, nil
}

// GetPage returns one page of resource.
//
// Decision order:
//  1. full result cached: slice it
//  2. chunk cached for this exact (cursor, page size): return it
//  3. partial snapshot cached: slice it, and continue an unfinished scan in
//     the background
//  4. miss: take the lock and make one bounded backing-store call for this
//     page; if the lock is held elsewhere return an empty page
func (o *Orchestrator) GetPage(ctx context.Context, resource string, req pagination.Request) (*pagination.Result, error) {
	start := time.Now()

	result, err := o.getPage(ctx, resource, req)

	source := "error"
	if err == nil {
		source = result.Source
	}
	pageRequestsTotal.WithLabelValues(source).Inc()
	pageRequestDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	return result, err
}

func (o *Orchestrator) getPage(ctx context.Context, resource string, req pagination.Request) (*pagination.Result, error) {
	req, err := pagination.Normalize(req, o.config.DefaultPageSize, o.config.MaxPageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	pos, err := pagination.DecodeCursor(req.Cursor)
	if err != nil {
		return nil, err
	}

	keys := cache.KeysFor(resource)

	if items, ok := o.loadItems(ctx, keys.All(), cache.RoleAll); ok {
		return pagination.Slice(items, pos, req.PageSize, true), nil
	}

	var chunk pagination.Result
	if o.load(ctx, keys.Chunk(req.Cursor, req.PageSize), cache.RoleChunk, &chunk) {
		chunk.Source = pagination.SourceChunk
		return &chunk, nil
	}

	if items, ok := o.loadItems(ctx, keys.Partial(), cache.RolePartial); ok {
		o.continueUnfinishedScan(ctx, resource)
		return pagination.Slice(items, pos, req.PageSize, false), nil
	}

	result, err := o.fetchChunk(ctx, resource, req, pos)
	if err != nil {
		return nil, err
	}
	if result.Source == pagination.SourceStore && o.config.ScanOnMiss {
		o.submitScan(resource)
	}
	return result, nil
}

// Invalidate deletes the full result so the next read goes through the
// miss/partial path again.
func (o *Orchestrator) Invalidate(ctx context.Context, resource string) error {
	if err := o.store.Del(ctx, cache.KeysFor(resource).All()); err != nil {
		return fmt.Errorf("invalidate %s: %w", resource, err)
	}
	o.logger.Info().Str("resource", resource).Msg("Full result invalidated")
	return nil
}

// fetchChunk serves a true miss with one bounded backing-store call made
// under the resource lock.
func (o *Orchestrator) fetchChunk(ctx context.Context, resource string, req pagination.Request, pos pagination.Position) (*pagination.Result, error) {
	keys := cache.KeysFor(resource)

	lease, ok, err := o.locks.Acquire(ctx, keys.Lock())
	if err != nil {
		return nil, err
	}
	if !ok {
		o.logger.Debug().Str("resource", resource).Msg("Lock held elsewhere, serving empty page")
		return pagination.Empty(req), nil
	}
	defer o.locks.Release(context.WithoutCancel(ctx), lease)

	if pos.Offset > 0 && pos.StoreCursor == "" {
		// Offset-only cursors come from cached slices; the store cannot
		// seek to them.
		o.logger.Debug().Str("resource", resource).Int("offset", pos.Offset).Msg("Cursor not resolvable against backing store")
		return pagination.Empty(req), nil
	}

	page, err := o.source.ScanPage(ctx, resource, pos.StoreCursor, req.PageSize)
	if err != nil {
		o.logger.Error().Err(err).Str("resource", resource).Msg("Backing store page fetch failed")
		return nil, &scan.SourceError{Resource: resource, Cursor: pos.StoreCursor, Err: err}
	}

	items := page.Items
	if items == nil {
		items = []json.RawMessage{}
	}
	result := &pagination.Result{
		Items:  items,
		Source: pagination.SourceStore,
	}
	if page.NextCursor != "" {
		next := pagination.EncodeCursor(pagination.Position{
			Offset:      pos.Offset + len(items),
			StoreCursor: page.NextCursor,
		})
		result.NextCursor = &next
	} else {
		total := pos.Offset + len(items)
		result.Total = &total
		result.Complete = true
	}

	if err := cache.SetJSON(ctx, o.store, keys.Chunk(req.Cursor, req.PageSize), result, o.config.ChunkTTL); err != nil {
		o.logger.Warn().Err(err).Str("resource", resource).Msg("Chunk cache write failed")
	}
	return result, nil
}

func (o *Orchestrator) continueUnfinishedScan(ctx context.Context, resource string) {
	unfinished, err := o.scanner.Checkpoints().Exists(ctx, resource)
	if err != nil {
		o.logger.Warn().Err(err).Str("resource", resource).Msg("Checkpoint lookup failed")
		return
	}
	if unfinished {
		o.submitScan(resource)
	}
}

func (o *Orchestrator) submitScan(resource string) {
	submitted := o.background.Submit("scan:"+resource, func(ctx context.Context) error {
		_, err := o.scanner.FetchAll(ctx, resource)
		return err
	})
	if submitted {
		o.logger.Debug().Str("resource", resource).Msg("Background scan submitted")
	}
}

func (o *Orchestrator) loadItems(ctx context.Context, key, tier string) ([]json.RawMessage, bool) {
	var items []json.RawMessage
	if !o.load(ctx, key, tier, &items) {
		return nil, false
	}
	return items, true
}

// load reads a cached JSON entry. Any failure counts as a miss.
func (o *Orchestrator) load(ctx context.Context, key, tier string, v any) bool {
	err := cache.GetJSON(ctx, o.store, key, v)
	if err == nil {
		cache.CacheHits.WithLabelValues(tier).Inc()
		return true
	}
	cache.CacheMisses.WithLabelValues(tier).Inc()
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
	case cache.IsMiss(err):
		o.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
	default:
		o.logger.Error().Err(err).Str("key", key).Msg("Unexpected cache read error, treating as miss")
	}
	return false
}
