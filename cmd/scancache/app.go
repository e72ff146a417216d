package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/scancache/pkg/cache"
	"github.com/Sternrassler/scancache/pkg/config"
	"github.com/Sternrassler/scancache/pkg/fetch"
	"github.com/Sternrassler/scancache/pkg/lock"
	"github.com/Sternrassler/scancache/pkg/logging"
	"github.com/Sternrassler/scancache/pkg/ratelimit"
	"github.com/Sternrassler/scancache/pkg/scan"
	"github.com/Sternrassler/scancache/pkg/source/dynamo"
	"github.com/Sternrassler/scancache/pkg/source/httpapi"
	"github.com/Sternrassler/scancache/pkg/source/sqlstore"
)

// app holds the wired components shared by serve and warm.
type app struct {
	cfg         *config.Config
	redis       *redis.Client
	store       *cache.RedisStore
	locks       *lock.Manager
	coordinator *scan.Coordinator
	background  *fetch.Background
	pager       *fetch.Orchestrator

	closers []func() error
}

// newApp connects to Redis and the configured backing store and wires the
// cache, lock, scan and fetch layers on top of them.
func newApp(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (*app, error) {
	a := &app{cfg: cfg, redis: redisClient}
	a.closers = append(a.closers, redisClient.Close)

	a.store = cache.NewRedisStore(redisClient, cfg.Redis.Prefix)
	if err := a.store.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	src, closeSource, err := newSource(ctx, cfg, redisClient)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeSource != nil {
		a.closers = append(a.closers, closeSource)
	}

	a.locks = lock.NewManager(a.store, lock.Config{
		TTL:        cfg.Lock.TTL,
		MaxRetries: cfg.Lock.MaxRetries,
		RetryDelay: cfg.Lock.RetryDelay,
	}, logging.NewLogger(logging.ComponentLock))

	a.coordinator = scan.NewCoordinator(a.store, a.locks, src, scan.Config{
		PageSize:         cfg.Scan.PageSize,
		PartialThreshold: cfg.Scan.PartialThreshold,
		PageDelay:        cfg.Scan.PageDelay,
		CacheTTL:         cfg.Cache.TTL,
		CheckpointTTL:    cfg.Cache.CheckpointTTL,
	}, logging.NewLogger(logging.ComponentScan))

	a.background = fetch.NewBackground(cfg.Scan.BackgroundTimeout, logging.NewLogger(logging.ComponentFetch))

	a.pager, err = fetch.NewOrchestrator(fetch.Deps{
		Store:      a.store,
		Locks:      a.locks,
		Source:     src,
		Scanner:    a.coordinator,
		Background: a.background,
	}, fetch.Config{
		DefaultPageSize: cfg.Page.DefaultSize,
		MaxPageSize:     cfg.Page.MaxSize,
		ChunkTTL:        cfg.Cache.ChunkTTL,
		ScanOnMiss:      cfg.Scan.ScanOnMiss,
	}, logging.NewLogger(logging.ComponentFetch))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	return a, nil
}

// Close stops background scans and releases connections.
func (a *app) Close() error {
	if a.background != nil {
		a.background.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// newSource builds the backing store selected by source.kind. The returned
// close func may be nil.
func newSource(ctx context.Context, cfg *config.Config, redisClient redis.Cmdable) (scan.Source, func() error, error) {
	logger := logging.NewLogger(logging.ComponentSource)

	switch strings.ToLower(cfg.Source.Kind) {
	case config.SourceHTTP:
		h := cfg.Source.HTTP
		quota := ratelimit.NewTracker(redisClient, h.Upstream, ratelimit.Config{
			Prefix: cfg.Redis.Prefix,
		}, logging.NewLogger(logging.ComponentQuota))

		clientCfg := httpapi.DefaultConfig(h.BaseURL)
		clientCfg.Token = h.Token
		clientCfg.Quota = quota
		if h.UserAgent != "" {
			clientCfg.UserAgent = h.UserAgent
		}
		if h.Timeout > 0 {
			clientCfg.Timeout = h.Timeout
		}
		client, err := httpapi.New(clientCfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create http source: %w", err)
		}
		return client, nil, nil

	case config.SourceDynamoDB:
		d := cfg.Source.DynamoDB
		dcfg := dynamo.Config{
			Region:          d.Region,
			Endpoint:        d.Endpoint,
			AccessKeyID:     d.AccessKeyID,
			SecretAccessKey: d.SecretAccessKey,
			Tables:          d.Tables,
			TablePrefix:     d.TablePrefix,
			ConsistentRead:  d.ConsistentRead,
		}
		api, err := dynamo.NewClient(ctx, dcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create dynamodb source: %w", err)
		}
		return dynamo.New(api, dcfg, logger), nil, nil

	case config.SourcePostgres:
		p := cfg.Source.Postgres
		scfg := sqlstore.Config{
			URL:          p.URL,
			MaxOpenConns: p.MaxOpenConns,
			MaxIdleConns: p.MaxIdleConns,
			Tables:       p.Tables,
			KeyColumn:    p.KeyColumn,
		}
		db, err := sqlstore.Open(ctx, scfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create postgres source: %w", err)
		}
		return sqlstore.New(db, scfg, logger), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}
