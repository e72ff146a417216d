package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var resourceName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks the configuration for values the components cannot work
// with. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}
	if c.Redis.Addr == "" {
		add("redis.addr is required")
	}

	if c.Cache.TTL <= 0 {
		add("cache.ttl must be positive (got %s)", c.Cache.TTL)
	}
	if c.Cache.ChunkTTL <= 0 {
		add("cache.chunk_ttl must be positive (got %s)", c.Cache.ChunkTTL)
	}
	if c.Lock.TTL <= 0 {
		add("lock.ttl must be positive (got %s)", c.Lock.TTL)
	}
	if c.Lock.MaxRetries < 0 {
		add("lock.max_retries must not be negative (got %d)", c.Lock.MaxRetries)
	}
	if c.Lock.RetryDelay < 0 {
		add("lock.retry_delay must not be negative (got %s)", c.Lock.RetryDelay)
	}

	if c.Scan.PageSize <= 0 {
		add("scan.page_size must be positive (got %d)", c.Scan.PageSize)
	}
	if c.Scan.PartialThreshold <= 0 {
		add("scan.partial_threshold must be positive (got %d)", c.Scan.PartialThreshold)
	}
	if c.Scan.PageDelay < 0 {
		add("scan.page_delay must not be negative (got %s)", c.Scan.PageDelay)
	}

	if c.Page.DefaultSize <= 0 || c.Page.MaxSize <= 0 {
		add("page.default_size and page.max_size must be positive")
	} else if c.Page.DefaultSize > c.Page.MaxSize {
		add("page.default_size %d exceeds page.max_size %d", c.Page.DefaultSize, c.Page.MaxSize)
	}

	switch strings.ToLower(c.Source.Kind) {
	case SourceHTTP:
		if c.Source.HTTP.BaseURL == "" {
			add("source.http.base_url is required for the http source")
		}
	case SourceDynamoDB:
		if c.Source.DynamoDB.Region == "" {
			add("source.dynamodb.region is required for the dynamodb source")
		}
	case SourcePostgres:
		if c.Source.Postgres.URL == "" {
			add("source.postgres.url is required for the postgres source")
		}
	default:
		add("source.kind must be one of %s, %s, %s (got %q)", SourceHTTP, SourceDynamoDB, SourcePostgres, c.Source.Kind)
	}

	for _, r := range c.Resources {
		if !resourceName.MatchString(r) {
			add("resource name %q may only contain letters, digits, '_' and '-'", r)
		}
	}

	return errors.Join(errs...)
}

// AllowsResource reports whether resource may be served. An empty resource
// list allows every well-formed name.
func (c *Config) AllowsResource(resource string) bool {
	if !resourceName.MatchString(resource) {
		return false
	}
	if len(c.Resources) == 0 {
		return true
	}
	for _, r := range c.Resources {
		if r == resource {
			return true
		}
	}
	return false
}
