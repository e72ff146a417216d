// Package sqlstore is a backing-store adapter that pages through a Postgres
// table in primary key order (keyset pagination). Rows are returned as JSON
// documents built by row_to_json and the cursor is the last key seen.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/scancache/pkg/scan"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Config holds Postgres source settings.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Tables maps resource names to table names. Unmapped resources scan
	// the table named like the resource.
	Tables map[string]string

	// KeyColumn orders the scan and must be unique. Defaults to "id".
	KeyColumn string

	// QueryTimeout bounds one page query when the context has no deadline
	QueryTimeout time.Duration
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Source scans Postgres tables. It implements scan.Source.
type Source struct {
	db     *sql.DB
	config Config
	logger zerolog.Logger
}

var _ scan.Source = (*Source)(nil)

// New creates a Postgres source on db.
func New(db *sql.DB, cfg Config, logger zerolog.Logger) *Source {
	if cfg.KeyColumn == "" {
		cfg.KeyColumn = "id"
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	return &Source{db: db, config: cfg, logger: logger}
}

// Table returns the table scanned for resource.
func (s *Source) Table(resource string) string {
	if t, ok := s.config.Tables[resource]; ok {
		return t
	}
	return resource
}

// pageQuery builds the keyset query. One row more than requested is read to
// learn whether another page follows.
func (s *Source) pageQuery(resource string, afterKey bool) string {
	table := pq.QuoteIdentifier(s.Table(resource))
	key := pq.QuoteIdentifier(s.config.KeyColumn)

	if !afterKey {
		return fmt.Sprintf(
			"SELECT t.%s::text, row_to_json(t)::text FROM %s t ORDER BY t.%s LIMIT $1",
			key, table, key)
	}
	return fmt.Sprintf(
		"SELECT t.%s::text, row_to_json(t)::text FROM %s t WHERE t.%s > $1 ORDER BY t.%s LIMIT $2",
		key, table, key, key)
}

// ScanPage reads up to limit rows of resource with a key greater than cursor.
func (s *Source) ScanPage(ctx context.Context, resource, cursor string, limit int) (scan.Page, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.QueryTimeout)
		defer cancel()
	}

	var (
		rows *sql.Rows
		err  error
	)
	if cursor == "" {
		rows, err = s.db.QueryContext(ctx, s.pageQuery(resource, false), limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, s.pageQuery(resource, true), cursor, limit+1)
	}
	if err != nil {
		return scan.Page{}, fmt.Errorf("query %s: %w", s.Table(resource), err)
	}
	defer rows.Close()

	items := make([]json.RawMessage, 0, limit)
	var lastKey string
	more := false
	for rows.Next() {
		if len(items) == limit {
			more = true
			break
		}
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			return scan.Page{}, fmt.Errorf("scan row of %s: %w", s.Table(resource), err)
		}
		items = append(items, json.RawMessage(doc))
		lastKey = key
	}
	if err := rows.Err(); err != nil {
		return scan.Page{}, fmt.Errorf("iterate %s: %w", s.Table(resource), err)
	}

	page := scan.Page{Items: items}
	if more {
		page.NextCursor = lastKey
	}

	s.logger.Debug().
		Str("table", s.Table(resource)).
		Int("items", len(items)).
		Bool("more", more).
		Msg("Postgres page scanned")
	return page, nil
}
