// Package httpapi is a backing-store adapter for bookmark-paginated REST
// APIs. A page is fetched with GET {base}/{resource}?page_size=N&bookmark=B
// and answered with {"items": [...], "bookmark": "..."}; an empty bookmark
// ends the listing.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/scancache/pkg/ratelimit"
	"github.com/Sternrassler/scancache/pkg/scan"
	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of an error response is kept in APIError.
const maxErrorBody = 512

// Config holds the client configuration.
type Config struct {
	// BaseURL of the upstream API, e.g. https://api.example.com/v1
	BaseURL string

	// Token is sent as a bearer token when set
	Token string

	UserAgent string

	// Timeout bounds a single HTTP attempt
	Timeout time.Duration

	// Quota gates requests on the shared upstream quota. Optional.
	Quota *ratelimit.Tracker

	// Retry returns the retry behaviour per error class. Defaults to
	// RetryConfigForErrorClass.
	Retry RetryPolicy
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "scancache/1.0",
		Timeout:   30 * time.Second,
		Retry:     RetryConfigForErrorClass,
	}
}

// Client fetches pages from the upstream API. It implements scan.Source.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

var _ scan.Source = (*Client)(nil)

// New creates an upstream client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = RetryConfigForErrorClass
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		config:     cfg,
		logger:     logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

type pageBody struct {
	Items    []json.RawMessage `json:"items"`
	Bookmark string            `json:"bookmark"`
}

// ScanPage fetches up to limit items of resource starting at the bookmark
// cursor. The empty cursor requests the first page.
func (c *Client) ScanPage(ctx context.Context, resource, cursor string, limit int) (scan.Page, error) {
	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(resource).Observe(time.Since(startTime).Seconds())
	}()

	if c.config.Quota != nil {
		allowed, err := c.config.Quota.ShouldAllowRequest(ctx)
		if err != nil {
			// A quota store outage must not stop the scan.
			c.logger.Warn().Err(err).Msg("Quota check failed, proceeding")
		} else if !allowed {
			upstreamRequestsTotal.WithLabelValues(resource, "quota_blocked").Inc()
			return scan.Page{}, ErrQuotaExhausted
		}
	}

	pageURL := c.pageURL(resource, cursor, limit)
	logger := c.logger.With().Str("resource", resource).Str("cursor", cursor).Logger()

	var body pageBody
	err := retryWithBackoff(ctx, c.config.Retry, logger, func() (ErrorClass, error) {
		return c.attempt(ctx, resource, pageURL, &body)
	})
	if err != nil {
		return scan.Page{}, err
	}

	items := body.Items
	if items == nil {
		items = []json.RawMessage{}
	}
	logger.Debug().Int("items", len(items)).Bool("more", body.Bookmark != "").Msg("Upstream page fetched")
	return scan.Page{Items: items, NextCursor: body.Bookmark}, nil
}

func (c *Client) pageURL(resource, cursor string, limit int) string {
	u := *c.baseURL
	u.Path = u.Path + "/" + url.PathEscape(resource)
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("bookmark", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// attempt performs one HTTP round trip and decodes a successful body into
// out.
func (c *Client) attempt(ctx context.Context, resource, pageURL string, out *pageBody) (ErrorClass, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ErrorClassClient, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ErrorClassClient, ctx.Err()
		}
		c.logger.Error().Err(err).Str("resource", resource).Msg("HTTP request failed")
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues(resource, "network_error").Inc()
		return ErrorClassNetwork, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if c.config.Quota != nil {
		if err := c.config.Quota.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}
	}

	status := strconv.Itoa(resp.StatusCode)
	upstreamRequestsTotal.WithLabelValues(resource, status).Inc()

	if class := classifyStatus(resp.StatusCode); class != "" {
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().
			Str("resource", resource).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")
		return class, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    strings.TrimSpace(resp.Status + " " + string(snippet)),
		}
	}

	*out = pageBody{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A truncated body is as transient as a dropped connection.
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return ErrorClassNetwork, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "decode page",
			Err:        err,
		}
	}
	return "", nil
}
