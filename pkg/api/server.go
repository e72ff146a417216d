// Package api exposes paginated listings over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/scancache/pkg/cache"
	"github.com/Sternrassler/scancache/pkg/fetch"
	"github.com/Sternrassler/scancache/pkg/lock"
	"github.com/Sternrassler/scancache/pkg/metrics"
	"github.com/Sternrassler/scancache/pkg/pagination"
	"github.com/Sternrassler/scancache/pkg/scan"
)

// ActionInvalidate drops the cached full result of a resource.
const ActionInvalidate = "invalidate"

// Pager serves pages and invalidations. Implemented by *fetch.Orchestrator.
type Pager interface {
	GetPage(ctx context.Context, resource string, req pagination.Request) (*pagination.Result, error)
	Invalidate(ctx context.Context, resource string) error
}

// Pinger reports cache store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the handler.
type Options struct {
	// Allow reports whether a resource may be served. Nil allows all.
	Allow func(resource string) bool

	// Health is checked by GET /health. Nil always reports ok.
	Health Pinger

	// RetryAfter is sent with 503 responses caused by a lost scan lock
	RetryAfter time.Duration
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type actionBody struct {
	Action string `json:"action"`
}

type server struct {
	pager  Pager
	opts   Options
	logger zerolog.Logger
}

// NewHandler builds the HTTP router.
func NewHandler(pager Pager, opts Options, logger zerolog.Logger) http.Handler {
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 5 * time.Second
	}
	s := &server{pager: pager, opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/resources/{resource}", func(r chi.Router) {
		r.Use(s.allowResource)
		r.Get("/", s.getPage)
		r.Post("/", s.postAction)
	})
	return r
}

func (s *server) getPage(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	q := r.URL.Query()

	req := pagination.Request{Cursor: q.Get("cursor")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit", Detail: err.Error()})
			return
		}
		req.PageSize = limit
	}

	result, err := s.pager.GetPage(r.Context(), resource, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) postAction(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")

	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Detail: err.Error()})
		return
	}
	if body.Action != ActionInvalidate {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown action", Detail: body.Action})
		return
	}

	if err := s.pager.Invalidate(r.Context(), resource); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "cache unavailable", Detail: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) allowResource(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resource := chi.URLParam(r, "resource")
		if s.opts.Allow != nil && !s.opts.Allow(resource) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown resource", Detail: resource})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request served")
	})
}

// writeError maps domain errors to HTTP status codes.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status == http.StatusServiceUnavailable && errors.Is(err, lock.ErrLockStale) {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.opts.RetryAfter.Seconds())))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, errorBody{Error: msg, Detail: err.Error()})
}

func statusFor(err error) (int, string) {
	var srcErr *scan.SourceError
	switch {
	case errors.Is(err, pagination.ErrInvalidCursor):
		return http.StatusBadRequest, "invalid cursor"
	case errors.Is(err, fetch.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid page request"
	case errors.Is(err, lock.ErrLockStale):
		return http.StatusServiceUnavailable, "scan lock lost"
	case errors.Is(err, cache.ErrUnavailable):
		return http.StatusServiceUnavailable, "cache unavailable"
	case errors.As(err, &srcErr):
		return http.StatusBadGateway, "backing store error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
