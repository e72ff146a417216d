// Package lock implements the cache-store-backed distributed lock that keeps
// at most one scan running per resource across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/scancache/pkg/cache"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	// ErrLockUnavailable is returned when acquisition failed after all retries.
	// It is not fatal: callers serve cached or empty data instead of blocking.
	ErrLockUnavailable = errors.New("lock unavailable")

	// ErrLockStale is returned when a held lock vanished, changed owner or
	// outlived its TTL. The operation should be retried by a later request.
	ErrLockStale = errors.New("lock stale")
)

var (
	lockAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancache_lock_acquisitions_total",
		Help: "Lock acquisition attempts by result",
	}, []string{"result"}) // "acquired", "contended", "error"

	lockStaleReclaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scancache_lock_stale_reclaims_total",
		Help: "Stale locks force-deleted before acquisition",
	})

	lockReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancache_lock_releases_total",
		Help: "Lock releases by result",
	}, []string{"result"}) // "released", "lost", "error"
)

// Config holds lock defaults.
type Config struct {
	// TTL is both the key expiry and the staleness threshold
	TTL time.Duration

	// MaxRetries is the number of extra attempts after the first one
	MaxRetries int

	// RetryDelay is the fixed wait between attempts
	RetryDelay time.Duration
}

// DefaultConfig returns safe lock defaults.
func DefaultConfig() Config {
	return Config{
		TTL:        5 * time.Minute,
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Lease is a held lock. Value is the exact record stored under Key and acts as
// the fencing token for guarded writes.
type Lease struct {
	Key        string
	Token      string
	AcquiredAt time.Time
	TTL        time.Duration
}

// Value returns the stored lock record: "<acquiredAtEpochMillis>:<token>".
func (l *Lease) Value() []byte {
	return []byte(strconv.FormatInt(l.AcquiredAt.UnixMilli(), 10) + ":" + l.Token)
}

// Manager acquires and releases locks on a cache.Store.
type Manager struct {
	store  cache.Store
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewManager creates a lock manager.
func NewManager(store cache.Store, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Manager{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Acquire is TryAcquire with the configured defaults.
func (m *Manager) Acquire(ctx context.Context, key string) (*Lease, bool, error) {
	return m.TryAcquire(ctx, key, m.config.TTL, m.config.MaxRetries, m.config.RetryDelay)
}

// TryAcquire attempts a set-if-absent of the current timestamp under key.
// A record older than ttl is treated as left behind by a crashed holder and
// force-deleted first. Returns (nil, false, nil) once all attempts fail.
func (m *Manager) TryAcquire(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (*Lease, bool, error) {
	if ttl <= 0 {
		ttl = m.config.TTL
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		if err := m.reclaimStale(ctx, key, ttl); err != nil {
			lockAcquisitionsTotal.WithLabelValues("error").Inc()
			return nil, false, err
		}

		lease := &Lease{
			Key:        key,
			Token:      uuid.NewString(),
			AcquiredAt: m.now(),
			TTL:        ttl,
		}
		ok, err := m.store.SetIfAbsent(ctx, key, lease.Value(), ttl)
		if err != nil {
			lockAcquisitionsTotal.WithLabelValues("error").Inc()
			return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			lockAcquisitionsTotal.WithLabelValues("acquired").Inc()
			m.logger.Debug().
				Str("lock_key", key).
				Int("attempt", attempt+1).
				Msg("Lock acquired")
			return lease, true, nil
		}
	}

	lockAcquisitionsTotal.WithLabelValues("contended").Inc()
	m.logger.Debug().
		Str("lock_key", key).
		Int("attempts", maxRetries+1).
		Msg("Lock held elsewhere")
	return nil, false, nil
}

// Release deletes the lock if it is still ours. Best-effort: failures are
// logged and the TTL cleans up.
func (m *Manager) Release(ctx context.Context, lease *Lease) {
	if lease == nil {
		return
	}
	ok, err := m.store.CompareAndDelete(ctx, lease.Key, lease.Value())
	switch {
	case err != nil:
		lockReleasesTotal.WithLabelValues("error").Inc()
		m.logger.Warn().Err(err).Str("lock_key", lease.Key).Msg("Lock release failed")
	case !ok:
		lockReleasesTotal.WithLabelValues("lost").Inc()
		m.logger.Warn().Str("lock_key", lease.Key).Msg("Lock already lost before release")
	default:
		lockReleasesTotal.WithLabelValues("released").Inc()
		m.logger.Debug().
			Str("lock_key", lease.Key).
			Dur("held", m.now().Sub(lease.AcquiredAt)).
			Msg("Lock released")
	}
}

// IsStale reports whether the lock under key is missing or older than the
// configured TTL. Read errors count as stale.
func (m *Manager) IsStale(ctx context.Context, key string) bool {
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		return true
	}
	acquiredAt, _, err := parseValue(raw)
	if err != nil {
		return true
	}
	return m.now().Sub(acquiredAt) > m.config.TTL
}

// Verify checks that lease still owns its key and is within TTL.
// It returns ErrLockStale otherwise, or a cache error if the check failed.
func (m *Manager) Verify(ctx context.Context, lease *Lease) error {
	raw, err := m.store.Get(ctx, lease.Key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return fmt.Errorf("%w: %s vanished", ErrLockStale, lease.Key)
	}
	if err != nil {
		return fmt.Errorf("verify lock %s: %w", lease.Key, err)
	}
	if string(raw) != string(lease.Value()) {
		return fmt.Errorf("%w: %s taken over by another holder", ErrLockStale, lease.Key)
	}
	if age := m.now().Sub(lease.AcquiredAt); age > lease.TTL {
		return fmt.Errorf("%w: %s held for %s (ttl %s)", ErrLockStale, lease.Key, age, lease.TTL)
	}
	return nil
}

// reclaimStale force-deletes a record older than ttl. The delete only
// succeeds while the record is unchanged, so a fresh lock set in between is
// never removed.
func (m *Manager) reclaimStale(ctx context.Context, key string, ttl time.Duration) error {
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock %s: %w", key, err)
	}

	acquiredAt, _, perr := parseValue(raw)
	age := m.now().Sub(acquiredAt)
	if perr == nil && age <= ttl {
		return nil
	}

	deleted, err := m.store.CompareAndDelete(ctx, key, raw)
	if err != nil {
		return fmt.Errorf("reclaim stale lock %s: %w", key, err)
	}
	if deleted {
		lockStaleReclaimsTotal.Inc()
		m.logger.Warn().
			Str("lock_key", key).
			Dur("age", age).
			Dur("ttl", ttl).
			Msg("Reclaimed stale lock")
	}
	return nil
}

func parseValue(raw []byte) (time.Time, string, error) {
	millis, token, _ := strings.Cut(string(raw), ":")
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse lock record %q: %w", raw, err)
	}
	return time.UnixMilli(ms), token, nil
}
