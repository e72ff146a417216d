package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	upstreamQuotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scancache_upstream_quota_remaining",
		Help: "Requests remaining in the current upstream quota window",
	}, []string{"upstream"})

	upstreamQuotaBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancache_upstream_quota_blocks_total",
		Help: "Requests blocked because the upstream quota is critical",
	}, []string{"upstream"})

	upstreamQuotaThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancache_upstream_quota_throttles_total",
		Help: "Requests delayed because the upstream quota is low",
	}, []string{"upstream"})
)

// Config holds tracker settings.
type Config struct {
	// Prefix namespaces the Redis key
	Prefix string

	Thresholds Thresholds

	// ThrottleDelay is the wait applied to requests in the warning range
	ThrottleDelay time.Duration
}

// DefaultConfig returns default tracker settings.
func DefaultConfig() Config {
	return Config{
		Prefix:        "scancache",
		Thresholds:    DefaultThresholds(),
		ThrottleDelay: time.Second,
	}
}

// Tracker records the upstream quota and gates requests.
type Tracker struct {
	redis    redis.Cmdable
	upstream string
	config   Config
	logger   zerolog.Logger
}

// NewTracker creates a quota tracker for upstream.
func NewTracker(client redis.Cmdable, upstream string, cfg Config, logger zerolog.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = def.ThrottleDelay
	}
	return &Tracker{
		redis:    client,
		upstream: upstream,
		config:   cfg,
		logger:   logger.With().Str("upstream", upstream).Logger(),
	}
}

// Key returns the Redis key holding the quota state.
func (t *Tracker) Key() string {
	key := "quota:" + t.upstream
	if t.config.Prefix != "" {
		key = t.config.Prefix + ":" + key
	}
	return key
}

// GetState returns the stored quota state. Without stored state the upstream
// is assumed healthy until a response says otherwise.
func (t *Tracker) GetState(ctx context.Context) (*QuotaState, error) {
	raw, err := t.redis.Get(ctx, t.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		now := time.Now()
		return &QuotaState{
			Upstream:   t.upstream,
			Remaining:  t.config.Thresholds.Healthy * 2,
			ResetAt:    now.Add(time.Minute),
			LastUpdate: now,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota state: %w", err)
	}

	var state QuotaState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parse quota state: %w", err)
	}
	return &state, nil
}

// UpdateFromHeaders stores the quota reported by an upstream response.
// Responses without quota headers are ignored. The state expires when the
// window resets.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}
	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}
	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}
	if resetSeconds < 0 {
		return fmt.Errorf("negative %s header: %d", HeaderReset, resetSeconds)
	}

	now := time.Now()
	window := time.Duration(resetSeconds) * time.Second
	state := QuotaState{
		Upstream:   t.upstream,
		Remaining:  remain,
		ResetAt:    now.Add(window),
		LastUpdate: now,
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal quota state: %w", err)
	}
	// Keep the state one extra second so it never vanishes before the
	// upstream window actually resets.
	if err := t.redis.Set(ctx, t.Key(), data, window+time.Second).Err(); err != nil {
		return fmt.Errorf("store quota state: %w", err)
	}

	upstreamQuotaRemaining.WithLabelValues(t.upstream).Set(float64(remain))

	level := state.Level(t.config.Thresholds)
	switch level {
	case LevelCritical:
		t.logger.Error().Int("remaining", remain).Time("reset_at", state.ResetAt).Msg("Upstream quota CRITICAL - requests will be blocked")
	case LevelWarning:
		t.logger.Warn().Int("remaining", remain).Time("reset_at", state.ResetAt).Msg("Upstream quota WARNING - requests will be throttled")
	default:
		t.logger.Debug().Int("remaining", remain).Str("level", level.String()).Msg("Upstream quota updated")
	}
	return nil
}

// ShouldAllowRequest reports whether a request may be sent now. Critical
// quota blocks it; warning quota delays it by the throttle delay.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get quota state: %w", err)
	}

	switch state.Level(t.config.Thresholds) {
	case LevelCritical:
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Upstream quota critical - blocking request")
		upstreamQuotaBlocksTotal.WithLabelValues(t.upstream).Inc()
		return false, nil

	case LevelWarning:
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Upstream quota low - throttling request")
		upstreamQuotaThrottlesTotal.WithLabelValues(t.upstream).Inc()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.config.ThrottleDelay):
		}
	}

	return true, nil
}
