// Package ratelimit tracks the request quota of an upstream API and gates
// backing-store calls so scans running in several processes stop before the
// provider starts throttling. The quota is read from the X-RateLimit-Remaining
// and X-RateLimit-Reset response headers and shared through Redis.
package ratelimit

import (
	"time"
)

// Response headers carrying the upstream quota.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds decide how the tracker reacts to the remaining quota.
type Thresholds struct {
	// Critical blocks all requests while remaining is below it
	Critical int

	// Warning throttles requests while remaining is below it
	Warning int

	// Healthy marks the state healthy at or above it
	Healthy int
}

// DefaultThresholds returns the default quota thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: 5,
		Warning:  20,
		Healthy:  50,
	}
}

// QuotaState is the last known quota of one upstream, shared across all
// processes via Redis.
type QuotaState struct {
	// Upstream names the API the quota belongs to
	Upstream string `json:"upstream"`

	// Remaining is the number of requests left in the current window
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets
	ResetAt time.Time `json:"reset_at"`

	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state is older than maxAge.
func (s *QuotaState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// TimeUntilReset returns the duration until the quota window resets, or 0
// once it passed.
func (s *QuotaState) TimeUntilReset() time.Duration {
	return max(time.Until(s.ResetAt), 0)
}

// Level classifies the state against th.
func (s *QuotaState) Level(th Thresholds) Level {
	switch {
	case s.Remaining < th.Critical:
		return LevelCritical
	case s.Remaining < th.Warning:
		return LevelWarning
	case s.Remaining < th.Healthy:
		return LevelDegraded
	default:
		return LevelHealthy
	}
}

// Level is the quota health.
type Level int

const (
	LevelHealthy Level = iota
	LevelDegraded
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelHealthy:
		return "healthy"
	case LevelDegraded:
		return "degraded"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}
