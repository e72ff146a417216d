// Package logging configures the process-wide zerolog logger and hands out
// per-component loggers.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Component names attached to every log line of a subsystem.
const (
	ComponentAPI    = "api"
	ComponentFetch  = "fetch"
	ComponentScan   = "scan"
	ComponentLock   = "lock"
	ComponentSource = "source"
	ComponentQuota  = "quota"
	ComponentWarm   = "warm"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service is added to every line when set
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Output:  os.Stderr,
		Service: "scancache",
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache tier decisions (all, chunk, partial, store)
//   - Checkpoint saves and page fetches
//   - Background task submission
//
// Info: Normal operation events
//   - Scan start, resume and completion
//   - Invalidations
//   - Warm-up progress
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Stale lock reclaimed
//   - Cache read/write failures treated as misses
//   - Upstream quota low, retry attempts
//   - Background task failures
//
// Error: Error conditions requiring attention
//   - Scan aborted (lock lost, backing store failure)
//   - Upstream quota critical
//   - Configuration errors
//
// Context Fields:
//   - resource: logical dataset name
//   - cursor: backing-store cursor
//   - items, pages: scan progress counters
//   - duration: operation duration
//   - lock_key: cache key of the scan lock
//   - error_class: upstream error classification (client, server, rate_limit, network)
//   - remaining: upstream quota left in the window
