package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/scancache/pkg/lock"
	"github.com/rs/zerolog"
)

// Task is a unit of detached work.
type Task func(ctx context.Context) error

// Background runs detached tasks whose outcome is never reported to the
// request that submitted them. At most one task per name runs at a time.
// Errors are logged and dropped.
type Background struct {
	timeout time.Duration
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

// NewBackground creates a runner. Each task gets its own context bounded by
// timeout and cancelled by Close.
func NewBackground(timeout time.Duration, logger zerolog.Logger) *Background {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Background{
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

// Submit starts task unless one with the same name is already running or the
// runner is closed. It never blocks on the task.
func (b *Background) Submit(name string, task Task) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		backgroundTasksTotal.WithLabelValues("rejected").Inc()
		return false
	}
	if _, running := b.inflight[name]; running {
		b.mu.Unlock()
		backgroundTasksTotal.WithLabelValues("deduplicated").Inc()
		return false
	}
	b.inflight[name] = struct{}{}
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(name, task)
	return true
}

// InFlight reports whether a task named name is running.
func (b *Background) InFlight(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.inflight[name]
	return ok
}

// Wait blocks until all submitted tasks finished.
func (b *Background) Wait() {
	b.wg.Wait()
}

// Close rejects new tasks, cancels running ones and waits for them.
func (b *Background) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}

func (b *Background) run(name string, task Task) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.inflight, name)
		b.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			backgroundTasksTotal.WithLabelValues("panic").Inc()
			b.logger.Error().Str("task", name).Interface("panic", r).Msg("Background task panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	start := time.Now()
	err := task(ctx)

	switch {
	case err == nil:
		backgroundTasksTotal.WithLabelValues("ok").Inc()
		b.logger.Debug().Str("task", name).Dur("duration", time.Since(start)).Msg("Background task finished")
	case errors.Is(err, lock.ErrLockUnavailable):
		backgroundTasksTotal.WithLabelValues("contended").Inc()
		b.logger.Debug().Str("task", name).Msg("Background task skipped, lock held elsewhere")
	default:
		backgroundTasksTotal.WithLabelValues("error").Inc()
		b.logger.Warn().Err(err).Str("task", name).Dur("duration", time.Since(start)).Msg("Background task failed")
	}
}
