package warm

import (
	"context"
	"fmt"
	"strings"

	cronlib "github.com/robfig/cron/v3"
)

// parser accepts standard five-field expressions and descriptors such as
// @hourly or @every 15m.
var parser = cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// RunScheduled warms resources on every tick of expr until ctx ends. Runs
// never overlap; a tick that fires while a run is in progress is skipped.
func (w *Warmer) RunScheduled(ctx context.Context, expr string, resources []string) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}

	c := cronlib.New(
		cronlib.WithParser(parser),
		cronlib.WithChain(cronlib.SkipIfStillRunning(cronlib.DiscardLogger)),
	)
	c.Schedule(sched, cronlib.FuncJob(func() {
		if _, err := w.WarmAll(ctx, resources); err != nil {
			w.logger.Warn().Err(err).Msg("Scheduled warm-up finished with errors")
		}
	}))

	w.logger.Info().
		Str("schedule", expr).
		Strs("resources", resources).
		Msg("Warm-up scheduler started")

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	w.logger.Info().Msg("Warm-up scheduler stopped")
	return nil
}
