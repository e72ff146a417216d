package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/scancache/pkg/config"
	"github.com/Sternrassler/scancache/pkg/logging"
	"github.com/Sternrassler/scancache/pkg/warm"
)

func newWarmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warm [resource...]",
		Short: "Run full scans to populate the cache",
		Long: `Runs a full scan for each resource (default: the configured resources).
With --schedule the scans repeat on a cron schedule until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			schedule, _ := cmd.Flags().GetString("schedule")
			if schedule == "" {
				schedule = cfg.Warm.Schedule
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWarm(ctx, cfg, logger, args, schedule)
		},
	}
	cmd.Flags().String("schedule", "", `Cron expression or descriptor, e.g. "*/30 * * * *" or "@every 1h"`)
	return cmd
}

// warmTargets picks the resources to warm. Explicit args must be allowed by
// the configuration.
func warmTargets(cfg *config.Config, args []string) ([]string, error) {
	if len(args) == 0 {
		if len(cfg.Resources) == 0 {
			return nil, fmt.Errorf("no resources given and none configured")
		}
		return cfg.Resources, nil
	}
	for _, r := range args {
		if !cfg.AllowsResource(r) {
			return nil, fmt.Errorf("resource %q is not allowed by the configuration", r)
		}
	}
	return args, nil
}

func runWarm(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string, schedule string) error {
	resources, err := warmTargets(cfg, args)
	if err != nil {
		return err
	}
	if schedule != "" {
		if _, err := warm.ParseSchedule(schedule); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg, newRedisClient(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	warmer := warm.NewWarmer(a.coordinator, warm.Config{
		MaxConcurrency: cfg.Warm.Concurrency,
		Timeout:        cfg.Warm.Timeout,
	}, logging.NewLogger(logging.ComponentWarm))

	if schedule != "" {
		logger.Info().Str("schedule", schedule).Strs("resources", resources).Msg("Starting scheduled warm-up")
		return warmer.RunScheduled(ctx, schedule, resources)
	}

	report, err := warmer.WarmAll(ctx, resources)
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("warm-up failed for %s", strings.Join(failed, ", "))
	}
	return err
}
