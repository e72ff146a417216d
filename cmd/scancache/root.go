package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/scancache/pkg/config"
	"github.com/Sternrassler/scancache/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:           "scancache",
	Short:         "Cache-aside pagination over slow backing stores",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a config file (yaml, json or toml)")
	rootCmd.AddCommand(newServeCmd(), newWarmCmd())
}

// loadConfig reads the config named by --config and sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	logger := logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.Log.Level),
		Pretty:  cfg.Log.Pretty,
		Output:  cmd.ErrOrStderr(),
		Service: "scancache",
	})
	return cfg, logger, nil
}
