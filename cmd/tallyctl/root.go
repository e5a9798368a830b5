package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tally/internal/backend"
	"tally/internal/cli"
	"tally/internal/config"
	"tally/internal/log"
)

var (
	flagBackend string
	flagTimeout time.Duration
	flagQuiet   bool
)

var rootCmd = &cobra.Command{
	Use:           "tallyctl",
	Short:         "Household aggregate maintenance",
	Long:          "Run monthly rollups, inspect reports and counters, and inject change events.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.RenderError(err.Error()))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagBackend, "backend", "b", "", "Document store backend, one of "+strings.Join(backend.GetBackendTypeStrings(), ", ")+" (overrides DATA_BACKEND)")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 2*time.Minute, "Deadline for the whole command")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only log warnings and errors")
}

// setup loads configuration and builds a stderr logger. Stdout is kept for
// command output.
func setup() (*config.Config, *log.Logger, error) {
	cli.LoadEnvFile()

	lcfg := log.DefaultConfig()
	lcfg.Level = log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if flagQuiet {
		lcfg.Level = slog.LevelWarn
	}
	lcfg.Component = log.ComponentCLI
	lcfg.Output = os.Stderr
	logger := log.New(lcfg)
	log.SetDefault(logger)

	cfg := config.Load()
	if flagBackend != "" {
		cfg.DataBackend = flagBackend
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore opens the configured backend. The caller must run the returned
// cleanup.
func openStore(ctx context.Context, logger *log.Logger, cfg *config.Config) (backend.Backend, func(), error) {
	result, err := cli.OpenBackend(ctx, logger, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Warn("Failed to close document store", "error", err)
			}
		}
	}
	return result.Backend, cleanup, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), flagTimeout)
}
