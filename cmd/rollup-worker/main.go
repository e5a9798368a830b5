package main

import (
	"context"
	"os"
	"time"

	"tally/internal/amqp"
	"tally/internal/backend"
	"tally/internal/cli"
	"tally/internal/log"
	"tally/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentScheduler)
	logger.Info("Starting rollup-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	loc := cli.Location(logger, cfg)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	store, err := cli.OpenBackend(startCtx, logger, cfg)
	if err != nil {
		logger.Error("Failed to open document store", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer store.Cleanup()

	opts := []services.CompactorOption{
		services.WithLocation(loc),
		services.WithConcurrency(cfg.RollupConcurrency),
	}

	// Monthly report notifications are optional.
	if cfg.AMQPURL != "" {
		publisher, err := amqp.Dial(amqp.Config{URL: cfg.AMQPURL, Exchange: cfg.NotifyExchange})
		if err != nil {
			logger.Warn("Failed to initialize notification publisher, continuing without notifications", "error", err)
		} else {
			defer publisher.Close()
			opts = append(opts, services.WithNotifier(amqp.NewNotifier(publisher)))
		}
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	exporter, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateExporter(context.Background(), bcfg)
	if err != nil {
		logger.Warn("Failed to initialize report export, continuing without it", "error", err)
	} else if exporter != nil {
		opts = append(opts, services.WithExporter(exporter))
	}

	compactor := services.NewMonthlyCompactor(store.Backend, opts...)
	scheduler := services.NewRollupScheduler(store.Backend, compactor, services.RollupSchedulerConfig{
		CheckInterval:    cfg.RollupCheckInterval,
		Schedule:         services.RollupSchedule{Day: cfg.RollupDay, Location: loc},
		AppliedRetention: cfg.AppliedRetention,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := scheduler.Stop(stopCtx); err != nil {
			logger.Warn("Scheduler did not stop cleanly", "error", err)
		}
	})

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start rollup scheduler", "error", err)
		os.Exit(1)
	}

	logger.Info("Rollup scheduler configured",
		"check_interval", cfg.RollupCheckInterval,
		"day", cfg.RollupDay,
		"concurrency", cfg.RollupConcurrency,
		"applied_retention", cfg.AppliedRetention,
		"timezone", loc.String())

	cli.WaitForShutdown(ctx, done)
	logger.Info("rollup-worker stopped")
}
