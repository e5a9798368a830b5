package main

import (
	"context"
	"os"
	"time"

	"tally/internal/amqp"
	"tally/internal/cache"
	"tally/internal/cli"
	"tally/internal/log"
	"tally/internal/services"
	"tally/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting tally-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	loc := cli.Location(logger, cfg)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := cli.OpenBackend(startCtx, logger, cfg)
	startCancel()
	if err != nil {
		logger.Error("Failed to open document store", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer store.Cleanup()

	// Change events in, one durable queue shared by every worker replica.
	consumer, err := amqp.Dial(amqp.Config{
		URL:                cfg.AMQPURL,
		Exchange:           cfg.AMQPExchange,
		Queue:              cfg.AMQPQueue,
		Prefetch:           cfg.AMQPPrefetch,
		DeadLetterExchange: cfg.AMQPDeadLetterExchange,
	})
	if err != nil {
		logger.Error("Failed to initialize AMQP consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Notifications out, routed by household ID.
	var notifier services.Dispatcher = services.NopDispatcher{}
	publisher, err := amqp.Dial(amqp.Config{URL: cfg.AMQPURL, Exchange: cfg.NotifyExchange})
	if err != nil {
		logger.Warn("Failed to initialize notification publisher, notifications disabled", "error", err)
	} else {
		defer publisher.Close()
		notifier = amqp.NewNotifier(publisher)
		logger.Info("Notification publisher initialized", "exchange", cfg.NotifyExchange)
	}

	resolver := services.NewCachedResolver(store.Backend, cfg.ResolverCacheSize, cfg.ResolverCacheTTL)
	cacheManager := cache.NewManager()
	cacheManager.Register(resolver.Cache())
	cacheManager.StartCleanup(cfg.ResolverCacheTTL)
	defer cacheManager.Stop()

	updater := services.NewAggregateUpdater(store.Backend, resolver)
	eventWorker := worker.NewEventWorker(updater, resolver, notifier, loc, cfg.HandlerTimeout)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	go func() {
		if err := consumer.Consume(ctx, eventWorker.HandleChange); err != nil && err != context.Canceled {
			logger.Error("Message consumption failed", "error", err)
		}
	}()

	logger.Info("Consuming change events",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue,
		"prefetch", cfg.AMQPPrefetch,
		"timezone", loc.String())

	cli.WaitForShutdown(ctx, done)
	stats := resolver.Cache().Stats()
	logger.Info("tally-worker stopped",
		"resolver_cache_hits", stats.Hits,
		"resolver_cache_misses", stats.Misses)
}
