package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Oghma/Sparagne/internal/cache"
	"github.com/Oghma/Sparagne/internal/cli"
	"github.com/Oghma/Sparagne/internal/events"
	apphttp "github.com/Oghma/Sparagne/internal/http"
	"github.com/Oghma/Sparagne/internal/ledger"
	applog "github.com/Oghma/Sparagne/internal/log"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentApp)

	store, cleanup := cli.OpenStore(cfg, logger)
	defer cleanup()

	opts := []ledger.Option{
		ledger.WithStatisticsCache(cfg.StatsCacheTTL, cfg.StatsCacheMaxEntries),
	}
	if cfg.DeletePolicy == "cascade" {
		opts = append(opts, ledger.WithDeletePolicy(ledger.DeleteCascade))
	}

	// Event publishing is optional: without a broker the engine still
	// commits, it just tells no one.
	if cfg.AMQPURL != "" {
		client, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		opts = append(opts, ledger.WithNotifier(events.NewNotifier(client)))
		logger.Info("Event publishing enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Event publishing disabled - no AMQP_URL provided")
	}

	engine := ledger.New(store, opts...)

	cacheManager := cache.NewManager()
	if cleaner := engine.StatisticsCacheCleaner(); cleaner != nil {
		cacheManager.Register(cleaner)
		cacheManager.StartCleanup(10 * time.Minute)
		defer cacheManager.Stop()
	}

	srv := apphttp.NewServer(":"+cfg.Port, engine, apphttp.WithRateLimit(cfg.RateLimitPerMinute))

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting sparagne server", "port", cfg.Port, "backend", cfg.StorageBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
