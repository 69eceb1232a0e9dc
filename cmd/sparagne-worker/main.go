package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Oghma/Sparagne/internal/cli"
	"github.com/Oghma/Sparagne/internal/events"
	applog "github.com/Oghma/Sparagne/internal/log"
	"github.com/Oghma/Sparagne/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentWorker)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the audit worker")
		os.Exit(1)
	}

	logger.Info("Starting sparagne-worker")

	// The worker reads transactions from the same store the server writes.
	store, cleanup := cli.OpenStore(cfg, logger)
	defer cleanup()
	if cfg.StorageBackend == "memory" {
		logger.Warn("Memory backend selected - audit records will miss transaction details")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.AuditTrailPath), 0755); err != nil {
		logger.Error("Failed to create audit trail directory", "error", err, "path", cfg.AuditTrailPath)
		os.Exit(1)
	}
	sink, err := os.OpenFile(cfg.AuditTrailPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.Error("Failed to open audit trail", "error", err, "path", cfg.AuditTrailPath)
		os.Exit(1)
	}
	defer sink.Close()

	client, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	auditWorker := worker.NewAuditWorker(store, sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return client.ConsumeLedgerEvents(ctx, func(event *events.LedgerEvent) error {
			return auditWorker.HandleEvent(ctx, event)
		})
	})

	logger.Info("Audit worker running",
		"queue", cfg.AMQPQueue,
		"audit_trail", cfg.AuditTrailPath)

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
