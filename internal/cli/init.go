// Package cli consolidates the initialization shared by cmd/sparagne and
// cmd/sparagne-worker: env loading, config validation, logging and store
// selection.
package cli

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/Oghma/Sparagne/internal/config"
	"github.com/Oghma/Sparagne/internal/ledger"
	applog "github.com/Oghma/Sparagne/internal/log"
	"github.com/Oghma/Sparagne/internal/storage"
)

// Bootstrap loads the environment, validates configuration and installs the
// default logger for the given component. It exits the process on invalid
// configuration; there is nothing sensible to run without one.
func Bootstrap(component string) (*config.Config, *applog.Logger) {
	// .env is for local development; in production the environment is real.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	level, err := applog.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("Unknown log level, using info", "log_level", cfg.LogLevel)
	}
	logger := applog.New(applog.Config{Level: level, Component: component})
	applog.SetDefault(logger)
	return cfg, logger
}

// OpenStore opens the configured storage backend or exits on failure.
func OpenStore(cfg *config.Config, logger *applog.Logger) (ledger.Store, storage.CleanupFunc) {
	store, cleanup, err := storage.Open(storage.Backend(cfg.StorageBackend), cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open store", "error", err, "backend", cfg.StorageBackend)
		os.Exit(1)
	}
	return store, cleanup
}
