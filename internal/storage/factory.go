// Package storage selects and opens the ledger store backing a process.
package storage

import (
	"fmt"
	"log/slog"

	"github.com/Oghma/Sparagne/internal/ledger"
	"github.com/Oghma/Sparagne/internal/storage/memory"
	"github.com/Oghma/Sparagne/internal/storage/sqlite"
)

// Backend identifies a store implementation.
type Backend string

const (
	MemoryBackend Backend = "memory"
	SQLiteBackend Backend = "sqlite"
)

// IsValid reports whether the backend name is known.
func (b Backend) IsValid() bool {
	switch b {
	case MemoryBackend, SQLiteBackend:
		return true
	default:
		return false
	}
}

// CleanupFunc releases resources held by a store.
type CleanupFunc func() error

// Open builds the store for the given backend. The returned cleanup is
// never nil and must be called on shutdown.
func Open(backend Backend, sqliteDBPath string) (ledger.Store, CleanupFunc, error) {
	switch backend {
	case SQLiteBackend:
		store, err := sqlite.NewStore(sqliteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		slog.Info("Initialized sqlite backend", "path", sqliteDBPath)
		return store, store.Close, nil
	case MemoryBackend:
		slog.Info("Initialized memory backend")
		return memory.NewStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}
