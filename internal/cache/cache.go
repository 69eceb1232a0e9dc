// Package cache provides the in-process caches the engine puts in front of
// expensive reads, chiefly per-vault statistics. Entries carry a TTL; a
// Manager sweeps expired ones in the background.
package cache

import "time"

// Cache is what the engine sees: a typed key/value store with TTL handled
// by the implementation.
type Cache[T any] interface {
	// Get returns the cached value, or false when absent or expired.
	Get(key string) (T, bool)

	// Set stores a value under key, resetting its TTL.
	Set(key string, data T)

	// Delete drops the key if present.
	Delete(key string)

	// Size reports how many entries are currently held.
	Size() int
}

// Manager owns the background sweep of every registered cache, so binaries
// run a single cleanup goroutine regardless of how many caches they hold.
type Manager struct {
	caches      []Cleaner
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// Cleaner is implemented by caches whose expired entries can be swept.
type Cleaner interface {
	CleanExpired() int
}

// NewManager returns a manager with no caches registered yet.
func NewManager() *Manager {
	return &Manager{
		caches:      make([]Cleaner, 0),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a cache to the sweep. Not safe to call after StartCleanup.
func (m *Manager) Register(cache Cleaner) {
	m.caches = append(m.caches, cache)
}

// StartCleanup launches the sweep goroutine ticking at interval.
func (m *Manager) StartCleanup(interval time.Duration) {
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, cache := range m.caches {
				cache.CleanExpired()
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop ends the sweep and waits for the goroutine to exit.
func (m *Manager) Stop() {
	if m.stopCleanup != nil {
		close(m.stopCleanup)
		<-m.cleanupDone
	}
}
