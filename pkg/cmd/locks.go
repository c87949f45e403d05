package cmd

import (
	"fmt"
	"log/slog"

	"github.com/keylin/harvester/pkg/lock"
)

// NewLockManager returns a Redis-backed manager when a URL is given, and an
// in-process one otherwise. The local manager only protects against overlap
// within a single process.
func NewLockManager(logger *slog.Logger, redisURL string) lock.Manager {
	if redisURL == "" {
		return lock.NewLocalManager()
	}

	manager, err := lock.NewRedisManager(logger, redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to connect to Redis for locking: %w", err))
	}

	return manager
}
