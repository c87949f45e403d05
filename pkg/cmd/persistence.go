package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/persistence/file"
	"github.com/keylin/harvester/pkg/persistence/postgresql"
)

// NewPersistence picks the backend from the URL scheme: postgres:// (or
// postgresql://) selects PostgreSQL, anything else is treated as a directory
// path for the file backend.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize PostgreSQL persistence: %w", err))
		}

		return p
	default:
		return file.NewPersistence(databaseURL)
	}
}
