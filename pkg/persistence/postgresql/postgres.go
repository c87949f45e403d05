// Package postgresql provides the PostgreSQL persistence implementation for
// sources, content items, pipeline templates and pipeline executions.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	sources    *SourceRepository
	content    *ContentRepository
	templates  *TemplateRepository
	executions *ExecutionRepository
}

// NewPersistence connects to PostgreSQL and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:         database,
		logger:     logger,
		sources:    NewSourceRepository(database, logger),
		content:    NewContentRepository(database, logger),
		templates:  NewTemplateRepository(database, logger),
		executions: NewExecutionRepository(database, logger),
	}, nil
}

func (p *Persistence) Sources() persistence.SourceRepository { return p.sources }

func (p *Persistence) ContentItems() persistence.ContentRepository { return p.content }

func (p *Persistence) Templates() persistence.TemplateRepository { return p.templates }

func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executions }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
