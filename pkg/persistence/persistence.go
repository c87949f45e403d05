// Package persistence provides the storage abstraction for sources, content
// items, pipeline templates and pipeline executions.
package persistence

import (
	"context"
	"time"

	"github.com/keylin/harvester/pkg/models"
)

type Persistence interface {
	Sources() SourceRepository
	ContentItems() ContentRepository
	Templates() TemplateRepository
	Executions() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type SourceRepository interface {
	All(ctx context.Context) ([]*models.Source, error)

	// Due returns every source eligible for collection at now:
	// active, schedule enabled, not manual, next_collection_at <= now.
	Due(ctx context.Context, now time.Time) ([]*models.Source, error)

	ByID(ctx context.Context, id string) (*models.Source, error)
	Save(ctx context.Context, source *models.Source) error
	Delete(ctx context.Context, id string) error
}

// ListContentOptions filters content listings.
type ListContentOptions struct {
	SourceID string
	Status   *models.ContentStatus
	Limit    int
	Offset   int
}

type ContentRepository interface {
	// Ingest stores the item unless one with the same (source_id,
	// external_id) already exists. It returns the stored item and whether
	// this call created it.
	Ingest(ctx context.Context, item *models.ContentItem) (*models.ContentItem, bool, error)

	ByID(ctx context.Context, id string) (*models.ContentItem, error)
	Save(ctx context.Context, item *models.ContentItem) error
	List(ctx context.Context, opts ListContentOptions) ([]*models.ContentItem, error)
}

type TemplateRepository interface {
	All(ctx context.Context) ([]*models.PipelineTemplate, error)
	ByID(ctx context.Context, id string) (*models.PipelineTemplate, error)
	Save(ctx context.Context, template *models.PipelineTemplate) error
	Delete(ctx context.Context, id string) error
}

type ExecutionRepository interface {
	// Create stores the execution together with its materialized steps.
	Create(ctx context.Context, execution *models.PipelineExecution, steps []*models.PipelineStep) error

	ByID(ctx context.Context, id string) (*models.PipelineExecution, error)
	Save(ctx context.Context, execution *models.PipelineExecution) error

	Steps(ctx context.Context, executionID string) ([]*models.PipelineStep, error)
	Step(ctx context.Context, executionID string, index int) (*models.PipelineStep, error)
	SaveStep(ctx context.Context, step *models.PipelineStep) error

	// ActiveByContent returns the non-terminal execution for a content item,
	// or nil when none exists.
	ActiveByContent(ctx context.Context, contentID string) (*models.PipelineExecution, error)
	ListByContent(ctx context.Context, contentID string) ([]*models.PipelineExecution, error)
}
