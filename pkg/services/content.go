package services

import (
	"context"
	"log/slog"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/orchestrator"
	"github.com/keylin/harvester/pkg/persistence"
)

// Content exposes read access to content items plus manual re-triggering.
type Content struct {
	persistence  persistence.Persistence
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger
}

func NewContent(logger *slog.Logger, p persistence.Persistence, o *orchestrator.Orchestrator) *Content {
	return &Content{
		persistence:  p,
		orchestrator: o,
		logger:       logger.With("module", "content_service"),
	}
}

func (s *Content) List(ctx context.Context, opts persistence.ListContentOptions) ([]*models.ContentItem, error) {
	return s.persistence.ContentItems().List(ctx, opts)
}

func (s *Content) Get(ctx context.Context, id string) (*models.ContentItem, error) {
	return s.persistence.ContentItems().ByID(ctx, id)
}

// Retrigger runs the item through a pipeline again, optionally with an
// explicit template. An active execution makes this a conflict.
func (s *Content) Retrigger(ctx context.Context, id, templateID string) (*models.PipelineExecution, error) {
	item, err := s.persistence.ContentItems().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	execution, err := s.orchestrator.Trigger(ctx, item, templateID, "manual")
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Content re-triggered", "content_id", id)

	return execution, nil
}
