package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/registry"
)

// Template manages pipeline templates. Step types are checked against the
// registry at save time so a template can only reference runnable steps.
type Template struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	logger      *slog.Logger
}

func NewTemplate(logger *slog.Logger, p persistence.Persistence, r *registry.Registry) *Template {
	return &Template{
		persistence: p,
		registry:    r,
		logger:      logger.With("module", "template_service"),
	}
}

func (s *Template) List(ctx context.Context) ([]*models.PipelineTemplate, error) {
	return s.persistence.Templates().All(ctx)
}

func (s *Template) Get(ctx context.Context, id string) (*models.PipelineTemplate, error) {
	return s.persistence.Templates().ByID(ctx, id)
}

func (s *Template) Save(ctx context.Context, template *models.PipelineTemplate) (*models.PipelineTemplate, error) {
	if template.ID == "" {
		template.ID = uuid.NewString()
	}

	if err := template.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	for _, step := range template.Steps {
		if _, err := s.registry.HandlerFactory(step.StepType); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrValidation, err)
		}
	}

	if err := s.persistence.Templates().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to save template: %w", err)
	}

	s.logger.InfoContext(ctx, "Template saved",
		"template_id", template.ID, "steps", len(template.Steps))

	return template, nil
}

func (s *Template) Delete(ctx context.Context, id string) error {
	return s.persistence.Templates().Delete(ctx, id)
}

// StepTypes lists the registered step types with their metadata, for
// template-editing UIs.
func (s *Template) StepTypes() []StepTypeInfo {
	types := make([]StepTypeInfo, 0)

	for _, stepType := range s.registry.StepTypes() {
		factory, err := s.registry.HandlerFactory(stepType)
		if err != nil {
			continue
		}

		types = append(types, StepTypeInfo{
			ID:              factory.ID(),
			Name:            factory.Name(),
			Description:     factory.Description(),
			Kind:            string(factory.Kind()),
			DefaultCritical: factory.DefaultCritical(),
			Schema:          factory.Schema(),
		})
	}

	return types
}

type StepTypeInfo struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Kind            string         `json:"kind"`
	DefaultCritical bool           `json:"default_critical"`
	Schema          map[string]any `json:"schema,omitempty"`
}
