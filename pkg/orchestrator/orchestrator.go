// Package orchestrator turns newly collected content items into runnable
// pipeline executions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keylin/harvester/pkg/eventbus"
	"github.com/keylin/harvester/pkg/events"
	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/registry"
)

// ErrExecutionConflict is returned when a content item already has a
// non-terminal execution. Re-triggering waits for the active run to finish.
var ErrExecutionConflict = errors.New("content item already has an active execution")

// Orchestrator materializes pipeline executions from templates and hands the
// first step to the queue. It never advances executions itself.
type Orchestrator struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewOrchestrator(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	publisher eventbus.EventPublisher,
) *Orchestrator {
	return &Orchestrator{
		persistence: persistence,
		registry:    registry,
		publisher:   publisher,
		logger:      logger.With("module", "orchestrator"),
	}
}

// Trigger creates an execution for the item, or marks it ready when no
// template applies. The template resolves from the explicit override first,
// then the source binding. Template problems surface synchronously; no
// partial execution is ever created.
func (o *Orchestrator) Trigger(ctx context.Context, item *models.ContentItem, templateOverride, triggerReason string) (*models.PipelineExecution, error) {
	template, err := o.resolveTemplate(ctx, item, templateOverride)
	if err != nil {
		return nil, err
	}

	// A source without a template skips pipeline creation entirely.
	if template == nil {
		item.Status = models.ContentStatusReady
		if err := o.persistence.ContentItems().Save(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to mark item ready: %w", err)
		}

		o.logger.DebugContext(ctx, "No template bound, item ready",
			"content_id", item.ID, "source_id", item.SourceID)

		return nil, nil
	}

	if err := template.Validate(); err != nil {
		return nil, fmt.Errorf("template %s is not runnable: %w", template.ID, err)
	}

	active, err := o.persistence.Executions().ActiveByContent(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active executions: %w", err)
	}

	if active != nil {
		return nil, fmt.Errorf("execution %s for content %s: %w", active.ID, item.ID, ErrExecutionConflict)
	}

	execution, steps, err := o.materialize(item, template, triggerReason)
	if err != nil {
		return nil, err
	}

	if err := o.persistence.Executions().Create(ctx, execution, steps); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	item.Status = models.ContentStatusProcessing
	if err := o.persistence.ContentItems().Save(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to mark item processing: %w", err)
	}

	first := events.StepAvailable{
		BaseEvent:   events.NewBaseEvent(events.StepAvailableEvent),
		ExecutionID: execution.ID,
		StepIndex:   0,
		ContentID:   item.ID,
	}

	if err := o.publisher.Publish(ctx, events.StepLane, execution.ID, first); err != nil {
		return nil, fmt.Errorf("failed to enqueue first step: %w", err)
	}

	o.logger.InfoContext(ctx, "Triggered pipeline execution",
		"execution_id", execution.ID,
		"content_id", item.ID,
		"template_id", template.ID,
		"total_steps", execution.TotalSteps,
		"reason", triggerReason)

	return execution, nil
}

func (o *Orchestrator) resolveTemplate(ctx context.Context, item *models.ContentItem, override string) (*models.PipelineTemplate, error) {
	templateID := override

	if templateID == "" {
		source, err := o.persistence.Sources().ByID(ctx, item.SourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to load source: %w", err)
		}

		if source.TemplateID == nil || *source.TemplateID == "" {
			return nil, nil
		}

		templateID = *source.TemplateID
	}

	template, err := o.persistence.Templates().ByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	return template, nil
}

// materialize snapshots the template into ordered step rows. Configs are
// copied by value so later template edits never reach a running execution.
func (o *Orchestrator) materialize(item *models.ContentItem, template *models.PipelineTemplate, triggerReason string) (*models.PipelineExecution, []*models.PipelineStep, error) {
	execution := &models.PipelineExecution{
		ID:            uuid.NewString(),
		ContentID:     item.ID,
		TemplateID:    template.ID,
		Status:        models.ExecutionStatusPending,
		CurrentStep:   0,
		TotalSteps:    len(template.Steps),
		TriggerReason: triggerReason,
		CreatedAt:     time.Now().UTC(),
	}

	steps := make([]*models.PipelineStep, 0, len(template.Steps))

	for index, templateStep := range template.Steps {
		critical, err := o.resolveCritical(templateStep)
		if err != nil {
			return nil, nil, err
		}

		steps = append(steps, &models.PipelineStep{
			ID:          uuid.NewString(),
			ExecutionID: execution.ID,
			Index:       index,
			StepType:    templateStep.StepType,
			Critical:    critical,
			Config:      copyConfig(templateStep.Config),
			Status:      models.StepStatusPending,
		})
	}

	return execution, steps, nil
}

// resolveCritical falls back to the step type's registered default when the
// template leaves criticality unset.
func (o *Orchestrator) resolveCritical(step *models.TemplateStep) (bool, error) {
	if step.Critical != nil {
		return *step.Critical, nil
	}

	factory, err := o.registry.HandlerFactory(step.StepType)
	if err != nil {
		return false, fmt.Errorf("cannot resolve criticality: %w", err)
	}

	return factory.DefaultCritical(), nil
}

func copyConfig(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}

	copied := make(map[string]any, len(config))
	for key, value := range config {
		copied[key] = copyValue(value)
	}

	return copied
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return copyConfig(typed)
	case []any:
		copied := make([]any, len(typed))
		for i, element := range typed {
			copied[i] = copyValue(element)
		}

		return copied
	default:
		return typed
	}
}
