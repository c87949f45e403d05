package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keylin/harvester/pkg/eventbus"
	"github.com/keylin/harvester/pkg/events"
	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
)

// Execution implements the operator actions on executions: cancel, pause and
// resume. These are the only paths to the cancelled and paused statuses; the
// executor itself never sets them.
type Execution struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewExecution(logger *slog.Logger, p persistence.Persistence, publisher eventbus.EventPublisher) *Execution {
	return &Execution{
		persistence: p,
		publisher:   publisher,
		logger:      logger.With("module", "execution_service"),
	}
}

func (s *Execution) Get(ctx context.Context, id string) (*models.PipelineExecution, error) {
	return s.persistence.Executions().ByID(ctx, id)
}

func (s *Execution) Steps(ctx context.Context, id string) ([]*models.PipelineStep, error) {
	return s.persistence.Executions().Steps(ctx, id)
}

func (s *Execution) ListByContent(ctx context.Context, contentID string) ([]*models.PipelineExecution, error) {
	return s.persistence.Executions().ListByContent(ctx, contentID)
}

// Cancel is cooperative: the executor stops before the next step and
// discards in-flight output, but running handler work is not interrupted.
// The content item goes back to pending so it can be re-triggered.
func (s *Execution) Cancel(ctx context.Context, id, reason string) (*models.PipelineExecution, error) {
	execution, err := s.persistence.Executions().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch execution.Status {
	case models.ExecutionStatusPending, models.ExecutionStatusRunning, models.ExecutionStatusPaused:
	default:
		return nil, fmt.Errorf("%w: cannot cancel execution in status %s", ErrInvalidTransition, execution.Status)
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusCancelled
	execution.FinishedAt = &now

	if err := s.persistence.Executions().Save(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to save cancelled execution: %w", err)
	}

	if item, err := s.persistence.ContentItems().ByID(ctx, execution.ContentID); err == nil {
		item.Status = models.ContentStatusPending
		if err := s.persistence.ContentItems().Save(ctx, item); err != nil {
			s.logger.WarnContext(ctx, "Failed to reset content status after cancel",
				"content_id", item.ID, "error", err)
		}
	}

	cancelled := events.ExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent),
		ExecutionID: execution.ID,
		ContentID:   execution.ContentID,
		Reason:      reason,
	}

	if err := s.publisher.Publish(ctx, events.StepLane, execution.ID, cancelled); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish cancellation", "error", err)
	}

	s.logger.InfoContext(ctx, "Execution cancelled", "execution_id", id, "reason", reason)

	return execution, nil
}

func (s *Execution) Pause(ctx context.Context, id string) (*models.PipelineExecution, error) {
	execution, err := s.persistence.Executions().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch execution.Status {
	case models.ExecutionStatusPending, models.ExecutionStatusRunning:
	default:
		return nil, fmt.Errorf("%w: cannot pause execution in status %s", ErrInvalidTransition, execution.Status)
	}

	execution.Status = models.ExecutionStatusPaused

	if err := s.persistence.Executions().Save(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to save paused execution: %w", err)
	}

	s.logger.InfoContext(ctx, "Execution paused", "execution_id", id)

	return execution, nil
}

// Resume re-enqueues the current step index: the queue job a paused execution
// dropped has to be replayed for the pipeline to move again.
func (s *Execution) Resume(ctx context.Context, id string) (*models.PipelineExecution, error) {
	execution, err := s.persistence.Executions().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusPaused {
		return nil, fmt.Errorf("%w: cannot resume execution in status %s", ErrInvalidTransition, execution.Status)
	}

	execution.Status = models.ExecutionStatusRunning

	if err := s.persistence.Executions().Save(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to save resumed execution: %w", err)
	}

	event := events.StepAvailable{
		BaseEvent:   events.NewBaseEvent(events.StepAvailableEvent),
		ExecutionID: execution.ID,
		StepIndex:   execution.CurrentStep,
		ContentID:   execution.ContentID,
	}

	if err := s.publisher.Publish(ctx, events.StepLane, execution.ID, event); err != nil {
		return nil, fmt.Errorf("failed to re-enqueue current step: %w", err)
	}

	s.logger.InfoContext(ctx, "Execution resumed",
		"execution_id", id, "current_step", execution.CurrentStep)

	return execution, nil
}
