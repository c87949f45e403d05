// Package executor runs pipeline steps: exactly one step of one execution per
// invocation, to a terminal per-step outcome, followed by the decision of
// what happens next.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keylin/harvester/pkg/eventbus"
	"github.com/keylin/harvester/pkg/events"
	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/otelhelper"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/protocol"
	"github.com/keylin/harvester/pkg/registry"
)

// Executor advances pipeline executions one step at a time. Handler failures
// are absorbed into the step's retry/criticality logic and never surface as
// queue-level job failures, so the queue's own retry policy cannot compound
// with the executor's.
type Executor struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewExecutor(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	publisher eventbus.EventPublisher,
) *Executor {
	return &Executor{
		persistence: persistence,
		registry:    registry,
		publisher:   publisher,
		logger:      logger.With("module", "executor"),
		tracer:      otel.Tracer("harvester/executor"),
	}
}

// RunStep runs one step of one execution. A non-nil return means
// infrastructure trouble (storage, queue) and lets the queue redeliver;
// handler failures always return nil.
func (e *Executor) RunStep(ctx context.Context, executionID string, stepIndex int) error {
	ctx, span := e.tracer.Start(ctx, "executor.run_step", trace.WithAttributes(
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.Int(otelhelper.StepIndexKey, stepIndex),
	))
	defer span.End()

	logger := e.logger.With("execution_id", executionID, "step_index", stepIndex)

	execution, err := e.persistence.Executions().ByID(ctx, executionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load execution: %w", err)
	}

	// Operator actions win: a cancelled or paused execution runs nothing
	// more and enqueues nothing more.
	if !e.runnable(execution) {
		logger.InfoContext(ctx, "Execution not runnable, dropping step",
			"status", execution.Status)

		return nil
	}

	step, err := e.persistence.Executions().Step(ctx, executionID, stepIndex)
	if err != nil {
		return fmt.Errorf("failed to load step: %w", err)
	}

	// Duplicate queue delivery of an already-resolved step is a no-op.
	if step.Resolved() {
		logger.DebugContext(ctx, "Step already resolved, skipping",
			"status", step.Status)

		return nil
	}

	if step.Status == models.StepStatusFailed {
		logger.DebugContext(ctx, "Step already failed, skipping")

		return nil
	}

	if err := e.markRunning(ctx, execution, step); err != nil {
		return err
	}

	item, err := e.persistence.ContentItems().ByID(ctx, execution.ContentID)
	if err != nil {
		return fmt.Errorf("failed to load content item: %w", err)
	}

	steps, err := e.persistence.Executions().Steps(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}

	output, handlerErr := e.invokeHandler(ctx, logger, item, step, steps)

	// Re-check cancellation: work that could not be interrupted completes
	// but its output is discarded.
	execution, err = e.persistence.Executions().ByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to reload execution: %w", err)
	}

	if !e.runnable(execution) {
		logger.InfoContext(ctx, "Execution no longer runnable, discarding step output",
			"status", execution.Status)

		return nil
	}

	if handlerErr == nil {
		return e.completeStep(ctx, logger, execution, step, steps, output)
	}

	return e.failStep(ctx, logger, execution, step, steps, handlerErr)
}

func (e *Executor) runnable(execution *models.PipelineExecution) bool {
	return execution.Status == models.ExecutionStatusPending ||
		execution.Status == models.ExecutionStatusRunning
}

func (e *Executor) markRunning(ctx context.Context, execution *models.PipelineExecution, step *models.PipelineStep) error {
	now := time.Now().UTC()

	if execution.Status == models.ExecutionStatusPending {
		execution.Status = models.ExecutionStatusRunning
		execution.StartedAt = &now

		if err := e.persistence.Executions().Save(ctx, execution); err != nil {
			return fmt.Errorf("failed to mark execution running: %w", err)
		}
	}

	if step.Status == models.StepStatusPending {
		step.Status = models.StepStatusRunning
		step.StartedAt = &now

		if err := e.persistence.Executions().SaveStep(ctx, step); err != nil {
			return fmt.Errorf("failed to mark step running: %w", err)
		}
	}

	return nil
}

// invokeHandler resolves and calls the handler. Panics and registry lookup
// failures are converted to handler errors; an unknown step type is not
// retryable so its retries count as exhausted immediately.
func (e *Executor) invokeHandler(
	ctx context.Context,
	logger *slog.Logger,
	item *models.ContentItem,
	step *models.PipelineStep,
	steps []*models.PipelineStep,
) (output map[string]any, handlerErr error) {
	defer func() {
		if r := recover(); r != nil {
			handlerErr = fmt.Errorf("step handler panicked: %v", r)
		}
	}()

	handler, err := e.registry.CreateHandler(step.StepType, step.Config)
	if err != nil {
		// Exhaust retries right away: redelivery cannot fix an
		// unregistered type or invalid config.
		factory, factoryErr := e.registry.HandlerFactory(step.StepType)
		if factoryErr == nil {
			step.RetryCount = factory.RetryPolicy().MaxRetries
		} else {
			step.RetryCount = protocol.DefaultRetryPolicy().MaxRetries
		}

		return nil, err
	}

	stepCtx := protocol.StepContext{
		ExecutionID: step.ExecutionID,
		StepIndex:   step.Index,
		ContentID:   item.ID,
		SourceID:    item.SourceID,
		URL:         item.URL,
		Title:       item.Title,
		Config:      step.Config,
		Upstream:    upstreamOutputs(steps, step.Index),
	}

	step.InputData = map[string]any{
		"content_id": item.ID,
		"url":        item.URL,
		"title":      item.Title,
	}

	return handler.Handle(ctx, stepCtx, logger)
}

// upstreamOutputs maps every preceding resolved step's type to its output, so
// step N can read any upstream payload, not just N-1's.
func upstreamOutputs(steps []*models.PipelineStep, index int) map[string]map[string]any {
	upstream := make(map[string]map[string]any)

	for _, step := range steps {
		if step.Index >= index || !step.Resolved() {
			continue
		}

		output := step.OutputData
		if output == nil {
			output = map[string]any{}
		}

		upstream[step.StepType] = output
	}

	return upstream
}

func (e *Executor) completeStep(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.PipelineExecution,
	step *models.PipelineStep,
	steps []*models.PipelineStep,
	output map[string]any,
) error {
	now := time.Now().UTC()

	step.Status = models.StepStatusCompleted
	step.OutputData = output
	step.ErrorMessage = ""
	step.FinishedAt = &now

	if err := e.persistence.Executions().SaveStep(ctx, step); err != nil {
		return fmt.Errorf("failed to save completed step: %w", err)
	}

	logger.InfoContext(ctx, "Step completed", "step_type", step.StepType)

	return e.advance(ctx, logger, execution, step, steps)
}

func (e *Executor) failStep(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.PipelineExecution,
	step *models.PipelineStep,
	steps []*models.PipelineStep,
	handlerErr error,
) error {
	policy := e.retryPolicy(step.StepType)

	step.RetryCount++
	step.ErrorMessage = handlerErr.Error()

	if step.RetryCount <= policy.MaxRetries {
		// Not resolved yet: the step stays running and the same index is
		// re-delivered after the delay.
		if err := e.persistence.Executions().SaveStep(ctx, step); err != nil {
			return fmt.Errorf("failed to save retrying step: %w", err)
		}

		delay := retryDelay(policy, step.RetryCount)

		logger.WarnContext(ctx, "Step failed, retrying",
			"step_type", step.StepType,
			"retry_count", step.RetryCount,
			"max_retries", policy.MaxRetries,
			"delay", delay,
			"error", handlerErr)

		retry := events.StepAvailable{
			BaseEvent:   events.NewBaseEvent(events.StepAvailableEvent),
			ExecutionID: execution.ID,
			StepIndex:   step.Index,
			ContentID:   execution.ContentID,
			Retry:       true,
		}

		if err := e.publisher.PublishAfter(ctx, delay, events.StepLane, execution.ID, retry); err != nil {
			return fmt.Errorf("failed to enqueue retry: %w", err)
		}

		return nil
	}

	if step.Critical {
		return e.failExecution(ctx, logger, execution, step, handlerErr)
	}

	// Non-critical exhaustion: skip and proceed as if the step had
	// succeeded with empty output.
	now := time.Now().UTC()
	step.Status = models.StepStatusSkipped
	step.FinishedAt = &now

	if err := e.persistence.Executions().SaveStep(ctx, step); err != nil {
		return fmt.Errorf("failed to save skipped step: %w", err)
	}

	logger.WarnContext(ctx, "Non-critical step exhausted retries, skipped",
		"step_type", step.StepType, "error", handlerErr)

	return e.advance(ctx, logger, execution, step, steps)
}

func (e *Executor) retryPolicy(stepType string) protocol.RetryPolicy {
	factory, err := e.registry.HandlerFactory(stepType)
	if err != nil {
		return protocol.DefaultRetryPolicy()
	}

	return factory.RetryPolicy()
}

func retryDelay(policy protocol.RetryPolicy, retryCount int) time.Duration {
	delay := policy.Delay
	if delay <= 0 {
		delay = protocol.DefaultRetryPolicy().Delay
	}

	if policy.Backoff {
		for attempt := 1; attempt < retryCount; attempt++ {
			delay *= 2
		}
	}

	return delay
}

func (e *Executor) failExecution(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.PipelineExecution,
	step *models.PipelineStep,
	handlerErr error,
) error {
	now := time.Now().UTC()

	step.Status = models.StepStatusFailed
	step.FinishedAt = &now

	if err := e.persistence.Executions().SaveStep(ctx, step); err != nil {
		return fmt.Errorf("failed to save failed step: %w", err)
	}

	execution.Status = models.ExecutionStatusFailed
	execution.ErrorMessage = fmt.Sprintf("step %d (%s): %s", step.Index, step.StepType, handlerErr)
	execution.FinishedAt = &now

	if err := e.persistence.Executions().Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to mark execution failed: %w", err)
	}

	if err := e.markContentStatus(ctx, execution.ContentID, models.ContentStatusFailed); err != nil {
		return err
	}

	logger.ErrorContext(ctx, "Execution failed on critical step",
		"step_type", step.StepType, "error", handlerErr)

	failed := events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent),
		ExecutionID: execution.ID,
		ContentID:   execution.ContentID,
		StepIndex:   step.Index,
		Error:       execution.ErrorMessage,
	}

	if err := e.publisher.Publish(ctx, events.StepLane, execution.ID, failed); err != nil {
		logger.WarnContext(ctx, "Failed to publish execution failure", "error", err)
	}

	return nil
}

// advance enqueues the next step index, or finishes the execution when the
// resolved step was the last one.
func (e *Executor) advance(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.PipelineExecution,
	step *models.PipelineStep,
	steps []*models.PipelineStep,
) error {
	next := step.Index + 1

	if next < execution.TotalSteps {
		execution.CurrentStep = next
		if err := e.persistence.Executions().Save(ctx, execution); err != nil {
			return fmt.Errorf("failed to advance execution: %w", err)
		}

		event := events.StepAvailable{
			BaseEvent:   events.NewBaseEvent(events.StepAvailableEvent),
			ExecutionID: execution.ID,
			StepIndex:   next,
			ContentID:   execution.ContentID,
		}

		if err := e.publisher.Publish(ctx, events.StepLane, execution.ID, event); err != nil {
			return fmt.Errorf("failed to enqueue next step: %w", err)
		}

		return nil
	}

	return e.completeExecution(ctx, logger, execution, step, steps)
}

func (e *Executor) completeExecution(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.PipelineExecution,
	lastStep *models.PipelineStep,
	steps []*models.PipelineStep,
) error {
	now := time.Now().UTC()

	execution.Status = models.ExecutionStatusCompleted
	execution.CurrentStep = execution.TotalSteps
	execution.FinishedAt = &now

	if err := e.persistence.Executions().Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to mark execution completed: %w", err)
	}

	status := models.ContentStatusReady
	if e.analysisCompleted(steps, lastStep) {
		status = models.ContentStatusAnalyzed
	}

	if err := e.markContentStatus(ctx, execution.ContentID, status); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Execution completed",
		"total_steps", execution.TotalSteps, "content_status", status)

	var duration time.Duration
	if execution.StartedAt != nil {
		duration = now.Sub(*execution.StartedAt)
	}

	completed := events.ExecutionCompleted{
		BaseEvent:     events.NewBaseEvent(events.ExecutionCompletedEvent),
		ExecutionID:   execution.ID,
		ContentID:     execution.ContentID,
		StepsExecuted: execution.TotalSteps,
		Duration:      duration,
	}

	if err := e.publisher.Publish(ctx, events.StepLane, execution.ID, completed); err != nil {
		logger.WarnContext(ctx, "Failed to publish execution completion", "error", err)
	}

	return nil
}

// analysisCompleted reports whether any completed step is an analysis-class
// step, which upgrades the content's terminal status to analyzed.
func (e *Executor) analysisCompleted(steps []*models.PipelineStep, lastStep *models.PipelineStep) bool {
	completed := func(step *models.PipelineStep) bool {
		if step.Index == lastStep.Index {
			return lastStep.Status == models.StepStatusCompleted
		}

		return step.Status == models.StepStatusCompleted
	}

	for _, step := range steps {
		if !completed(step) {
			continue
		}

		factory, err := e.registry.HandlerFactory(step.StepType)
		if err != nil {
			continue
		}

		if factory.Kind() == protocol.StepKindAnalysis {
			return true
		}
	}

	return false
}

func (e *Executor) markContentStatus(ctx context.Context, contentID string, status models.ContentStatus) error {
	item, err := e.persistence.ContentItems().ByID(ctx, contentID)
	if err != nil {
		return fmt.Errorf("failed to load content item: %w", err)
	}

	item.Status = status

	if err := e.persistence.ContentItems().Save(ctx, item); err != nil {
		return fmt.Errorf("failed to save content status: %w", err)
	}

	return nil
}
