package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/keylin/harvester/pkg/eventbus"
	"github.com/keylin/harvester/pkg/events"
	"github.com/keylin/harvester/pkg/executor"
	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/orchestrator"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/registry"
	"github.com/keylin/harvester/pkg/scheduler"
)

// WorkerManager consumes both lanes: collect jobs and pipeline steps. The two
// lanes get independent worker pools so a burst of slow collections cannot
// starve step processing.
type WorkerManager struct {
	id             string
	logger         *slog.Logger
	persistence    persistence.Persistence
	registry       *registry.Registry
	eventBus       eventbus.EventBus
	executor       *executor.Executor
	orchestrator   *orchestrator.Orchestrator
	scheduler      *scheduler.Scheduler
	stepWorkers    int
	collectWorkers int
}

func NewWorkerManager(
	id string,
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	executor *executor.Executor,
	orchestrator *orchestrator.Orchestrator,
	scheduler *scheduler.Scheduler,
	stepWorkers int,
	collectWorkers int,
) *WorkerManager {
	return &WorkerManager{
		id:             id,
		logger:         logger.With("module", "worker_manager"),
		persistence:    persistence,
		registry:       registry,
		eventBus:       eventBus,
		executor:       executor,
		orchestrator:   orchestrator,
		scheduler:      scheduler,
		stepWorkers:    stepWorkers,
		collectWorkers: collectWorkers,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager",
		"step_workers", w.stepWorkers, "collect_workers", w.collectWorkers)

	if err := w.eventBus.Handle(events.StepLane, events.StepAvailableEvent, w.handleStepAvailable); err != nil {
		return err
	}

	if err := w.eventBus.Handle(events.CollectLane, events.CollectDueEvent, w.handleCollectDue); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx, events.StepLane, w.stepWorkers); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx, events.CollectLane, w.collectWorkers); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		w.logger.InfoContext(ctx, "Shutting down worker...")
	case <-ctx.Done():
	}

	return nil
}

func (w *WorkerManager) handleStepAvailable(ctx context.Context, event any) error {
	stepEvent, ok := event.(*events.StepAvailable)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for StepAvailable")

		return nil
	}

	return w.executor.RunStep(ctx, stepEvent.ExecutionID, stepEvent.StepIndex)
}

func (w *WorkerManager) handleCollectDue(ctx context.Context, event any) error {
	collectEvent, ok := event.(*events.CollectDue)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for CollectDue")

		return nil
	}

	logger := w.logger.With("source_id", collectEvent.SourceID)
	logger.InfoContext(ctx, "Processing collect job")

	source, err := w.persistence.Sources().ByID(ctx, collectEvent.SourceID)
	if err != nil {
		// Without the source there is no scheduling state to update either,
		// so let the queue redeliver.
		return err
	}

	result := w.collect(ctx, logger, source)

	if err := w.scheduler.RecordCollectionResult(ctx, result); err != nil {
		return err
	}

	if result.Err != nil {
		logger.WarnContext(ctx, "Collection attempt failed", "error", result.Err)
	} else {
		logger.InfoContext(ctx, "Collection attempt finished",
			"discovered", result.Discovered, "new_items", result.NewItems)
	}

	return nil
}

// collect runs one collection attempt. Collector failures land in the result
// and feed the source's backoff instead of surfacing as queue errors.
func (w *WorkerManager) collect(ctx context.Context, logger *slog.Logger, source *models.Source) scheduler.CollectionResult {
	result := scheduler.CollectionResult{SourceID: source.ID}

	collector, err := w.registry.CreateCollector(source.CollectorType, source.CollectorConfig, logger)
	if err != nil {
		result.Err = err

		return result
	}

	discovered, err := collector.Collect(ctx, source)
	if err != nil {
		result.Err = err

		return result
	}

	result.Discovered = len(discovered)
	now := time.Now().UTC()

	for _, entry := range discovered {
		item := &models.ContentItem{
			ID:          uuid.NewString(),
			SourceID:    source.ID,
			ExternalID:  entry.ExternalID,
			URL:         entry.URL,
			Title:       entry.Title,
			RawPayload:  entry.Payload,
			Status:      models.ContentStatusPending,
			PublishedAt: entry.PublishedAt,
			CollectedAt: now,
		}

		stored, created, err := w.persistence.ContentItems().Ingest(ctx, item)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to ingest item",
				"external_id", entry.ExternalID, "error", err)

			continue
		}

		if !created {
			continue
		}

		result.NewItems++

		// One item's trigger failure must not block the rest of the batch.
		if _, err := w.orchestrator.Trigger(ctx, stored, "", "collected"); err != nil {
			logger.ErrorContext(ctx, "Failed to trigger pipeline",
				"content_id", stored.ID, "error", err)
		}
	}

	return result
}
