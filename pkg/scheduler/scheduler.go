package scheduler

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
	"github.com/keylin/harvester/pkg/lock"
	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/otelhelper"
	"github.com/keylin/harvester/pkg/persistence"
)

const (
	// SweepLockName guards the periodic sweep so overlapping timers never
	// double-enqueue collect jobs.
	SweepLockName = "scheduler.sweep"

	DefaultSweepInterval = time.Minute
	sweepLockTTL         = 5 * time.Minute
)

// Hotspot detection thresholds on new items per collection attempt.
const (
	hotspotElevatedThreshold = 3
	hotspotExtremeThreshold  = 10
	hotspotTTL               = 2 * time.Hour
)

// CollectionResult is the outcome of one collection attempt, reported back
// by the worker that ran the collector.
type CollectionResult struct {
	SourceID   string
	Discovered int
	NewItems   int
	Err        error
}

// Scheduler owns source scheduling state: it sweeps due sources onto the
// collect lane and recomputes next_collection_at after every attempt.
type Scheduler struct {
	persistence   persistence.Persistence
	publisher     eventbus.EventPublisher
	locks         lock.Manager
	logger        *slog.Logger
	tracer        trace.Tracer
	sweepInterval time.Duration
}

func NewScheduler(
	logger *slog.Logger,
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	locks lock.Manager,
	sweepInterval time.Duration,
) *Scheduler {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	return &Scheduler{
		persistence:   persistence,
		publisher:     publisher,
		locks:         locks,
		logger:        logger.With("module", "scheduler"),
		tracer:        otel.Tracer("harvester/scheduler"),
		sweepInterval: sweepInterval,
	}
}

// Run sweeps on a fixed timer until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting scheduler", "sweep_interval", s.sweepInterval)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		if err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return nil
		case <-ticker.C:
		}
	}
}

// Sweep enqueues one collect job per due source. It holds the sweep lock for
// its duration; a sweep that cannot acquire the lock is a silent no-op since
// another instance is already dispatching.
func (s *Scheduler) Sweep(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.sweep")
	defer span.End()

	release, acquired, err := s.locks.Acquire(ctx, SweepLockName, sweepLockTTL)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to acquire sweep lock: %w", err)
	}

	if !acquired {
		s.logger.DebugContext(ctx, "Sweep already running elsewhere, skipping")

		return nil
	}
	defer release(ctx)

	now := time.Now().UTC()

	due, err := s.persistence.Sources().Due(ctx, now)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to list due sources: %w", err)
	}

	span.SetAttributes(attribute.Int("harvester.sources.due", len(due)))

	dispatched := 0

	for _, source := range due {
		// One source's dispatch failure must never block another's.
		if err := s.dispatch(ctx, source, now); err != nil {
			s.logger.ErrorContext(ctx, "Failed to dispatch source",
				"source_id", source.ID, "error", err)

			continue
		}

		dispatched++
	}

	if dispatched > 0 {
		s.logger.InfoContext(ctx, "Sweep dispatched sources",
			"due", len(due), "dispatched", dispatched)
	}

	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, source *models.Source, now time.Time) error {
	event := events.CollectDue{
		BaseEvent:   events.NewBaseEvent(events.CollectDueEvent),
		SourceID:    source.ID,
		ScheduledAt: now,
	}

	return s.publisher.Publish(ctx, events.CollectLane, source.ID, event)
}

// RecordCollectionResult updates the source's scheduling state after one
// collection attempt: failure increments the backoff counter, success resets
// it and refreshes the periodicity and hotspot signals. In both cases
// next_collection_at is recomputed here and nowhere else.
func (s *Scheduler) RecordCollectionResult(ctx context.Context, result CollectionResult) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.record_result",
		trace.WithAttributes(attribute.String(otelhelper.SourceIDKey, result.SourceID)))
	defer span.End()

	source, err := s.persistence.Sources().ByID(ctx, result.SourceID)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load source: %w", err)
	}

	now := time.Now().UTC()
	success := result.Err == nil

	if success {
		s.recordSuccess(source, result, now)
	} else {
		source.ConsecutiveFailures++
		source.LastError = result.Err.Error()
	}

	next, interval := NextCollection(source, now, success)
	source.NextCollectionAt = next
	source.CalculatedInterval = interval

	if err := s.persistence.Sources().Save(ctx, source); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}

	s.logger.DebugContext(ctx, "Recorded collection result",
		"source_id", source.ID,
		"success", success,
		"new_items", result.NewItems,
		"next_collection_at", next,
		"interval", interval)

	return nil
}

func (s *Scheduler) recordSuccess(source *models.Source, result CollectionResult, now time.Time) {
	previous := source.LastCollectedAt

	source.ConsecutiveFailures = 0
	source.LastError = ""
	source.LastCollectedAt = &now

	// Learn the source's update cadence from attempts that actually found
	// something new; empty attempts say nothing about cadence.
	if result.NewItems > 0 && previous != nil {
		gap := now.Sub(*previous)
		if gap > 0 {
			if source.PeriodicityInterval > 0 {
				source.PeriodicityInterval = (3*source.PeriodicityInterval + gap) / 4
			} else {
				source.PeriodicityInterval = gap
			}
		}
	}

	s.updateHotspot(source, result.NewItems, now)
}

func (s *Scheduler) updateHotspot(source *models.Source, newItems int, now time.Time) {
	switch {
	case newItems >= hotspotExtremeThreshold:
		until := now.Add(hotspotTTL)
		source.HotspotLevel = models.HotspotExtreme
		source.HotspotUntil = &until
	case newItems >= hotspotElevatedThreshold:
		until := now.Add(hotspotTTL)
		source.HotspotLevel = models.HotspotElevated
		source.HotspotUntil = &until
	case !source.HotspotActive(now):
		source.HotspotLevel = models.HotspotNone
		source.HotspotUntil = nil
	}
}
