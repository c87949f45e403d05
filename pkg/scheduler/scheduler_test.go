package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keylin/harvester/pkg/events"
	"github.com/keylin/harvester/pkg/lock"
	"github.com/keylin/harvester/pkg/mocks"
	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence/file"
)

func newTestScheduler(t *testing.T) (*Scheduler, *file.Persistence, *mocks.RecordingEventBus) {
	t.Helper()

	persistence := file.NewPersistence(t.TempDir())
	bus := mocks.NewRecordingEventBus()
	scheduler := NewScheduler(slog.Default(), persistence, bus, lock.NewLocalManager(), time.Minute)

	return scheduler, persistence, bus
}

func saveSource(t *testing.T, p *file.Persistence, source *models.Source) {
	t.Helper()
	require.NoError(t, p.Sources().Save(context.Background(), source))
}

func TestSweepDispatchesDueSources(t *testing.T) {
	t.Parallel()

	scheduler, persistence, bus := newTestScheduler(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)

	saveSource(t, persistence, &models.Source{
		ID: "due-1", Name: "Due One", URL: "https://example.com/a",
		CollectorType: "feed", ScheduleMode: models.ScheduleModeAuto,
		ScheduleEnabled: true, Active: true,
		BaseInterval: time.Hour, NextCollectionAt: past,
	})
	saveSource(t, persistence, &models.Source{
		ID: "due-2", Name: "Due Two", URL: "https://example.com/b",
		CollectorType: "feed", ScheduleMode: models.ScheduleModeAuto,
		ScheduleEnabled: true, Active: true,
		BaseInterval: time.Hour, NextCollectionAt: past,
	})
	saveSource(t, persistence, &models.Source{
		ID: "not-due", Name: "Not Due", URL: "https://example.com/c",
		CollectorType: "feed", ScheduleMode: models.ScheduleModeAuto,
		ScheduleEnabled: true, Active: true,
		BaseInterval: time.Hour, NextCollectionAt: time.Now().UTC().Add(time.Hour),
	})
	saveSource(t, persistence, &models.Source{
		ID: "manual", Name: "Manual", URL: "https://example.com/d",
		CollectorType: "feed", ScheduleMode: models.ScheduleModeManual,
		ScheduleEnabled: true, Active: true, NextCollectionAt: past,
	})

	require.NoError(t, scheduler.Sweep(ctx))

	published := bus.PublishedOn(events.CollectLane)
	require.Len(t, published, 2)

	sourceIDs := make(map[string]bool)
	for _, p := range published {
		due, ok := p.Event.(events.CollectDue)
		require.True(t, ok)
		sourceIDs[due.SourceID] = true
	}

	assert.True(t, sourceIDs["due-1"])
	assert.True(t, sourceIDs["due-2"])
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	t.Parallel()

	scheduler, persistence, bus := newTestScheduler(t)
	ctx := context.Background()

	saveSource(t, persistence, &models.Source{
		ID: "due", Name: "Due", URL: "https://example.com",
		CollectorType: "feed", ScheduleMode: models.ScheduleModeAuto,
		ScheduleEnabled: true, Active: true,
		NextCollectionAt: time.Now().UTC().Add(-time.Minute),
	})

	// Hold the sweep lock from "another instance".
	_, acquired, err := scheduler.locks.Acquire(ctx, SweepLockName, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, scheduler.Sweep(ctx))
	assert.Empty(t, bus.Published())
}

func TestSweepIsolatesPerSourceDispatchFailures(t *testing.T) {
	t.Parallel()

	scheduler, persistence, bus := newTestScheduler(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)

	saveSource(t, persistence, &models.Source{
		ID: "a", Name: "Source A", URL: "https://example.com/a",
		CollectorType: "feed", ScheduleMode: models.ScheduleModeAuto,
		ScheduleEnabled: true, Active: true, NextCollectionAt: past,
	})

	bus.PublishErr = errors.New("broker down")

	// Dispatch failures are logged per source, not propagated.
	require.NoError(t, scheduler.Sweep(ctx))
}

func TestRecordCollectionResultSuccessResetsFailures(t *testing.T) {
	t.Parallel()

	scheduler, persistence, _ := newTestScheduler(t)
	ctx := context.Background()

	saveSource(t, persistence, &models.Source{
		ID: "src", Name: "Source", URL: "https://example.com",
		CollectorType: "feed", ScheduleMode: models.ScheduleModeAuto,
		ScheduleEnabled: true, Active: true,
		BaseInterval:        time.Hour,
		ConsecutiveFailures: 4,
		LastError:           "previous failure",
	})

	before := time.Now().UTC()
	require.NoError(t, scheduler.RecordCollectionResult(ctx, CollectionResult{
		SourceID: "src", Discovered: 5, NewItems: 1,
	}))

	source, err := persistence.Sources().ByID(ctx, "src")
	require.NoError(t, err)

	assert.Zero(t, source.ConsecutiveFailures)
	assert.Empty(t, source.LastError)
	require.NotNil(t, source.LastCollectedAt)
	assert.True(t, source.NextCollectionAt.After(before))
	assert.Equal(t, time.Hour, source.CalculatedInterval)
}

func TestRecordCollectionResultFailureBacksOff(t *testing.T) {
	t.Parallel()

	scheduler, persistence, _ := newTestScheduler(t)
	ctx := context.Background()

	saveSource(t, persistence, &models.Source{
		ID: "src", Name: "Source", URL: "https://example.com",
		CollectorType: "feed", ScheduleMode: models.ScheduleModeAuto,
		ScheduleEnabled: true, Active: true,
		BaseInterval: time.Hour,
		MaxInterval:  24 * time.Hour,
	})

	var lastNext time.Time

	// Backoff is monotonic non-decreasing in consecutive failures.
	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, scheduler.RecordCollectionResult(ctx, CollectionResult{
			SourceID: "src", Err: errors.New("fetch failed"),
		}))

		source, err := persistence.Sources().ByID(ctx, "src")
		require.NoError(t, err)

		assert.Equal(t, attempt, source.ConsecutiveFailures)
		assert.Equal(t, "fetch failed", source.LastError)
		assert.True(t, source.NextCollectionAt.After(lastNext))
		lastNext = source.NextCollectionAt
	}

	source, err := persistence.Sources().ByID(ctx, "src")
	require.NoError(t, err)
	// base 1h * 2^3 = 8h.
	assert.Equal(t, 8*time.Hour, source.CalculatedInterval)
}

func TestRecordCollectionResultLearnsPeriodicity(t *testing.T) {
	t.Parallel()

	scheduler, persistence, _ := newTestScheduler(t)
	ctx := context.Background()

	collectedAt := time.Now().UTC().Add(-2 * time.Hour)

	saveSource(t, persistence, &models.Source{
		ID: "src", Name: "Source", URL: "https://example.com",
		CollectorType: "feed", ScheduleMode: models.ScheduleModeAuto,
		ScheduleEnabled: true, Active: true,
		BaseInterval:    time.Hour,
		LastCollectedAt: &collectedAt,
	})

	require.NoError(t, scheduler.RecordCollectionResult(ctx, CollectionResult{
		SourceID: "src", Discovered: 3, NewItems: 2,
	}))

	source, err := persistence.Sources().ByID(ctx, "src")
	require.NoError(t, err)

	// First observation seeds the estimate with the full gap.
	assert.InDelta(t, (2 * time.Hour).Seconds(), source.PeriodicityInterval.Seconds(), 5)
}

func TestRecordCollectionResultDetectsHotspot(t *testing.T) {
	t.Parallel()

	scheduler, persistence, _ := newTestScheduler(t)
	ctx := context.Background()

	saveSource(t, persistence, &models.Source{
		ID: "src", Name: "Source", URL: "https://example.com",
		CollectorType: "feed", ScheduleMode: models.ScheduleModeAuto,
		ScheduleEnabled: true, Active: true,
		BaseInterval: time.Hour,
	})

	require.NoError(t, scheduler.RecordCollectionResult(ctx, CollectionResult{
		SourceID: "src", Discovered: 20, NewItems: 15,
	}))

	source, err := persistence.Sources().ByID(ctx, "src")
	require.NoError(t, err)

	assert.Equal(t, models.HotspotExtreme, source.HotspotLevel)
	require.NotNil(t, source.HotspotUntil)
	assert.True(t, source.HotspotUntil.After(time.Now()))
}
