package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/persistence/file"
)

func newStore(t *testing.T) *file.Persistence {
	t.Helper()

	return file.NewPersistence(t.TempDir())
}

func TestContentRepository_IngestIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	item := &models.ContentItem{
		ID:          "item-1",
		SourceID:    "src",
		ExternalID:  "ext-1",
		Title:       "First",
		Status:      models.ContentStatusPending,
		CollectedAt: time.Now().UTC(),
	}

	stored, created, err := store.ContentItems().Ingest(ctx, item)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "item-1", stored.ID)

	duplicate := &models.ContentItem{
		ID:         "item-2",
		SourceID:   "src",
		ExternalID: "ext-1",
		Title:      "Duplicate",
		Status:     models.ContentStatusPending,
	}

	stored, created, err = store.ContentItems().Ingest(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "item-1", stored.ID)
	assert.Equal(t, "First", stored.Title)

	// A different external ID from the same source is a new item.
	other := &models.ContentItem{
		ID:         "item-3",
		SourceID:   "src",
		ExternalID: "ext-2",
		Status:     models.ContentStatusPending,
	}

	_, created, err = store.ContentItems().Ingest(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestContentRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	ready := models.ContentStatusReady

	seed := []*models.ContentItem{
		{ID: "a", SourceID: "one", ExternalID: "a", Status: models.ContentStatusReady},
		{ID: "b", SourceID: "one", ExternalID: "b", Status: models.ContentStatusPending},
		{ID: "c", SourceID: "two", ExternalID: "c", Status: models.ContentStatusReady},
	}
	for _, item := range seed {
		_, _, err := store.ContentItems().Ingest(ctx, item)
		require.NoError(t, err)
	}

	items, err := store.ContentItems().List(ctx, persistence.ListContentOptions{SourceID: "one"})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = store.ContentItems().List(ctx, persistence.ListContentOptions{Status: &ready})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = store.ContentItems().List(ctx, persistence.ListContentOptions{SourceID: "one", Status: &ready})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
}

func TestSourceRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.Sources().ByID(ctx, "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsNotFound(err))

	err = store.Sources().Delete(ctx, "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsNotFound(err))
}

func TestSourceRepository_Due(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC()

	save := func(id string, mutate func(*models.Source)) {
		source := &models.Source{
			ID:               id,
			Name:             "Source " + id,
			URL:              "https://example.com/" + id,
			CollectorType:    "feed",
			ScheduleMode:     models.ScheduleModeAuto,
			ScheduleEnabled:  true,
			Active:           true,
			HotspotLevel:     models.HotspotNone,
			NextCollectionAt: now.Add(-time.Minute),
		}
		mutate(source)
		require.NoError(t, store.Sources().Save(ctx, source))
	}

	save("due", func(*models.Source) {})
	save("future", func(s *models.Source) { s.NextCollectionAt = now.Add(time.Hour) })
	save("inactive", func(s *models.Source) { s.Active = false })
	save("disabled", func(s *models.Source) { s.ScheduleEnabled = false })
	save("manual", func(s *models.Source) { s.ScheduleMode = models.ScheduleModeManual })

	due, err := store.Sources().Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)
}

func TestExecutionRepository_ActiveByContent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	execution := &models.PipelineExecution{
		ID:         "exec",
		ContentID:  "content",
		TemplateID: "tpl",
		Status:     models.ExecutionStatusRunning,
		TotalSteps: 1,
	}
	steps := []*models.PipelineStep{
		{ID: "s0", ExecutionID: "exec", Index: 0, StepType: "enrich", Status: models.StepStatusPending},
	}
	require.NoError(t, store.Executions().Create(ctx, execution, steps))

	active, err := store.Executions().ActiveByContent(ctx, "content")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "exec", active.ID)

	execution.Status = models.ExecutionStatusCancelled
	require.NoError(t, store.Executions().Save(ctx, execution))

	active, err = store.Executions().ActiveByContent(ctx, "content")
	require.NoError(t, err)
	assert.Nil(t, active)
}
