package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keylin/harvester/pkg/config"
	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence/file"
)

const seedYAML = `
templates:
  - id: news-pipeline
    name: News Pipeline
    steps:
      - step_type: enrich
        config:
          min_tier: direct
      - step_type: analyze
        critical: false

sources:
  - id: example-news
    name: Example News
    url: https://news.example.com/
    collector_type: feed
    collector_config:
      item_selector: "article.entry"
    template_id: news-pipeline
    base_interval_seconds: 1800
  - id: fixed-cadence
    name: Fixed Cadence
    url: https://other.example.com/
    collector_type: feed
    collector_config:
      item_selector: "li.item"
    schedule_mode: fixed
    override_interval_seconds: 3600
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadSeedFile(t *testing.T) {
	seed, err := config.LoadSeedFile(writeSeed(t, seedYAML))
	require.NoError(t, err)

	require.Len(t, seed.Templates, 1)
	require.Len(t, seed.Sources, 2)
	assert.Equal(t, "news-pipeline", seed.Templates[0].ID)
	assert.Equal(t, int64(1800), seed.Sources[0].BaseIntervalSeconds)
	assert.Equal(t, "fixed", seed.Sources[1].ScheduleMode)
}

func TestLoadSeedFile_Missing(t *testing.T) {
	_, err := config.LoadSeedFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestSeedFile_Apply(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())

	seed, err := config.LoadSeedFile(writeSeed(t, seedYAML))
	require.NoError(t, err)
	require.NoError(t, seed.Apply(ctx, store))

	source, err := store.Sources().ByID(ctx, "example-news")
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleModeAuto, source.ScheduleMode)
	assert.Equal(t, 30*time.Minute, source.BaseInterval)
	require.NotNil(t, source.TemplateID)
	assert.Equal(t, "news-pipeline", *source.TemplateID)

	template, err := store.Templates().ByID(ctx, "news-pipeline")
	require.NoError(t, err)
	assert.Len(t, template.Steps, 2)
}

func TestSeedFile_Apply_KeepsSchedulingState(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())

	seed, err := config.LoadSeedFile(writeSeed(t, seedYAML))
	require.NoError(t, err)
	require.NoError(t, seed.Apply(ctx, store))

	// Simulate learned state between two Apply runs.
	source, err := store.Sources().ByID(ctx, "example-news")
	require.NoError(t, err)

	next := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	source.NextCollectionAt = next
	source.PeriodicityInterval = 45 * time.Minute
	source.ConsecutiveFailures = 2
	require.NoError(t, store.Sources().Save(ctx, source))

	require.NoError(t, seed.Apply(ctx, store))

	reloaded, err := store.Sources().ByID(ctx, "example-news")
	require.NoError(t, err)
	assert.True(t, reloaded.NextCollectionAt.Equal(next))
	assert.Equal(t, 45*time.Minute, reloaded.PeriodicityInterval)
	assert.Equal(t, 2, reloaded.ConsecutiveFailures)
}
