package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keylin/harvester/pkg/models"
)

func validSource() *models.Source {
	return &models.Source{
		ID:            "src",
		Name:          "Example",
		URL:           "https://example.com/",
		CollectorType: "feed",
		ScheduleMode:  models.ScheduleModeAuto,
	}
}

func TestSource_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.Source)
		wantErr error
	}{
		{
			name:   "valid auto source",
			mutate: func(*models.Source) {},
		},
		{
			name:    "missing URL",
			mutate:  func(s *models.Source) { s.URL = "" },
			wantErr: models.ErrInvalidSource,
		},
		{
			name:    "missing collector type",
			mutate:  func(s *models.Source) { s.CollectorType = "" },
			wantErr: models.ErrInvalidSource,
		},
		{
			name:    "unknown schedule mode",
			mutate:  func(s *models.Source) { s.ScheduleMode = "sometimes" },
			wantErr: models.ErrInvalidSource,
		},
		{
			name:    "fixed mode without override or cron",
			mutate:  func(s *models.Source) { s.ScheduleMode = models.ScheduleModeFixed },
			wantErr: models.ErrInvalidSource,
		},
		{
			name: "fixed mode with override",
			mutate: func(s *models.Source) {
				s.ScheduleMode = models.ScheduleModeFixed
				s.OverrideInterval = time.Hour
			},
		},
		{
			name: "fixed mode with cron",
			mutate: func(s *models.Source) {
				s.ScheduleMode = models.ScheduleModeFixed
				s.CronExpression = "0 6 * * *"
			},
		},
		{
			name:    "malformed cron expression",
			mutate:  func(s *models.Source) { s.CronExpression = "every tuesday" },
			wantErr: models.ErrInvalidCronExpression,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := validSource()
			tt.mutate(source)

			err := source.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSource_Due(t *testing.T) {
	now := time.Now().UTC()

	source := validSource()
	source.Active = true
	source.ScheduleEnabled = true
	source.NextCollectionAt = now.Add(-time.Minute)

	assert.True(t, source.Due(now))

	source.NextCollectionAt = now.Add(time.Minute)
	assert.False(t, source.Due(now))

	source.NextCollectionAt = now.Add(-time.Minute)
	source.ScheduleMode = models.ScheduleModeManual
	assert.False(t, source.Due(now))

	source.ScheduleMode = models.ScheduleModeAuto
	source.Active = false
	assert.False(t, source.Due(now))
}

func TestSource_HotspotActive(t *testing.T) {
	now := time.Now().UTC()
	until := now.Add(time.Hour)
	expired := now.Add(-time.Hour)

	source := validSource()
	assert.False(t, source.HotspotActive(now))

	source.HotspotLevel = models.HotspotElevated
	source.HotspotUntil = &until
	assert.True(t, source.HotspotActive(now))

	source.HotspotUntil = &expired
	assert.False(t, source.HotspotActive(now))

	source.HotspotLevel = models.HotspotNone
	source.HotspotUntil = &until
	assert.False(t, source.HotspotActive(now))
}
