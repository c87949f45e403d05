// Package config provides YAML loading for source seed files.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
)

// SeedFile is the structure of a sources.yaml file used to bootstrap an
// installation with a fixed set of sources and templates.
type SeedFile struct {
	Sources   []SeedSource   `yaml:"sources"`
	Templates []SeedTemplate `yaml:"templates"`
}

type SeedSource struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name"`
	URL             string         `yaml:"url"`
	CollectorType   string         `yaml:"collector_type"`
	CollectorConfig map[string]any `yaml:"collector_config"`
	TemplateID      string         `yaml:"template_id"`

	ScheduleMode   string `yaml:"schedule_mode"`
	CronExpression string `yaml:"cron_expression"`

	BaseIntervalSeconds     int64 `yaml:"base_interval_seconds"`
	OverrideIntervalSeconds int64 `yaml:"override_interval_seconds"`
	MinIntervalSeconds      int64 `yaml:"min_interval_seconds"`
	MaxIntervalSeconds      int64 `yaml:"max_interval_seconds"`
}

type SeedTemplate struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Steps       []SeedStep `yaml:"steps"`
}

type SeedStep struct {
	StepType string         `yaml:"step_type"`
	Critical *bool          `yaml:"critical"`
	Config   map[string]any `yaml:"config"`
}

// LoadSeedFile parses a seed YAML file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	return &seed, nil
}

// Apply upserts the seed's templates and sources. Existing sources keep their
// learned scheduling state; only configuration fields are overwritten.
func (f *SeedFile) Apply(ctx context.Context, p persistence.Persistence) error {
	for _, tpl := range f.Templates {
		template := tpl.toTemplate()
		if err := template.Validate(); err != nil {
			return fmt.Errorf("seed template %s: %w", tpl.ID, err)
		}

		if err := p.Templates().Save(ctx, template); err != nil {
			return fmt.Errorf("failed to save seed template %s: %w", tpl.ID, err)
		}
	}

	now := time.Now().UTC()

	for _, src := range f.Sources {
		if src.ID == "" {
			return fmt.Errorf("seed source %q: id is required", src.Name)
		}

		source := src.toSource(now)

		if existing, err := p.Sources().ByID(ctx, src.ID); err == nil {
			source.NextCollectionAt = existing.NextCollectionAt
			source.CalculatedInterval = existing.CalculatedInterval
			source.PeriodicityInterval = existing.PeriodicityInterval
			source.HotspotLevel = existing.HotspotLevel
			source.HotspotUntil = existing.HotspotUntil
			source.ConsecutiveFailures = existing.ConsecutiveFailures
			source.LastCollectedAt = existing.LastCollectedAt
			source.CreatedAt = existing.CreatedAt
		}

		if err := source.Validate(); err != nil {
			return fmt.Errorf("seed source %s: %w", src.ID, err)
		}

		if err := p.Sources().Save(ctx, source); err != nil {
			return fmt.Errorf("failed to save seed source %s: %w", src.ID, err)
		}
	}

	return nil
}

func (t SeedTemplate) toTemplate() *models.PipelineTemplate {
	steps := make([]*models.TemplateStep, 0, len(t.Steps))
	for _, step := range t.Steps {
		steps = append(steps, &models.TemplateStep{
			StepType: step.StepType,
			Critical: step.Critical,
			Config:   step.Config,
		})
	}

	return &models.PipelineTemplate{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Steps:       steps,
	}
}

func (s SeedSource) toSource(now time.Time) *models.Source {
	mode := models.ScheduleMode(s.ScheduleMode)
	if mode == "" {
		mode = models.ScheduleModeAuto
	}

	var templateID *string
	if s.TemplateID != "" {
		id := s.TemplateID
		templateID = &id
	}

	return &models.Source{
		ID:               s.ID,
		Name:             s.Name,
		URL:              s.URL,
		CollectorType:    s.CollectorType,
		CollectorConfig:  s.CollectorConfig,
		TemplateID:       templateID,
		ScheduleMode:     mode,
		ScheduleEnabled:  true,
		Active:           true,
		CronExpression:   s.CronExpression,
		BaseInterval:     time.Duration(s.BaseIntervalSeconds) * time.Second,
		OverrideInterval: time.Duration(s.OverrideIntervalSeconds) * time.Second,
		MinInterval:      time.Duration(s.MinIntervalSeconds) * time.Second,
		MaxInterval:      time.Duration(s.MaxIntervalSeconds) * time.Second,
		HotspotLevel:     models.HotspotNone,
		NextCollectionAt: now,
	}
}
