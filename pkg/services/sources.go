package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
)

// Source manages source configuration. Scheduling state on the source is
// owned by the scheduler; this service only touches configuration fields.
type Source struct {
	persistence persistence.Persistence
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewSource(logger *slog.Logger, p persistence.Persistence, v *validator.Validate) *Source {
	return &Source{
		persistence: p,
		validator:   v,
		logger:      logger.With("module", "source_service"),
	}
}

func (s *Source) List(ctx context.Context) ([]*models.Source, error) {
	return s.persistence.Sources().All(ctx)
}

func (s *Source) Get(ctx context.Context, id string) (*models.Source, error) {
	return s.persistence.Sources().ByID(ctx, id)
}

func (s *Source) Create(ctx context.Context, source *models.Source) (*models.Source, error) {
	if source.ID == "" {
		source.ID = uuid.NewString()
	}

	if source.ScheduleMode == "" {
		source.ScheduleMode = models.ScheduleModeAuto
	}

	if source.HotspotLevel == "" {
		source.HotspotLevel = models.HotspotNone
	}

	// New sources are due immediately; the scheduler takes over from the
	// first attempt onward.
	if source.NextCollectionAt.IsZero() {
		source.NextCollectionAt = time.Now().UTC()
	}

	if err := s.validate(source); err != nil {
		return nil, err
	}

	if err := s.persistence.Sources().Save(ctx, source); err != nil {
		return nil, fmt.Errorf("failed to save source: %w", err)
	}

	s.logger.InfoContext(ctx, "Source created", "source_id", source.ID, "name", source.Name)

	return source, nil
}

func (s *Source) Update(ctx context.Context, id string, update *models.Source) (*models.Source, error) {
	existing, err := s.persistence.Sources().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	existing.Name = update.Name
	existing.URL = update.URL
	existing.CollectorType = update.CollectorType
	existing.CollectorConfig = update.CollectorConfig
	existing.TemplateID = update.TemplateID
	existing.ScheduleMode = update.ScheduleMode
	existing.ScheduleEnabled = update.ScheduleEnabled
	existing.Active = update.Active
	existing.BaseInterval = update.BaseInterval
	existing.OverrideInterval = update.OverrideInterval
	existing.CronExpression = update.CronExpression
	existing.MinInterval = update.MinInterval
	existing.MaxInterval = update.MaxInterval

	if err := s.validate(existing); err != nil {
		return nil, err
	}

	if err := s.persistence.Sources().Save(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to save source: %w", err)
	}

	return existing, nil
}

func (s *Source) Delete(ctx context.Context, id string) error {
	return s.persistence.Sources().Delete(ctx, id)
}

func (s *Source) validate(source *models.Source) error {
	if err := s.validator.Struct(source); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}

	if err := source.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}

	return nil
}
