package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
)

// SourceRepository handles source-related database operations.
type SourceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSourceRepository(db *sql.DB, logger *slog.Logger) *SourceRepository {
	return &SourceRepository{db: db, logger: logger}
}

const sourceColumns = `
	id
  , name
  , url
  , collector_type
  , collector_config
  , template_id
  , schedule_mode
  , schedule_enabled
  , active
  , base_interval_seconds
  , override_interval_seconds
  , cron_expression
  , min_interval_seconds
  , max_interval_seconds
  , periodicity_interval_seconds
  , hotspot_level
  , hotspot_until
  , consecutive_failures
  , next_collection_at
  , calculated_interval_seconds
  , last_collected_at
  , last_error
  , created_at
  , updated_at
`

func (r *SourceRepository) All(ctx context.Context) ([]*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistence.NewRepositoryError("All", "source", "", err)
	}
	defer r.closeRows(ctx, rows)

	return r.collectSources(rows)
}

// Due returns sources eligible for collection at now. The manual-mode and
// enablement filters run in SQL so a sweep never loads the full source table.
func (r *SourceRepository) Due(ctx context.Context, now time.Time) ([]*models.Source, error) {
	query := `
		SELECT ` + sourceColumns + `
		FROM sources
		WHERE active
		  AND schedule_enabled
		  AND schedule_mode <> 'manual'
		  AND next_collection_at <= $1
		ORDER BY next_collection_at
	`

	rows, err := r.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, persistence.NewRepositoryError("Due", "source", "", err)
	}
	defer r.closeRows(ctx, rows)

	return r.collectSources(rows)
}

func (r *SourceRepository) ByID(ctx context.Context, id string) (*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`

	source, err := r.scanSource(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRepositoryError("ByID", "source", id, persistence.ErrSourceNotFound)
		}

		return nil, persistence.NewRepositoryError("ByID", "source", id, err)
	}

	return source, nil
}

func (r *SourceRepository) Save(ctx context.Context, source *models.Source) error {
	now := time.Now().UTC()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}

	source.UpdatedAt = now

	configJSON, err := json.Marshal(source.CollectorConfig)
	if err != nil {
		return persistence.NewRepositoryError("Save", "source", source.ID, fmt.Errorf("failed to marshal collector config: %w", err))
	}

	query := `
		INSERT INTO sources (
			id, name, url, collector_type, collector_config, template_id,
			schedule_mode, schedule_enabled, active,
			base_interval_seconds, override_interval_seconds, cron_expression,
			min_interval_seconds, max_interval_seconds, periodicity_interval_seconds,
			hotspot_level, hotspot_until, consecutive_failures,
			next_collection_at, calculated_interval_seconds,
			last_collected_at, last_error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			collector_type = EXCLUDED.collector_type,
			collector_config = EXCLUDED.collector_config,
			template_id = EXCLUDED.template_id,
			schedule_mode = EXCLUDED.schedule_mode,
			schedule_enabled = EXCLUDED.schedule_enabled,
			active = EXCLUDED.active,
			base_interval_seconds = EXCLUDED.base_interval_seconds,
			override_interval_seconds = EXCLUDED.override_interval_seconds,
			cron_expression = EXCLUDED.cron_expression,
			min_interval_seconds = EXCLUDED.min_interval_seconds,
			max_interval_seconds = EXCLUDED.max_interval_seconds,
			periodicity_interval_seconds = EXCLUDED.periodicity_interval_seconds,
			hotspot_level = EXCLUDED.hotspot_level,
			hotspot_until = EXCLUDED.hotspot_until,
			consecutive_failures = EXCLUDED.consecutive_failures,
			next_collection_at = EXCLUDED.next_collection_at,
			calculated_interval_seconds = EXCLUDED.calculated_interval_seconds,
			last_collected_at = EXCLUDED.last_collected_at,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		source.ID,
		source.Name,
		source.URL,
		source.CollectorType,
		configJSON,
		source.TemplateID,
		string(source.ScheduleMode),
		source.ScheduleEnabled,
		source.Active,
		int64(source.BaseInterval.Seconds()),
		int64(source.OverrideInterval.Seconds()),
		source.CronExpression,
		int64(source.MinInterval.Seconds()),
		int64(source.MaxInterval.Seconds()),
		int64(source.PeriodicityInterval.Seconds()),
		string(source.HotspotLevel),
		nullableTime(source.HotspotUntil),
		source.ConsecutiveFailures,
		source.NextCollectionAt.UTC(),
		int64(source.CalculatedInterval.Seconds()),
		nullableTime(source.LastCollectedAt),
		source.LastError,
		source.CreatedAt,
		source.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRepositoryError("Save", "source", source.ID, err)
	}

	return nil
}

func (r *SourceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return persistence.NewRepositoryError("Delete", "source", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRepositoryError("Delete", "source", id, err)
	}

	if affected == 0 {
		return persistence.NewRepositoryError("Delete", "source", id, persistence.ErrSourceNotFound)
	}

	return nil
}

func (r *SourceRepository) collectSources(rows *sql.Rows) ([]*models.Source, error) {
	sources := make([]*models.Source, 0)

	for rows.Next() {
		source, err := r.scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}

		sources = append(sources, source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}

	return sources, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SourceRepository) scanSource(row rowScanner) (*models.Source, error) {
	var (
		source             models.Source
		configJSON         []byte
		templateID         sql.NullString
		baseSeconds        int64
		overrideSeconds    int64
		minSeconds         int64
		maxSeconds         int64
		periodicitySeconds int64
		calculatedSeconds  int64
		hotspotUntil       sql.NullTime
		lastCollectedAt    sql.NullTime
	)

	err := row.Scan(
		&source.ID,
		&source.Name,
		&source.URL,
		&source.CollectorType,
		&configJSON,
		&templateID,
		&source.ScheduleMode,
		&source.ScheduleEnabled,
		&source.Active,
		&baseSeconds,
		&overrideSeconds,
		&source.CronExpression,
		&minSeconds,
		&maxSeconds,
		&periodicitySeconds,
		&source.HotspotLevel,
		&hotspotUntil,
		&source.ConsecutiveFailures,
		&source.NextCollectionAt,
		&calculatedSeconds,
		&lastCollectedAt,
		&source.LastError,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &source.CollectorConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal collector config: %w", err)
		}
	}

	if templateID.Valid {
		source.TemplateID = &templateID.String
	}

	source.BaseInterval = time.Duration(baseSeconds) * time.Second
	source.OverrideInterval = time.Duration(overrideSeconds) * time.Second
	source.MinInterval = time.Duration(minSeconds) * time.Second
	source.MaxInterval = time.Duration(maxSeconds) * time.Second
	source.PeriodicityInterval = time.Duration(periodicitySeconds) * time.Second
	source.CalculatedInterval = time.Duration(calculatedSeconds) * time.Second

	if hotspotUntil.Valid {
		t := hotspotUntil.Time
		source.HotspotUntil = &t
	}

	if lastCollectedAt.Valid {
		t := lastCollectedAt.Time
		source.LastCollectedAt = &t
	}

	return &source, nil
}

func (r *SourceRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UTC()
}
