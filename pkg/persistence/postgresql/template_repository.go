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

// TemplateRepository handles pipeline template database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

func (r *TemplateRepository) All(ctx context.Context) ([]*models.PipelineTemplate, error) {
	query := `
		SELECT id, name, description, steps, created_at, updated_at
		FROM pipeline_templates
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistence.NewRepositoryError("All", "template", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	templates := make([]*models.PipelineTemplate, 0)

	for rows.Next() {
		template, err := r.scanTemplate(rows)
		if err != nil {
			return nil, persistence.NewRepositoryError("All", "template", "", err)
		}

		templates = append(templates, template)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRepositoryError("All", "template", "", err)
	}

	return templates, nil
}

func (r *TemplateRepository) ByID(ctx context.Context, id string) (*models.PipelineTemplate, error) {
	query := `
		SELECT id, name, description, steps, created_at, updated_at
		FROM pipeline_templates
		WHERE id = $1
	`

	template, err := r.scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRepositoryError("ByID", "template", id, persistence.ErrTemplateNotFound)
		}

		return nil, persistence.NewRepositoryError("ByID", "template", id, err)
	}

	return template, nil
}

func (r *TemplateRepository) Save(ctx context.Context, template *models.PipelineTemplate) error {
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	stepsJSON, err := json.Marshal(template.Steps)
	if err != nil {
		return persistence.NewRepositoryError("Save", "template", template.ID, fmt.Errorf("failed to marshal steps: %w", err))
	}

	query := `
		INSERT INTO pipeline_templates (id, name, description, steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			steps = EXCLUDED.steps,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		template.ID,
		template.Name,
		template.Description,
		stepsJSON,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRepositoryError("Save", "template", template.ID, err)
	}

	return nil
}

func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pipeline_templates WHERE id = $1`, id)
	if err != nil {
		return persistence.NewRepositoryError("Delete", "template", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRepositoryError("Delete", "template", id, err)
	}

	if affected == 0 {
		return persistence.NewRepositoryError("Delete", "template", id, persistence.ErrTemplateNotFound)
	}

	return nil
}

func (r *TemplateRepository) scanTemplate(row rowScanner) (*models.PipelineTemplate, error) {
	var (
		template  models.PipelineTemplate
		stepsJSON []byte
	)

	err := row.Scan(
		&template.ID,
		&template.Name,
		&template.Description,
		&stepsJSON,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &template.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}

	return &template, nil
}
