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

// ExecutionRepository handles pipeline execution and step database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , content_id
  , template_id
  , status
  , current_step
  , total_steps
  , trigger_reason
  , error_message
  , started_at
  , finished_at
  , created_at
  , updated_at
`

const stepColumns = `
	id
  , execution_id
  , idx
  , step_type
  , critical
  , config
  , status
  , retry_count
  , input_data
  , output_data
  , error_message
  , started_at
  , finished_at
`

// Create stores the execution together with its materialized steps in one
// transaction, so a half-created execution can never be observed.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.PipelineExecution, steps []*models.PipelineStep) error {
	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewRepositoryError("Create", "execution", execution.ID, err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = r.saveExecutionTx(ctx, tx, execution)
	if err != nil {
		return persistence.NewRepositoryError("Create", "execution", execution.ID, err)
	}

	for _, step := range steps {
		err = r.saveStepTx(ctx, tx, step)
		if err != nil {
			return persistence.NewRepositoryError("Create", "execution", execution.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewRepositoryError("Create", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.PipelineExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM pipeline_executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRepositoryError("ByID", "execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewRepositoryError("ByID", "execution", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.PipelineExecution) error {
	execution.UpdatedAt = time.Now().UTC()

	if err := r.saveExecutionTx(ctx, r.db, execution); err != nil {
		return persistence.NewRepositoryError("Save", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Steps(ctx context.Context, executionID string) ([]*models.PipelineStep, error) {
	query := `SELECT ` + stepColumns + ` FROM pipeline_steps WHERE execution_id = $1 ORDER BY idx`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, persistence.NewRepositoryError("Steps", "execution", executionID, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	steps := make([]*models.PipelineStep, 0)

	for rows.Next() {
		step, err := r.scanStep(rows)
		if err != nil {
			return nil, persistence.NewRepositoryError("Steps", "execution", executionID, err)
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRepositoryError("Steps", "execution", executionID, err)
	}

	return steps, nil
}

func (r *ExecutionRepository) Step(ctx context.Context, executionID string, index int) (*models.PipelineStep, error) {
	query := `SELECT ` + stepColumns + ` FROM pipeline_steps WHERE execution_id = $1 AND idx = $2`

	step, err := r.scanStep(r.db.QueryRowContext(ctx, query, executionID, index))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRepositoryError("Step", "execution", executionID, persistence.ErrStepNotFound)
		}

		return nil, persistence.NewRepositoryError("Step", "execution", executionID, err)
	}

	return step, nil
}

func (r *ExecutionRepository) SaveStep(ctx context.Context, step *models.PipelineStep) error {
	if err := r.saveStepTx(ctx, r.db, step); err != nil {
		return persistence.NewRepositoryError("SaveStep", "step", step.ID, err)
	}

	return nil
}

// ActiveByContent returns the non-terminal execution for a content item, or
// nil when none exists.
func (r *ExecutionRepository) ActiveByContent(ctx context.Context, contentID string) (*models.PipelineExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM pipeline_executions
		WHERE content_id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY created_at DESC
		LIMIT 1
	`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, contentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewRepositoryError("ActiveByContent", "execution", contentID, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByContent(ctx context.Context, contentID string) ([]*models.PipelineExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM pipeline_executions
		WHERE content_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, contentID)
	if err != nil {
		return nil, persistence.NewRepositoryError("ListByContent", "execution", contentID, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.PipelineExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, persistence.NewRepositoryError("ListByContent", "execution", contentID, err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRepositoryError("ListByContent", "execution", contentID, err)
	}

	return executions, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *ExecutionRepository) saveExecutionTx(ctx context.Context, db execer, execution *models.PipelineExecution) error {
	query := `
		INSERT INTO pipeline_executions (
			id, content_id, template_id, status, current_step, total_steps,
			trigger_reason, error_message, started_at, finished_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step = EXCLUDED.current_step,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		execution.ID,
		execution.ContentID,
		execution.TemplateID,
		string(execution.Status),
		execution.CurrentStep,
		execution.TotalSteps,
		execution.TriggerReason,
		execution.ErrorMessage,
		nullableTime(execution.StartedAt),
		nullableTime(execution.FinishedAt),
		execution.CreatedAt,
		execution.UpdatedAt,
	)

	return err
}

func (r *ExecutionRepository) saveStepTx(ctx context.Context, db execer, step *models.PipelineStep) error {
	configJSON, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal step config: %w", err)
	}

	var inputJSON, outputJSON []byte

	if step.InputData != nil {
		inputJSON, err = json.Marshal(step.InputData)
		if err != nil {
			return fmt.Errorf("failed to marshal step input: %w", err)
		}
	}

	if step.OutputData != nil {
		outputJSON, err = json.Marshal(step.OutputData)
		if err != nil {
			return fmt.Errorf("failed to marshal step output: %w", err)
		}
	}

	query := `
		INSERT INTO pipeline_steps (
			id, execution_id, idx, step_type, critical, config, status,
			retry_count, input_data, output_data, error_message,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (execution_id, idx) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			input_data = EXCLUDED.input_data,
			output_data = EXCLUDED.output_data,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`

	_, err = db.ExecContext(ctx, query,
		step.ID,
		step.ExecutionID,
		step.Index,
		step.StepType,
		step.Critical,
		configJSON,
		string(step.Status),
		step.RetryCount,
		inputJSON,
		outputJSON,
		step.ErrorMessage,
		nullableTime(step.StartedAt),
		nullableTime(step.FinishedAt),
	)

	return err
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.PipelineExecution, error) {
	var (
		execution  models.PipelineExecution
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.ContentID,
		&execution.TemplateID,
		&execution.Status,
		&execution.CurrentStep,
		&execution.TotalSteps,
		&execution.TriggerReason,
		&execution.ErrorMessage,
		&startedAt,
		&finishedAt,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		t := startedAt.Time
		execution.StartedAt = &t
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		execution.FinishedAt = &t
	}

	return &execution, nil
}

func (r *ExecutionRepository) scanStep(row rowScanner) (*models.PipelineStep, error) {
	var (
		step       models.PipelineStep
		configJSON []byte
		inputJSON  []byte
		outputJSON []byte
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	err := row.Scan(
		&step.ID,
		&step.ExecutionID,
		&step.Index,
		&step.StepType,
		&step.Critical,
		&configJSON,
		&step.Status,
		&step.RetryCount,
		&inputJSON,
		&outputJSON,
		&step.ErrorMessage,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &step.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step config: %w", err)
		}
	}

	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &step.InputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step input: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &step.OutputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
		}
	}

	if startedAt.Valid {
		t := startedAt.Time
		step.StartedAt = &t
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		step.FinishedAt = &t
	}

	return &step, nil
}
