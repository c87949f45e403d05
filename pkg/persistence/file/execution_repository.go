package file

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
)

const executionsDir = "executions"

// executionDocument embeds the steps so one execution is one file.
type executionDocument struct {
	Execution *models.PipelineExecution `json:"execution"`
	Steps     []*models.PipelineStep    `json:"steps"`
}

// ExecutionRepository stores executions with their steps as single documents.
type ExecutionRepository struct {
	p *Persistence
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.PipelineExecution, steps []*models.PipelineStep) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()
	execution.CreatedAt = now
	execution.UpdatedAt = now

	doc := &executionDocument{Execution: execution, Steps: steps}
	if err := r.p.writeDocument(executionsDir, execution.ID, doc); err != nil {
		return persistence.NewRepositoryError("Create", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) readDoc(id string) (*executionDocument, error) {
	doc := &executionDocument{}

	err := r.p.readDocument(executionsDir, id, doc)
	if os.IsNotExist(err) {
		return nil, persistence.NewRepositoryError("ByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("ByID", "execution", id, err)
	}

	return doc, nil
}

func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.PipelineExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	doc, err := r.readDoc(id)
	if err != nil {
		return nil, err
	}

	return doc.Execution, nil
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.PipelineExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	doc, err := r.readDoc(execution.ID)
	if err != nil {
		return err
	}

	execution.UpdatedAt = time.Now().UTC()
	doc.Execution = execution

	if err := r.p.writeDocument(executionsDir, execution.ID, doc); err != nil {
		return persistence.NewRepositoryError("Save", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Steps(ctx context.Context, executionID string) ([]*models.PipelineStep, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	doc, err := r.readDoc(executionID)
	if err != nil {
		return nil, err
	}

	steps := doc.Steps
	sort.Slice(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })

	return steps, nil
}

func (r *ExecutionRepository) Step(ctx context.Context, executionID string, index int) (*models.PipelineStep, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	doc, err := r.readDoc(executionID)
	if err != nil {
		return nil, err
	}

	for _, step := range doc.Steps {
		if step.Index == index {
			return step, nil
		}
	}

	return nil, persistence.NewRepositoryError("Step", "execution", executionID, persistence.ErrStepNotFound)
}

func (r *ExecutionRepository) SaveStep(ctx context.Context, step *models.PipelineStep) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	doc, err := r.readDoc(step.ExecutionID)
	if err != nil {
		return err
	}

	replaced := false

	for i, existing := range doc.Steps {
		if existing.Index == step.Index {
			doc.Steps[i] = step
			replaced = true

			break
		}
	}

	if !replaced {
		return persistence.NewRepositoryError("SaveStep", "execution", step.ExecutionID, persistence.ErrStepNotFound)
	}

	if err := r.p.writeDocument(executionsDir, step.ExecutionID, doc); err != nil {
		return persistence.NewRepositoryError("SaveStep", "execution", step.ExecutionID, err)
	}

	return nil
}

func (r *ExecutionRepository) ActiveByContent(ctx context.Context, contentID string) (*models.PipelineExecution, error) {
	executions, err := r.ListByContent(ctx, contentID)
	if err != nil {
		return nil, err
	}

	for _, execution := range executions {
		if !execution.Terminal() {
			return execution, nil
		}
	}

	return nil, nil
}

func (r *ExecutionRepository) ListByContent(ctx context.Context, contentID string) ([]*models.PipelineExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	names, err := r.p.documentNames(executionsDir)
	if err != nil {
		return nil, persistence.NewRepositoryError("ListByContent", "execution", contentID, err)
	}

	executions := make([]*models.PipelineExecution, 0)

	for _, name := range names {
		doc, err := r.readDoc(name)
		if err != nil {
			return nil, err
		}

		if doc.Execution.ContentID == contentID {
			executions = append(executions, doc.Execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	return executions, nil
}
