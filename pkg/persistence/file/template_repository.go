package file

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
)

const templatesDir = "templates"

// TemplateRepository stores pipeline templates as JSON documents.
type TemplateRepository struct {
	p *Persistence
}

func (r *TemplateRepository) All(ctx context.Context) ([]*models.PipelineTemplate, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	names, err := r.p.documentNames(templatesDir)
	if err != nil {
		return nil, persistence.NewRepositoryError("All", "template", "", err)
	}

	templates := make([]*models.PipelineTemplate, 0, len(names))

	for _, name := range names {
		template := &models.PipelineTemplate{}
		if err := r.p.readDocument(templatesDir, name, template); err != nil {
			return nil, persistence.NewRepositoryError("All", "template", name, err)
		}

		templates = append(templates, template)
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].CreatedAt.Before(templates[j].CreatedAt)
	})

	return templates, nil
}

func (r *TemplateRepository) ByID(ctx context.Context, id string) (*models.PipelineTemplate, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	template := &models.PipelineTemplate{}

	err := r.p.readDocument(templatesDir, id, template)
	if os.IsNotExist(err) {
		return nil, persistence.NewRepositoryError("ByID", "template", id, persistence.ErrTemplateNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("ByID", "template", id, err)
	}

	return template, nil
}

func (r *TemplateRepository) Save(ctx context.Context, template *models.PipelineTemplate) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	if err := r.p.writeDocument(templatesDir, template.ID, template); err != nil {
		return persistence.NewRepositoryError("Save", "template", template.ID, err)
	}

	return nil
}

func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	err := r.p.deleteDocument(templatesDir, id)
	if os.IsNotExist(err) {
		return persistence.NewRepositoryError("Delete", "template", id, persistence.ErrTemplateNotFound)
	}

	if err != nil {
		return persistence.NewRepositoryError("Delete", "template", id, err)
	}

	return nil
}
