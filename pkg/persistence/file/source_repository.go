package file

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
)

const sourcesDir = "sources"

// SourceRepository stores sources as individual JSON documents.
type SourceRepository struct {
	p *Persistence
}

func (r *SourceRepository) All(ctx context.Context) ([]*models.Source, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	names, err := r.p.documentNames(sourcesDir)
	if err != nil {
		return nil, persistence.NewRepositoryError("All", "source", "", err)
	}

	sources := make([]*models.Source, 0, len(names))

	for _, name := range names {
		source := &models.Source{}
		if err := r.p.readDocument(sourcesDir, name, source); err != nil {
			return nil, persistence.NewRepositoryError("All", "source", name, err)
		}

		sources = append(sources, source)
	}

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].CreatedAt.Before(sources[j].CreatedAt)
	})

	return sources, nil
}

func (r *SourceRepository) Due(ctx context.Context, now time.Time) ([]*models.Source, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Source, 0)

	for _, source := range all {
		if source.Due(now) {
			due = append(due, source)
		}
	}

	return due, nil
}

func (r *SourceRepository) ByID(ctx context.Context, id string) (*models.Source, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	source := &models.Source{}

	err := r.p.readDocument(sourcesDir, id, source)
	if os.IsNotExist(err) {
		return nil, persistence.NewRepositoryError("ByID", "source", id, persistence.ErrSourceNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("ByID", "source", id, err)
	}

	return source, nil
}

func (r *SourceRepository) Save(ctx context.Context, source *models.Source) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}

	source.UpdatedAt = now

	if err := r.p.writeDocument(sourcesDir, source.ID, source); err != nil {
		return persistence.NewRepositoryError("Save", "source", source.ID, err)
	}

	return nil
}

func (r *SourceRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	err := r.p.deleteDocument(sourcesDir, id)
	if os.IsNotExist(err) {
		return persistence.NewRepositoryError("Delete", "source", id, persistence.ErrSourceNotFound)
	}

	if err != nil {
		return persistence.NewRepositoryError("Delete", "source", id, err)
	}

	return nil
}
