package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
	"time"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
)

const (
	contentDir      = "content"
	contentIndexDir = "content/index"
)

// ContentRepository stores content items by ID, with a digest index over
// (source_id, external_id) so ingestion stays idempotent.
type ContentRepository struct {
	p *Persistence
}

type contentIndexEntry struct {
	ContentID string `json:"content_id"`
}

func dedupKey(sourceID, externalID string) string {
	sum := sha256.Sum256([]byte(sourceID + "\x00" + externalID))

	return hex.EncodeToString(sum[:16])
}

func (r *ContentRepository) Ingest(ctx context.Context, item *models.ContentItem) (*models.ContentItem, bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := dedupKey(item.SourceID, item.ExternalID)

	entry := &contentIndexEntry{}

	err := r.p.readDocument(contentIndexDir, key, entry)
	if err == nil {
		existing := &models.ContentItem{}
		if err := r.p.readDocument(contentDir, entry.ContentID, existing); err != nil {
			return nil, false, persistence.NewRepositoryError("Ingest", "content", entry.ContentID, err)
		}

		return existing, false, nil
	}

	if !os.IsNotExist(err) {
		return nil, false, persistence.NewRepositoryError("Ingest", "content", item.ID, err)
	}

	now := time.Now().UTC()
	if item.CollectedAt.IsZero() {
		item.CollectedAt = now
	}

	item.UpdatedAt = now

	if err := r.p.writeDocument(contentDir, item.ID, item); err != nil {
		return nil, false, persistence.NewRepositoryError("Ingest", "content", item.ID, err)
	}

	if err := r.p.writeDocument(contentIndexDir, key, &contentIndexEntry{ContentID: item.ID}); err != nil {
		return nil, false, persistence.NewRepositoryError("Ingest", "content", item.ID, err)
	}

	return item, true, nil
}

func (r *ContentRepository) ByID(ctx context.Context, id string) (*models.ContentItem, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	item := &models.ContentItem{}

	err := r.p.readDocument(contentDir, id, item)
	if os.IsNotExist(err) {
		return nil, persistence.NewRepositoryError("ByID", "content", id, persistence.ErrContentNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("ByID", "content", id, err)
	}

	return item, nil
}

func (r *ContentRepository) Save(ctx context.Context, item *models.ContentItem) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	item.UpdatedAt = time.Now().UTC()

	if err := r.p.writeDocument(contentDir, item.ID, item); err != nil {
		return persistence.NewRepositoryError("Save", "content", item.ID, err)
	}

	return nil
}

func (r *ContentRepository) List(ctx context.Context, opts persistence.ListContentOptions) ([]*models.ContentItem, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	names, err := r.p.documentNames(contentDir)
	if err != nil {
		return nil, persistence.NewRepositoryError("List", "content", "", err)
	}

	items := make([]*models.ContentItem, 0, len(names))

	for _, name := range names {
		item := &models.ContentItem{}
		if err := r.p.readDocument(contentDir, name, item); err != nil {
			return nil, persistence.NewRepositoryError("List", "content", name, err)
		}

		if opts.SourceID != "" && item.SourceID != opts.SourceID {
			continue
		}

		if opts.Status != nil && item.Status != *opts.Status {
			continue
		}

		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CollectedAt.After(items[j].CollectedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []*models.ContentItem{}, nil
		}

		items = items[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}

	return items, nil
}
