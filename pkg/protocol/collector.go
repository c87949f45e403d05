package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/keylin/harvester/pkg/models"
)

// Discovered is one candidate content item produced by a collector, before
// dedup and ingestion.
type Discovered struct {
	ExternalID  string
	URL         string
	Title       string
	Payload     map[string]any
	PublishedAt *time.Time
}

// Collector turns a source into discovered content items. Collectors only
// discover; they never process.
type Collector interface {
	Collect(ctx context.Context, source *models.Source) ([]Discovered, error)
}

// CollectorFactory creates collector instances by type.
type CollectorFactory interface {
	Create(config map[string]any, logger *slog.Logger) (Collector, error)
	ID() string
	Name() string
	Description() string
	Schema() map[string]any
}
