package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/keylin/harvester/pkg/escalator"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/protocol"
)

type Handler struct {
	escalator   *escalator.Escalator
	persistence persistence.Persistence
	minTier     protocol.Tier
}

func NewHandler(esc *escalator.Escalator, p persistence.Persistence, config map[string]any) (*Handler, error) {
	minTierValue, _ := config["min_tier"].(string)

	minTier, err := protocol.ParseTier(minTierValue)
	if err != nil {
		return nil, err
	}

	return &Handler{escalator: esc, persistence: p, minTier: minTier}, nil
}

// Handle extracts the item's text and persists it to the extracted-text layer
// through its own save, independent of the executor's step bookkeeping.
func (h *Handler) Handle(ctx context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "enrich_handler")

	if stepCtx.URL == "" {
		return nil, errors.New("content item has no url to extract")
	}

	result, err := h.escalator.Extract(ctx, stepCtx.URL, h.minTier)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	item, err := h.persistence.ContentItems().ByID(ctx, stepCtx.ContentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load content item: %w", err)
	}

	item.ExtractedText = result.Text
	if err := h.persistence.ContentItems().Save(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to save extracted text: %w", err)
	}

	logger.InfoContext(ctx, "Content enriched",
		"content_id", stepCtx.ContentID,
		"tier", result.Tier.String(),
		"attempts", result.Attempts,
		"length", len(result.Text))

	return map[string]any{
		"text":     result.Text,
		"tier":     result.Tier.String(),
		"attempts": result.Attempts,
		"length":   len(result.Text),
	}, nil
}
