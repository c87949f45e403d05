package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/keylin/harvester/pkg/protocol"
	"github.com/keylin/harvester/pkg/template"
)

type Handler struct {
	fields map[string]string
}

func NewHandler(config map[string]any) (*Handler, error) {
	rawFields, ok := config["fields"].(map[string]any)
	if !ok || len(rawFields) == 0 {
		return nil, errors.New("transform step requires a non-empty fields mapping")
	}

	fields := make(map[string]string, len(rawFields))

	for key, value := range rawFields {
		expression, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %q: expression must be a string", key)
		}

		fields[key] = expression
	}

	return &Handler{fields: fields}, nil
}

func (h *Handler) Handle(ctx context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "transform_handler")

	data := map[string]any{
		"content": map[string]any{
			"id":     stepCtx.ContentID,
			"url":    stepCtx.URL,
			"title":  stepCtx.Title,
			"source": stepCtx.SourceID,
		},
		"upstream": stepCtx.Upstream,
	}

	output := make(map[string]any, len(h.fields))

	for key, expression := range h.fields {
		value, err := template.Render(expression, data)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}

		output[key] = value
	}

	logger.DebugContext(ctx, "Transform produced output", "fields", len(output))

	return output, nil
}
