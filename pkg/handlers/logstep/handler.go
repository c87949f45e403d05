// Package logstep provides a step handler that logs a templated message, for
// pipeline debugging and smoke tests.
package logstep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keylin/harvester/pkg/protocol"
	"github.com/keylin/harvester/pkg/template"
)

func NewFactory() *Factory {
	return &Factory{}
}

type Factory struct{}

func (*Factory) ID() string {
	return "log"
}

func (f *Factory) Name() string {
	return "Log"
}

func (f *Factory) Description() string {
	return "Logs a message at a specified level. Supports templating for dynamic content."
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewHandler(config), nil
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to log. Templates see .content and .upstream.",
				"examples": []string{
					"Enriched {{.content.title}} at {{now}}",
					"Extraction used tier {{.upstream.enrich.tier}}",
				},
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "error"},
			},
		},
		"required": []string{"message"},
	}
}

func (f *Factory) Kind() protocol.StepKind {
	return protocol.StepKindGeneric
}

func (f *Factory) RetryPolicy() protocol.RetryPolicy {
	return protocol.RetryPolicy{MaxRetries: 0, Delay: time.Second}
}

func (f *Factory) DefaultCritical() bool {
	return false
}

type Handler struct {
	message string
	level   string
}

func NewHandler(config map[string]any) *Handler {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	return &Handler{message: message, level: level}
}

func (h *Handler) Handle(ctx context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (map[string]any, error) {
	data := map[string]any{
		"content": map[string]any{
			"id":    stepCtx.ContentID,
			"url":   stepCtx.URL,
			"title": stepCtx.Title,
		},
		"upstream": stepCtx.Upstream,
	}

	rendered, err := template.Render(h.message, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render log message: %w", err)
	}

	message := fmt.Sprintf("%v", rendered)

	switch h.level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	return map[string]any{"message": message}, nil
}
