package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/keylin/harvester/pkg/llm"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/protocol"
)

const defaultPrompt = "Summarize the following content in 2-3 sentences and list its main topics. " +
	"Respond with a JSON object: {\"summary\": string, \"topics\": [string], \"sentiment\": \"positive\"|\"neutral\"|\"negative\"}."

const defaultMaxInputChars = 24000

type Handler struct {
	client        *llm.Client
	persistence   persistence.Persistence
	prompt        string
	maxInputChars int
}

func NewHandler(client *llm.Client, p persistence.Persistence, config map[string]any) *Handler {
	prompt, _ := config["prompt"].(string)
	if prompt == "" {
		prompt = defaultPrompt
	}

	maxInputChars := defaultMaxInputChars
	if raw, ok := config["max_input_chars"].(float64); ok && raw > 0 {
		maxInputChars = int(raw)
	}

	return &Handler{
		client:        client,
		persistence:   p,
		prompt:        prompt,
		maxInputChars: maxInputChars,
	}
}

func (h *Handler) Handle(ctx context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "analyze_handler")

	text, err := h.inputText(ctx, stepCtx)
	if err != nil {
		return nil, err
	}

	if len(text) > h.maxInputChars {
		text = text[:h.maxInputChars]
	}

	completion, err := h.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: h.prompt},
		{Role: "user", Content: "Title: " + stepCtx.Title + "\n\n" + text},
	})
	if err != nil {
		return nil, fmt.Errorf("analysis completion failed: %w", err)
	}

	analysis := parseAnalysis(completion)

	item, err := h.persistence.ContentItems().ByID(ctx, stepCtx.ContentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load content item: %w", err)
	}

	item.AnalysisResult = analysis
	if err := h.persistence.ContentItems().Save(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to save analysis result: %w", err)
	}

	logger.InfoContext(ctx, "Content analyzed", "content_id", stepCtx.ContentID)

	return analysis, nil
}

// inputText prefers the enrichment step's output from this execution, falling
// back to the persisted extracted-text layer.
func (h *Handler) inputText(ctx context.Context, stepCtx protocol.StepContext) (string, error) {
	if upstream, ok := stepCtx.Upstream["enrich"]; ok {
		if text, ok := upstream["text"].(string); ok && text != "" {
			return text, nil
		}
	}

	item, err := h.persistence.ContentItems().ByID(ctx, stepCtx.ContentID)
	if err != nil {
		return "", fmt.Errorf("failed to load content item: %w", err)
	}

	if item.ExtractedText == "" {
		return "", errors.New("no text available to analyze")
	}

	return item.ExtractedText, nil
}

// parseAnalysis decodes the model's JSON answer, tolerating code fences.
// Undecodable output is kept verbatim under "summary" rather than discarded.
func parseAnalysis(completion string) map[string]any {
	cleaned := strings.TrimSpace(completion)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var analysis map[string]any
	if err := json.Unmarshal([]byte(cleaned), &analysis); err == nil && analysis != nil {
		return analysis
	}

	return map[string]any{"summary": completion}
}
