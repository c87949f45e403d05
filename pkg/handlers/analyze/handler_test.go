package analyze

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keylin/harvester/pkg/llm"
	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence/file"
	"github.com/keylin/harvester/pkg/protocol"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)

		response := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
}

func TestHandlerStoresAnalysisResult(t *testing.T) {
	t.Parallel()

	server := chatServer(t, `{"summary": "A short summary.", "topics": ["go", "pipelines"], "sentiment": "neutral"}`)
	defer server.Close()

	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	item, _, err := p.ContentItems().Ingest(ctx, &models.ContentItem{
		ID: "item", SourceID: "src", ExternalID: "ext",
		Title: "Post", Status: models.ContentStatusProcessing,
	})
	require.NoError(t, err)

	client := llm.NewClient(server.URL, "test-key", "")
	handler := NewHandler(client, p, map[string]any{})

	output, err := handler.Handle(ctx, protocol.StepContext{
		ContentID: item.ID,
		Title:     item.Title,
		Upstream: map[string]map[string]any{
			"enrich": {"text": "The extracted article text goes here."},
		},
	}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "A short summary.", output["summary"])

	stored, err := p.ContentItems().ByID(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AnalysisResult)
	assert.Equal(t, "A short summary.", stored.AnalysisResult["summary"])
	assert.Equal(t, "neutral", stored.AnalysisResult["sentiment"])
}

func TestHandlerFallsBackToPersistedText(t *testing.T) {
	t.Parallel()

	server := chatServer(t, `{"summary": "From stored text."}`)
	defer server.Close()

	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	item, _, err := p.ContentItems().Ingest(ctx, &models.ContentItem{
		ID: "item", SourceID: "src", ExternalID: "ext",
		ExtractedText: "Previously extracted text.",
		Status:        models.ContentStatusProcessing,
	})
	require.NoError(t, err)

	handler := NewHandler(llm.NewClient(server.URL, "", ""), p, nil)

	output, err := handler.Handle(ctx, protocol.StepContext{ContentID: item.ID}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "From stored text.", output["summary"])
}

func TestHandlerFailsWithoutText(t *testing.T) {
	t.Parallel()

	server := chatServer(t, `{}`)
	defer server.Close()

	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	item, _, err := p.ContentItems().Ingest(ctx, &models.ContentItem{
		ID: "item", SourceID: "src", ExternalID: "ext",
		Status: models.ContentStatusProcessing,
	})
	require.NoError(t, err)

	handler := NewHandler(llm.NewClient(server.URL, "", ""), p, nil)

	_, err = handler.Handle(ctx, protocol.StepContext{ContentID: item.ID}, slog.Default())
	assert.Error(t, err)
}

func TestParseAnalysisToleratesCodeFences(t *testing.T) {
	t.Parallel()

	analysis := parseAnalysis("```json\n{\"summary\": \"fenced\"}\n```")
	assert.Equal(t, "fenced", analysis["summary"])

	// Non-JSON output survives as a raw summary.
	analysis = parseAnalysis("just prose")
	assert.Equal(t, "just prose", analysis["summary"])
}
