package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keylin/harvester/pkg/events"
	"github.com/keylin/harvester/pkg/mocks"
	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/orchestrator"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/persistence/file"
	"github.com/keylin/harvester/pkg/registry"
	"github.com/keylin/harvester/pkg/services"
	"github.com/keylin/harvester/pkg/web"
)

type testEnv struct {
	app         *fiber.App
	persistence persistence.Persistence
	bus         *mocks.RecordingEventBus
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.Default()
	store := file.NewPersistence(t.TempDir())
	bus := mocks.NewRecordingEventBus()

	reg := registry.NewRegistry(logger)
	reg.RegisterHandler(&mocks.StepHandlerFactory{TypeID: "enrich", Critical: true})

	orch := orchestrator.NewOrchestrator(logger, store, reg, bus)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(
		services.NewSource(logger, store, validate),
		services.NewTemplate(logger, store, reg),
		services.NewContent(logger, store, orch),
		services.NewExecution(logger, store, bus),
		store,
		validate,
	)

	app := fiber.New()

	s := app.Group("/sources")
	s.Get("/", handlers.ListSources)
	s.Post("/", handlers.CreateSource)
	s.Get("/:id", handlers.GetSource)
	s.Put("/:id", handlers.UpdateSource)
	s.Delete("/:id", handlers.DeleteSource)

	tpl := app.Group("/templates")
	tpl.Post("/", handlers.CreateTemplate)
	tpl.Get("/:id", handlers.GetTemplate)

	ct := app.Group("/content")
	ct.Get("/:id", handlers.GetContent)
	ct.Post("/:id/retrigger", handlers.RetriggerContent)

	ex := app.Group("/executions")
	ex.Get("/:id", handlers.GetExecution)
	ex.Post("/:id/cancel", handlers.CancelExecution)
	ex.Post("/:id/pause", handlers.PauseExecution)
	ex.Post("/:id/resume", handlers.ResumeExecution)

	return &testEnv{app: app, persistence: store, bus: bus}
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")

	return req
}

func TestAPIHandlers_CreateSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful creation",
			requestBody: web.SourceRequest{
				Name:          "Example Feed",
				URL:           "https://example.com/feed",
				CollectorType: "feed",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "missing URL",
			requestBody: web.SourceRequest{
				Name:          "Example Feed",
				CollectorType: "feed",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "name too short",
			requestBody: web.SourceRequest{
				Name:          "ab",
				URL:           "https://example.com/feed",
				CollectorType: "feed",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestApp(t)

			var req *http.Request
			if str, ok := tt.requestBody.(string); ok {
				req = httptest.NewRequest(http.MethodPost, "/sources", bytes.NewBufferString(str))
				req.Header.Set("Content-Type", "application/json")
			} else {
				req = jsonRequest(t, http.MethodPost, "/sources", tt.requestBody)
			}

			resp, err := env.app.Test(req)
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if resp.StatusCode == http.StatusCreated {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)

				var source models.Source
				require.NoError(t, json.Unmarshal(body, &source))
				assert.NotEmpty(t, source.ID)
				assert.Equal(t, models.ScheduleModeAuto, source.ScheduleMode)
				assert.True(t, source.Active)
				assert.False(t, source.NextCollectionAt.IsZero())
			}
		})
	}
}

func TestAPIHandlers_GetSource_NotFound(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/sources/missing", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_CreateTemplate_UnknownStepType(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	req := jsonRequest(t, http.MethodPost, "/templates", web.TemplateRequest{
		Name:  "Broken Template",
		Steps: []web.TemplateStepRequest{{StepType: "nonexistent"}},
	})

	resp, err := env.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_RetriggerContent_Conflict(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	ctx := context.Background()

	template := &models.PipelineTemplate{
		ID:    "tpl",
		Name:  "Enrich Only",
		Steps: []*models.TemplateStep{{StepType: "enrich"}},
	}
	require.NoError(t, env.persistence.Templates().Save(ctx, template))

	item := &models.ContentItem{
		ID:         "item",
		SourceID:   "src",
		ExternalID: "ext",
		Status:     models.ContentStatusPending,
	}
	_, _, err := env.persistence.ContentItems().Ingest(ctx, item)
	require.NoError(t, err)

	req := jsonRequest(t, http.MethodPost, "/content/item/retrigger", web.RetriggerRequest{TemplateID: "tpl"})
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	// The first execution is still active, so a second trigger conflicts.
	req = jsonRequest(t, http.MethodPost, "/content/item/retrigger", web.RetriggerRequest{TemplateID: "tpl"})
	resp, err = env.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func seedExecution(t *testing.T, env *testEnv, status models.ExecutionStatus) *models.PipelineExecution {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()

	item := &models.ContentItem{
		ID:          "exec-item",
		SourceID:    "src",
		ExternalID:  "exec-ext",
		Status:      models.ContentStatusProcessing,
		CollectedAt: now,
	}
	_, _, err := env.persistence.ContentItems().Ingest(ctx, item)
	require.NoError(t, err)

	execution := &models.PipelineExecution{
		ID:         "exec",
		ContentID:  item.ID,
		TemplateID: "tpl",
		Status:     status,
		TotalSteps: 2,
		CreatedAt:  now,
	}
	steps := []*models.PipelineStep{
		{ID: "s0", ExecutionID: execution.ID, Index: 0, StepType: "enrich", Status: models.StepStatusPending},
		{ID: "s1", ExecutionID: execution.ID, Index: 1, StepType: "enrich", Status: models.StepStatusPending},
	}
	require.NoError(t, env.persistence.Executions().Create(ctx, execution, steps))

	return execution
}

func TestAPIHandlers_CancelExecution(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	seedExecution(t, env, models.ExecutionStatusRunning)

	req := jsonRequest(t, http.MethodPost, "/executions/exec/cancel", web.CancelRequest{Reason: "operator request"})
	resp, err := env.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var execution models.PipelineExecution
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.NotNil(t, execution.FinishedAt)

	// Content returns to pending for a later re-trigger.
	item, err := env.persistence.ContentItems().ByID(context.Background(), "exec-item")
	require.NoError(t, err)
	assert.Equal(t, models.ContentStatusPending, item.Status)

	published := env.bus.PublishedOn(events.StepLane)
	require.Len(t, published, 1)
	assert.Equal(t, events.ExecutionCancelledEvent, published[0].Event.GetType())
}

func TestAPIHandlers_CancelExecution_Terminal(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	seedExecution(t, env, models.ExecutionStatusCompleted)

	resp, err := env.app.Test(jsonRequest(t, http.MethodPost, "/executions/exec/cancel", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_PauseResumeExecution(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	execution := seedExecution(t, env, models.ExecutionStatusRunning)
	execution.CurrentStep = 1
	require.NoError(t, env.persistence.Executions().Save(context.Background(), execution))

	resp, err := env.app.Test(jsonRequest(t, http.MethodPost, "/executions/exec/pause", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = env.app.Test(jsonRequest(t, http.MethodPost, "/executions/exec/resume", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Resume replays the current step index.
	published := env.bus.PublishedOn(events.StepLane)
	require.Len(t, published, 1)

	step, ok := published[0].Event.(events.StepAvailable)
	require.True(t, ok)
	assert.Equal(t, 1, step.StepIndex)
}

func TestAPIHandlers_ResumeExecution_NotPaused(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	seedExecution(t, env, models.ExecutionStatusRunning)

	resp, err := env.app.Test(jsonRequest(t, http.MethodPost, "/executions/exec/resume", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
