package executor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keylin/harvester/pkg/events"
	"github.com/keylin/harvester/pkg/mocks"
	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence/file"
	"github.com/keylin/harvester/pkg/protocol"
	"github.com/keylin/harvester/pkg/registry"
)

type fixture struct {
	executor    *Executor
	persistence *file.Persistence
	registry    *registry.Registry
	bus         *mocks.RecordingEventBus
}

func newFixture(t *testing.T, factories ...*mocks.StepHandlerFactory) *fixture {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	bus := mocks.NewRecordingEventBus()
	reg := registry.NewRegistry(slog.Default())

	for _, factory := range factories {
		reg.RegisterHandler(factory)
	}

	return &fixture{
		executor:    NewExecutor(slog.Default(), p, reg, bus),
		persistence: p,
		registry:    reg,
		bus:         bus,
	}
}

type stepSpec struct {
	stepType string
	critical bool
}

func (f *fixture) seed(t *testing.T, specs ...stepSpec) *models.PipelineExecution {
	t.Helper()

	ctx := context.Background()

	item := &models.ContentItem{
		ID: "item", SourceID: "src", ExternalID: "ext-1",
		URL: "https://example.com/post", Title: "Post",
		Status: models.ContentStatusProcessing,
	}
	_, _, err := f.persistence.ContentItems().Ingest(ctx, item)
	require.NoError(t, err)

	execution := &models.PipelineExecution{
		ID:         uuid.NewString(),
		ContentID:  item.ID,
		TemplateID: "tpl",
		Status:     models.ExecutionStatusPending,
		TotalSteps: len(specs),
	}

	steps := make([]*models.PipelineStep, 0, len(specs))
	for index, spec := range specs {
		steps = append(steps, &models.PipelineStep{
			ID:          uuid.NewString(),
			ExecutionID: execution.ID,
			Index:       index,
			StepType:    spec.stepType,
			Critical:    spec.critical,
			Status:      models.StepStatusPending,
		})
	}

	require.NoError(t, f.persistence.Executions().Create(ctx, execution, steps))

	return execution
}

// runToCompletion delivers step events the way the worker would, starting at
// index 0 and following every StepAvailable the executor publishes.
func (f *fixture) runToCompletion(t *testing.T, executionID string) {
	t.Helper()

	ctx := context.Background()
	pending := []events.StepAvailable{{ExecutionID: executionID, StepIndex: 0}}

	for iterations := 0; len(pending) > 0; iterations++ {
		require.Less(t, iterations, 100, "pipeline did not terminate")

		job := pending[0]
		pending = pending[1:]

		f.bus.Reset()
		require.NoError(t, f.executor.RunStep(ctx, job.ExecutionID, job.StepIndex))

		for _, published := range f.bus.Published() {
			if next, ok := published.Event.(events.StepAvailable); ok {
				pending = append(pending, next)
			}
		}
	}
}

func TestRunStepCompletesPipeline(t *testing.T) {
	t.Parallel()

	enrich := &mocks.StepHandlerFactory{
		TypeID: "enrich", StepKind: protocol.StepKindEnrichment,
		Handler: func(context.Context, protocol.StepContext, *slog.Logger) (map[string]any, error) {
			return map[string]any{"text": "extracted"}, nil
		},
	}
	analyze := &mocks.StepHandlerFactory{TypeID: "analyze", StepKind: protocol.StepKindAnalysis}

	f := newFixture(t, enrich, analyze)
	execution := f.seed(t, stepSpec{"enrich", true}, stepSpec{"analyze", false})
	ctx := context.Background()

	f.runToCompletion(t, execution.ID)

	stored, err := f.persistence.Executions().ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, stored.TotalSteps, stored.CurrentStep)
	require.NotNil(t, stored.FinishedAt)

	steps, err := f.persistence.Executions().Steps(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, map[string]any{"text": "extracted"}, steps[0].OutputData)
	assert.Equal(t, models.StepStatusCompleted, steps[1].Status)

	// An analysis step completed, so the item lands on analyzed.
	item, err := f.persistence.ContentItems().ByID(ctx, execution.ContentID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentStatusAnalyzed, item.Status)
}

func TestRunStepWithoutAnalysisEndsReady(t *testing.T) {
	t.Parallel()

	enrich := &mocks.StepHandlerFactory{TypeID: "enrich", StepKind: protocol.StepKindEnrichment}

	f := newFixture(t, enrich)
	execution := f.seed(t, stepSpec{"enrich", true})

	f.runToCompletion(t, execution.ID)

	item, err := f.persistence.ContentItems().ByID(context.Background(), execution.ContentID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentStatusReady, item.Status)
}

func TestRunStepDuplicateDeliveryIsNoop(t *testing.T) {
	t.Parallel()

	noop := &mocks.StepHandlerFactory{TypeID: "noop"}

	f := newFixture(t, noop)
	execution := f.seed(t, stepSpec{"noop", true}, stepSpec{"noop", false})
	ctx := context.Background()

	require.NoError(t, f.executor.RunStep(ctx, execution.ID, 0))
	require.Equal(t, 1, noop.CallCount)
	firstPublishes := len(f.bus.Published())

	// Same (execution_id, step_index) delivered again: no re-invocation,
	// no duplicate enqueue.
	require.NoError(t, f.executor.RunStep(ctx, execution.ID, 0))
	assert.Equal(t, 1, noop.CallCount)
	assert.Len(t, f.bus.Published(), firstPublishes)
}

func TestRunStepRetriesWithDelay(t *testing.T) {
	t.Parallel()

	flaky := &mocks.StepHandlerFactory{
		TypeID: "flaky",
		Retry:  &protocol.RetryPolicy{MaxRetries: 3, Delay: 10 * time.Second},
		Handler: func(context.Context, protocol.StepContext, *slog.Logger) (map[string]any, error) {
			return nil, errors.New("upstream timed out")
		},
	}

	f := newFixture(t, flaky)
	execution := f.seed(t, stepSpec{"flaky", true})
	ctx := context.Background()

	require.NoError(t, f.executor.RunStep(ctx, execution.ID, 0))

	step, err := f.persistence.Executions().Step(ctx, execution.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRunning, step.Status)
	assert.Equal(t, 1, step.RetryCount)
	assert.Equal(t, "upstream timed out", step.ErrorMessage)

	published := f.bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, 10*time.Second, published[0].Delay)

	retry, ok := published[0].Event.(events.StepAvailable)
	require.True(t, ok)
	assert.Zero(t, retry.StepIndex)
	assert.True(t, retry.Retry)

	// The execution itself keeps running while the step awaits retry.
	stored, err := f.persistence.Executions().ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
}

func TestRunStepBackoffDoublesDelay(t *testing.T) {
	t.Parallel()

	flaky := &mocks.StepHandlerFactory{
		TypeID: "flaky",
		Retry:  &protocol.RetryPolicy{MaxRetries: 3, Delay: time.Second, Backoff: true},
		Handler: func(context.Context, protocol.StepContext, *slog.Logger) (map[string]any, error) {
			return nil, errors.New("still failing")
		},
	}

	f := newFixture(t, flaky)
	execution := f.seed(t, stepSpec{"flaky", true})
	ctx := context.Background()

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

	for attempt, want := range expected {
		f.bus.Reset()
		require.NoError(t, f.executor.RunStep(ctx, execution.ID, 0))

		published := f.bus.Published()
		require.Len(t, published, 1, "attempt %d", attempt)
		assert.Equal(t, want, published[0].Delay, "attempt %d", attempt)
	}
}

func TestRunStepCriticalExhaustionFailsExecution(t *testing.T) {
	t.Parallel()

	broken := &mocks.StepHandlerFactory{
		TypeID: "broken",
		Retry:  &protocol.RetryPolicy{MaxRetries: 1, Delay: time.Millisecond},
		Handler: func(context.Context, protocol.StepContext, *slog.Logger) (map[string]any, error) {
			return nil, errors.New("permanently broken")
		},
	}
	never := &mocks.StepHandlerFactory{TypeID: "never"}

	f := newFixture(t, broken, never)
	execution := f.seed(t, stepSpec{"broken", true}, stepSpec{"never", true})

	f.runToCompletion(t, execution.ID)
	ctx := context.Background()

	stored, err := f.persistence.Executions().ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "permanently broken")

	// No subsequent step ever started.
	steps, err := f.persistence.Executions().Steps(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, steps[0].Status)
	assert.Equal(t, models.StepStatusPending, steps[1].Status)
	assert.Zero(t, never.CallCount)

	item, err := f.persistence.ContentItems().ByID(ctx, execution.ContentID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentStatusFailed, item.Status)
}

func TestRunStepNonCriticalExhaustionSkips(t *testing.T) {
	t.Parallel()

	broken := &mocks.StepHandlerFactory{
		TypeID: "broken",
		Retry:  &protocol.RetryPolicy{MaxRetries: 1, Delay: time.Millisecond},
		Handler: func(context.Context, protocol.StepContext, *slog.Logger) (map[string]any, error) {
			return nil, errors.New("optional step down")
		},
	}
	final := &mocks.StepHandlerFactory{TypeID: "final"}

	f := newFixture(t, broken, final)
	execution := f.seed(t, stepSpec{"broken", false}, stepSpec{"final", true})

	f.runToCompletion(t, execution.ID)
	ctx := context.Background()

	stored, err := f.persistence.Executions().ByID(ctx, execution.ID)
	require.NoError(t, err)
	// The execution does not end failed because of a skipped step.
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)

	steps, err := f.persistence.Executions().Steps(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusSkipped, steps[0].Status)
	assert.Equal(t, models.StepStatusCompleted, steps[1].Status)
	assert.Equal(t, 1, final.CallCount)
}

// Template [A(critical), B(non-critical), C(critical)]: B exhausts retries and
// is skipped; C exhausts retries and fails the execution; A and B keep their
// resolved statuses.
func TestRunStepMixedCriticalityScenario(t *testing.T) {
	t.Parallel()

	a := &mocks.StepHandlerFactory{TypeID: "a"}
	b := &mocks.StepHandlerFactory{
		TypeID: "b",
		Retry:  &protocol.RetryPolicy{MaxRetries: 2, Delay: time.Millisecond},
		Handler: func(context.Context, protocol.StepContext, *slog.Logger) (map[string]any, error) {
			return nil, errors.New("b is down")
		},
	}
	c := &mocks.StepHandlerFactory{
		TypeID: "c",
		Retry:  &protocol.RetryPolicy{MaxRetries: 2, Delay: time.Millisecond},
		Handler: func(context.Context, protocol.StepContext, *slog.Logger) (map[string]any, error) {
			return nil, errors.New("c is down")
		},
	}

	f := newFixture(t, a, b, c)
	execution := f.seed(t, stepSpec{"a", true}, stepSpec{"b", false}, stepSpec{"c", true})

	f.runToCompletion(t, execution.ID)
	ctx := context.Background()

	stored, err := f.persistence.Executions().ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)

	steps, err := f.persistence.Executions().Steps(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, models.StepStatusSkipped, steps[1].Status)
	assert.Equal(t, models.StepStatusFailed, steps[2].Status)

	// The execution did reach C: 1 + MaxRetries attempts.
	assert.Equal(t, 3, c.CallCount)
}

func TestRunStepExposesUpstreamOutputs(t *testing.T) {
	t.Parallel()

	var seen map[string]map[string]any

	first := &mocks.StepHandlerFactory{
		TypeID: "first",
		Handler: func(context.Context, protocol.StepContext, *slog.Logger) (map[string]any, error) {
			return map[string]any{"value": "from-first"}, nil
		},
	}
	second := &mocks.StepHandlerFactory{
		TypeID: "second",
		Handler: func(_ context.Context, stepCtx protocol.StepContext, _ *slog.Logger) (map[string]any, error) {
			seen = stepCtx.Upstream

			return map[string]any{}, nil
		},
	}

	f := newFixture(t, first, second)
	execution := f.seed(t, stepSpec{"first", true}, stepSpec{"second", true})

	f.runToCompletion(t, execution.ID)

	require.Contains(t, seen, "first")
	assert.Equal(t, "from-first", seen["first"]["value"])
}

func TestRunStepCancelledExecutionRunsNothing(t *testing.T) {
	t.Parallel()

	noop := &mocks.StepHandlerFactory{TypeID: "noop"}

	f := newFixture(t, noop)
	execution := f.seed(t, stepSpec{"noop", true})
	ctx := context.Background()

	execution.Status = models.ExecutionStatusCancelled
	require.NoError(t, f.persistence.Executions().Save(ctx, execution))

	require.NoError(t, f.executor.RunStep(ctx, execution.ID, 0))

	assert.Zero(t, noop.CallCount)
	assert.Empty(t, f.bus.Published())
}

func TestRunStepDiscardsOutputWhenCancelledMidFlight(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var execution *models.PipelineExecution

	// The handler cancels its own execution, simulating an operator action
	// landing while the step is in flight.
	midflight := &mocks.StepHandlerFactory{
		TypeID: "midflight",
		Handler: func(ctx context.Context, _ protocol.StepContext, _ *slog.Logger) (map[string]any, error) {
			stored, err := f.persistence.Executions().ByID(ctx, execution.ID)
			if err != nil {
				return nil, err
			}

			stored.Status = models.ExecutionStatusCancelled
			if err := f.persistence.Executions().Save(ctx, stored); err != nil {
				return nil, err
			}

			return map[string]any{"should": "be discarded"}, nil
		},
	}
	f.registry.RegisterHandler(midflight)

	execution = f.seed(t, stepSpec{"midflight", true}, stepSpec{"midflight", true})
	ctx := context.Background()

	require.NoError(t, f.executor.RunStep(ctx, execution.ID, 0))

	step, err := f.persistence.Executions().Step(ctx, execution.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, step.OutputData)
	assert.NotEqual(t, models.StepStatusCompleted, step.Status)

	// No next step was enqueued and the execution stays cancelled.
	assert.Empty(t, f.bus.PublishedOn(events.StepLane))

	stored, err := f.persistence.Executions().ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
}

func TestRunStepUnknownStepTypeShortCircuitsRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	execution := f.seed(t, stepSpec{"unregistered", true})
	ctx := context.Background()

	require.NoError(t, f.executor.RunStep(ctx, execution.ID, 0))

	stored, err := f.persistence.Executions().ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)

	// No retry was scheduled: redelivery cannot fix an unknown type.
	for _, published := range f.bus.Published() {
		_, isStep := published.Event.(events.StepAvailable)
		assert.False(t, isStep)
	}
}

func TestRunStepPanicIsContainedAsFailure(t *testing.T) {
	t.Parallel()

	panicky := &mocks.StepHandlerFactory{
		TypeID: "panicky",
		Retry:  &protocol.RetryPolicy{MaxRetries: 0, Delay: time.Millisecond},
		Handler: func(context.Context, protocol.StepContext, *slog.Logger) (map[string]any, error) {
			panic("handler bug")
		},
	}

	f := newFixture(t, panicky)
	execution := f.seed(t, stepSpec{"panicky", false})

	require.NoError(t, f.executor.RunStep(context.Background(), execution.ID, 0))

	step, err := f.persistence.Executions().Step(context.Background(), execution.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusSkipped, step.Status)
	assert.Contains(t, step.ErrorMessage, "handler bug")
}

func TestCurrentStepNeverDecreases(t *testing.T) {
	t.Parallel()

	noop := &mocks.StepHandlerFactory{TypeID: "noop"}

	f := newFixture(t, noop)
	execution := f.seed(t, stepSpec{"noop", true}, stepSpec{"noop", true}, stepSpec{"noop", true})
	ctx := context.Background()

	previous := 0

	for index := 0; index < 3; index++ {
		require.NoError(t, f.executor.RunStep(ctx, execution.ID, index))

		stored, err := f.persistence.Executions().ByID(ctx, execution.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stored.CurrentStep, previous)
		assert.LessOrEqual(t, stored.CurrentStep, stored.TotalSteps)
		previous = stored.CurrentStep
	}
}
