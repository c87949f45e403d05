// Package protocol defines the interfaces and contracts between the pipeline
// core and its pluggable collaborators.
package protocol

import (
	"context"
	"log/slog"
	"time"
)

// StepKind classifies which content layer a handler fills. The executor uses
// it to pick the content item's terminal status when an execution completes.
type StepKind string

const (
	StepKindGeneric    StepKind = "generic"
	StepKindEnrichment StepKind = "enrichment"
	StepKindAnalysis   StepKind = "analysis"
)

// RetryPolicy is the static retry behavior of a step type. Delay is the wait
// before re-enqueueing the same step index; with Backoff set the delay doubles
// per attempt.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	Backoff    bool
}

// DefaultRetryPolicy applies to step types that do not declare their own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: 30 * time.Second}
}

// StepContext carries everything a handler may read: content item fields,
// this step's config, and the outputs of every preceding step keyed by step
// type.
type StepContext struct {
	ExecutionID string
	StepIndex   int

	ContentID string
	SourceID  string
	URL       string
	Title     string

	Config   map[string]any
	Upstream map[string]map[string]any
}

// StepHandler is one callable unit of pipeline work. A non-nil error signals
// a failure that the executor feeds into its retry/criticality logic; the
// error never reaches the queue.
type StepHandler interface {
	Handle(ctx context.Context, stepCtx StepContext, logger *slog.Logger) (map[string]any, error)
}

// StepHandlerFactory creates handler instances and exposes the step type's
// static metadata.
type StepHandlerFactory interface {
	// Create builds a handler for one step from its snapshotted config. The
	// config has already been validated against Schema.
	Create(config map[string]any) (StepHandler, error)

	// ID is the step-type identifier used in templates.
	ID() string

	// Name is the human-readable display name.
	Name() string

	// Description explains what the step does.
	Description() string

	// Schema is the JSON schema the step config must satisfy.
	Schema() map[string]any

	// Kind classifies the content layer this step fills.
	Kind() StepKind

	// RetryPolicy is the per-type retry behavior.
	RetryPolicy() RetryPolicy

	// DefaultCritical is the criticality applied when a template step does
	// not set it explicitly.
	DefaultCritical() bool
}
