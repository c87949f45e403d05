// Package events defines the event types exchanged over the work queue lanes.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Queue lanes. Steps and collect jobs travel on separate topics so the
// worker can bound their concurrency independently.
const (
	StepLane    = "harvester.steps"
	CollectLane = "harvester.collects"
)

const (
	EventKeyMetadataKey  = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	CollectDueEvent EventType = "source.collect.due"

	StepAvailableEvent EventType = "pipeline.step.available"

	ExecutionCompletedEvent EventType = "pipeline.execution.completed"
	ExecutionFailedEvent    EventType = "pipeline.execution.failed"
	ExecutionCancelledEvent EventType = "pipeline.execution.cancelled"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// CollectDue asks a worker to run one collection attempt for one source.
// The scheduler emits one independent event per due source.
type CollectDue struct {
	BaseEvent

	SourceID    string    `json:"source_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (e CollectDue) GetType() EventType { return CollectDueEvent }

// StepAvailable asks a worker to run exactly one step of one execution.
type StepAvailable struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepIndex   int    `json:"step_index"`
	ContentID   string `json:"content_id,omitempty"`
	Retry       bool   `json:"retry,omitempty"`
}

func (e StepAvailable) GetType() EventType { return StepAvailableEvent }

// ExecutionCompleted announces a fully resolved execution.
type ExecutionCompleted struct {
	BaseEvent

	ExecutionID   string        `json:"execution_id"`
	ContentID     string        `json:"content_id"`
	StepsExecuted int           `json:"steps_executed"`
	Duration      time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

// ExecutionFailed announces an execution aborted by a critical step.
type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContentID   string `json:"content_id"`
	StepIndex   int    `json:"step_index"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

// ExecutionCancelled announces an operator-cancelled execution.
type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContentID   string `json:"content_id"`
	CancelledBy string `json:"cancelled_by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}
