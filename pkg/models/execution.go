package models

import "time"

// ExecutionStatus is the lifecycle state of one pipeline execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusPaused    ExecutionStatus = "paused"
)

// StepStatus is the per-step state machine:
// pending -> running -> completed | skipped | failed.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// PipelineExecution is one run of a template against one content item.
// Invariant: 0 <= CurrentStep <= TotalSteps, and CurrentStep never decreases.
type PipelineExecution struct {
	ID         string `json:"id"          validate:"required"`
	ContentID  string `json:"content_id"  validate:"required"`
	TemplateID string `json:"template_id" validate:"required"`

	Status        ExecutionStatus `json:"status"`
	CurrentStep   int             `json:"current_step"`
	TotalSteps    int             `json:"total_steps"`
	TriggerReason string          `json:"trigger_reason,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Terminal reports whether the execution reached a final status.
func (e *PipelineExecution) Terminal() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// PipelineStep is one ordered stage within an execution. Config is copied
// from the template at materialization time, never live-linked.
type PipelineStep struct {
	ID          string `json:"id"           validate:"required"`
	ExecutionID string `json:"execution_id" validate:"required"`
	Index       int    `json:"index"`
	StepType    string `json:"step_type"    validate:"required"`
	Critical    bool   `json:"critical"`

	Config map[string]any `json:"config,omitempty"`

	Status       StepStatus     `json:"status"`
	RetryCount   int            `json:"retry_count"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Resolved reports whether the step reached an outcome that allows the
// pipeline to advance.
func (s *PipelineStep) Resolved() bool {
	return s.Status == StepStatusCompleted || s.Status == StepStatusSkipped
}
