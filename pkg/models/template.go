package models

import (
	"errors"
	"time"
)

// TemplateStep is one step definition inside a pipeline template.
// Critical left unset falls back to the step type's default criticality.
type TemplateStep struct {
	StepType string         `json:"step_type" validate:"required"`
	Critical *bool          `json:"critical,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// PipelineTemplate is an ordered, reusable definition of processing steps.
// A running execution works on a snapshot of the template, so editing a
// template only affects future executions.
type PipelineTemplate struct {
	ID          string          `json:"id"   validate:"required"`
	Name        string          `json:"name" validate:"required,min=3"`
	Description string          `json:"description,omitempty"`
	Steps       []*TemplateStep `json:"steps"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

var ErrInvalidTemplate = errors.New("invalid pipeline template")

// Validate rejects templates that cannot be materialized into an execution.
func (t *PipelineTemplate) Validate() error {
	if t.ID == "" || len(t.Steps) == 0 {
		return ErrInvalidTemplate
	}

	for _, step := range t.Steps {
		if step == nil || step.StepType == "" {
			return ErrInvalidTemplate
		}
	}

	return nil
}
