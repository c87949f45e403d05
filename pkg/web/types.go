// Package web provides the REST API handlers for sources, templates, content
// items and executions.
package web

import (
	"time"

	"github.com/keylin/harvester/pkg/models"
)

// SourceRequest is the body for creating or replacing a source. Intervals are
// expressed in seconds. Scheduling state (next collection, hotspot, failure
// counters) is not settable through the API.
type SourceRequest struct {
	Name            string         `json:"name"             validate:"required,min=3"`
	URL             string         `json:"url"              validate:"required,url"`
	CollectorType   string         `json:"collector_type"   validate:"required"`
	CollectorConfig map[string]any `json:"collector_config,omitempty"`
	TemplateID      *string        `json:"template_id,omitempty"`

	ScheduleMode    string `json:"schedule_mode,omitempty" validate:"omitempty,oneof=auto fixed manual"`
	ScheduleEnabled *bool  `json:"schedule_enabled,omitempty"`
	Active          *bool  `json:"active,omitempty"`
	CronExpression  string `json:"cron_expression,omitempty"`

	BaseIntervalSeconds     int64 `json:"base_interval_seconds,omitempty"     validate:"omitempty,min=1"`
	OverrideIntervalSeconds int64 `json:"override_interval_seconds,omitempty" validate:"omitempty,min=1"`
	MinIntervalSeconds      int64 `json:"min_interval_seconds,omitempty"      validate:"omitempty,min=1"`
	MaxIntervalSeconds      int64 `json:"max_interval_seconds,omitempty"      validate:"omitempty,min=1"`
}

func (r *SourceRequest) toSource() *models.Source {
	source := &models.Source{
		Name:             r.Name,
		URL:              r.URL,
		CollectorType:    r.CollectorType,
		CollectorConfig:  r.CollectorConfig,
		TemplateID:       r.TemplateID,
		ScheduleMode:     models.ScheduleMode(r.ScheduleMode),
		ScheduleEnabled:  true,
		Active:           true,
		CronExpression:   r.CronExpression,
		BaseInterval:     time.Duration(r.BaseIntervalSeconds) * time.Second,
		OverrideInterval: time.Duration(r.OverrideIntervalSeconds) * time.Second,
		MinInterval:      time.Duration(r.MinIntervalSeconds) * time.Second,
		MaxInterval:      time.Duration(r.MaxIntervalSeconds) * time.Second,
	}

	if r.ScheduleEnabled != nil {
		source.ScheduleEnabled = *r.ScheduleEnabled
	}

	if r.Active != nil {
		source.Active = *r.Active
	}

	return source
}

// TemplateRequest is the body for creating or replacing a pipeline template.
type TemplateRequest struct {
	Name        string                `json:"name"  validate:"required,min=3"`
	Description string                `json:"description,omitempty"`
	Steps       []TemplateStepRequest `json:"steps" validate:"required,min=1,dive"`
}

type TemplateStepRequest struct {
	StepType string         `json:"step_type" validate:"required"`
	Critical *bool          `json:"critical,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

func (r *TemplateRequest) toTemplate() *models.PipelineTemplate {
	steps := make([]*models.TemplateStep, 0, len(r.Steps))
	for _, step := range r.Steps {
		steps = append(steps, &models.TemplateStep{
			StepType: step.StepType,
			Critical: step.Critical,
			Config:   step.Config,
		})
	}

	return &models.PipelineTemplate{
		Name:        r.Name,
		Description: r.Description,
		Steps:       steps,
	}
}

// RetriggerRequest optionally overrides the template for a manual re-run.
type RetriggerRequest struct {
	TemplateID string `json:"template_id,omitempty"`
}

// CancelRequest carries the operator's reason for cancelling an execution.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}
