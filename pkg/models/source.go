// Package models defines the core domain models for content collection and pipeline processing.
package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleMode controls how the next collection time for a source is computed.
type ScheduleMode string

const (
	// ScheduleModeAuto derives the interval from the base interval adjusted by
	// periodicity and hotspot signals.
	ScheduleModeAuto ScheduleMode = "auto"
	// ScheduleModeFixed always uses the override interval (or cron expression).
	ScheduleModeFixed ScheduleMode = "fixed"
	// ScheduleModeManual disables automatic collection entirely.
	ScheduleModeManual ScheduleMode = "manual"
)

// HotspotLevel marks a detected burst in a source's update rate. An elevated
// or extreme level temporarily shortens the collection interval until
// HotspotUntil passes.
type HotspotLevel string

const (
	HotspotNone     HotspotLevel = "none"
	HotspotElevated HotspotLevel = "elevated"
	HotspotExtreme  HotspotLevel = "extreme"
)

// Source is a configured origin of content. The scheduler owns
// NextCollectionAt and CalculatedInterval; both are recomputed at the end of
// every collection attempt and only read elsewhere.
type Source struct {
	ID            string         `json:"id"             validate:"required"`
	Name          string         `json:"name"           validate:"required,min=3"`
	URL           string         `json:"url"            validate:"required,url"`
	CollectorType string         `json:"collector_type" validate:"required"`
	CollectorConfig map[string]any `json:"collector_config,omitempty"`

	// TemplateID binds a pipeline template to items collected from this
	// source. A source without a template skips pipeline creation and its
	// items go straight to "ready".
	TemplateID *string `json:"template_id,omitempty"`

	ScheduleMode    ScheduleMode `json:"schedule_mode"  validate:"required,oneof=auto fixed manual"`
	ScheduleEnabled bool         `json:"schedule_enabled"`
	Active          bool         `json:"active"`

	// BaseInterval is the starting interval for auto mode. OverrideInterval is
	// used verbatim in fixed mode. CronExpression, when set, replaces
	// interval-based scheduling for successful attempts (5-field cron).
	BaseInterval     time.Duration `json:"base_interval"`
	OverrideInterval time.Duration `json:"override_interval,omitempty"`
	CronExpression   string        `json:"cron_expression,omitempty"`
	MinInterval      time.Duration `json:"min_interval,omitempty"`
	MaxInterval      time.Duration `json:"max_interval,omitempty"`

	// PeriodicityInterval is the learned estimate of the source's natural
	// update cadence. Zero means unknown.
	PeriodicityInterval time.Duration `json:"periodicity_interval,omitempty"`

	HotspotLevel HotspotLevel `json:"hotspot_level"`
	HotspotUntil *time.Time   `json:"hotspot_until,omitempty"`

	ConsecutiveFailures int `json:"consecutive_failures"`

	// NextCollectionAt and CalculatedInterval are derived fields, exposed
	// read-only for display.
	NextCollectionAt   time.Time     `json:"next_collection_at"`
	CalculatedInterval time.Duration `json:"calculated_interval"`

	LastCollectedAt *time.Time `json:"last_collected_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrInvalidSource         = errors.New("invalid source configuration")
	ErrInvalidCronExpression = errors.New("invalid cron expression")
)

// CronParser accepts the standard 5-field format (minute hour dom month dow).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks structural validity of the source configuration.
func (s *Source) Validate() error {
	if s.ID == "" || s.URL == "" || s.CollectorType == "" {
		return ErrInvalidSource
	}

	switch s.ScheduleMode {
	case ScheduleModeAuto, ScheduleModeFixed, ScheduleModeManual:
	default:
		return ErrInvalidSource
	}

	if s.ScheduleMode == ScheduleModeFixed && s.OverrideInterval <= 0 && s.CronExpression == "" {
		return ErrInvalidSource
	}

	if s.CronExpression != "" {
		if _, err := CronParser.Parse(s.CronExpression); err != nil {
			return ErrInvalidCronExpression
		}
	}

	return nil
}

// Due reports whether the source should be dispatched by a scheduler sweep at
// the given time.
func (s *Source) Due(now time.Time) bool {
	return s.Active && s.ScheduleEnabled &&
		s.ScheduleMode != ScheduleModeManual &&
		!s.NextCollectionAt.After(now)
}

// HotspotActive reports whether a hotspot adjustment still applies at now.
func (s *Source) HotspotActive(now time.Time) bool {
	return s.HotspotLevel != "" && s.HotspotLevel != HotspotNone &&
		s.HotspotUntil != nil && s.HotspotUntil.After(now)
}
