// Package scheduler decides when every active source is collected next and
// dispatches due sources to the collect lane.
package scheduler

import (
	"time"

	"github.com/keylin/harvester/pkg/models"
)

const (
	// DefaultBaseInterval applies when a source declares no base interval.
	DefaultBaseInterval = 30 * time.Minute

	// maxBackoffShift bounds the doubling exponent so the shift can never
	// overflow a duration.
	maxBackoffShift = 16
)

// Hotspot divisors. An elevated hotspot halves the interval, an extreme one
// quarters it, until the hotspot TTL passes.
const (
	elevatedDivisor = 2
	extremeDivisor  = 4
)

// EffectiveInterval computes the success-path collection interval for a
// source at now: the fixed override when mode is fixed, otherwise the base
// interval converged toward the learned periodicity and shortened by an
// active hotspot, clamped to the source's min/max bounds.
func EffectiveInterval(source *models.Source, now time.Time) time.Duration {
	if source.ScheduleMode == models.ScheduleModeFixed && source.OverrideInterval > 0 {
		return source.OverrideInterval
	}

	interval := source.BaseInterval
	if interval <= 0 {
		interval = DefaultBaseInterval
	}

	// Converge halfway toward the learned cadence each attempt, so a noisy
	// periodicity estimate pulls the interval gradually rather than jumping.
	if source.PeriodicityInterval > 0 {
		interval = (interval + source.PeriodicityInterval) / 2
	}

	if source.HotspotActive(now) {
		switch source.HotspotLevel {
		case models.HotspotElevated:
			interval /= elevatedDivisor
		case models.HotspotExtreme:
			interval /= extremeDivisor
		}
	}

	return clampInterval(source, interval)
}

// BackoffInterval computes the failure-path interval:
// min(base * 2^consecutive_failures, max_interval). In fixed mode the
// override interval is the backoff base.
func BackoffInterval(source *models.Source) time.Duration {
	base := source.BaseInterval
	if source.ScheduleMode == models.ScheduleModeFixed && source.OverrideInterval > 0 {
		base = source.OverrideInterval
	}

	if base <= 0 {
		base = DefaultBaseInterval
	}

	shift := source.ConsecutiveFailures
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	interval := base << uint(shift)
	if source.MaxInterval > 0 && interval > source.MaxInterval {
		interval = source.MaxInterval
	}

	return interval
}

// NextCollection computes the moment the source should be collected after an
// attempt finishing at now, along with the interval used. Success with a cron
// expression follows the cron schedule; failure always backs off.
func NextCollection(source *models.Source, now time.Time, success bool) (time.Time, time.Duration) {
	if !success {
		interval := BackoffInterval(source)

		return now.Add(interval), interval
	}

	if source.CronExpression != "" {
		if schedule, err := models.CronParser.Parse(source.CronExpression); err == nil {
			next := schedule.Next(now)

			return next, next.Sub(now)
		}
	}

	interval := EffectiveInterval(source, now)

	return now.Add(interval), interval
}

func clampInterval(source *models.Source, interval time.Duration) time.Duration {
	if source.MinInterval > 0 && interval < source.MinInterval {
		interval = source.MinInterval
	}

	if source.MaxInterval > 0 && interval > source.MaxInterval {
		interval = source.MaxInterval
	}

	return interval
}
