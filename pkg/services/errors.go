// Package services holds the application services behind the REST API: CRUD
// plumbing plus the operator actions on executions.
package services

import (
	"errors"

	"github.com/keylin/harvester/pkg/orchestrator"
)

var (
	// ErrInvalidTransition is returned when an operator action does not
	// apply to the execution's current status.
	ErrInvalidTransition = errors.New("invalid execution state transition")

	// ErrValidation wraps request validation failures.
	ErrValidation = errors.New("validation failed")
)

// IsValidationError reports whether the error should map to a 400 response.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflictError reports whether the error should map to a 409 response.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, orchestrator.ErrExecutionConflict)
}
