// Package persistence provides standardized error types shared by all
// storage implementations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound indicates no source exists for the given identifier.
	ErrSourceNotFound = errors.New("source not found")

	// ErrContentNotFound indicates no content item exists for the identifier.
	ErrContentNotFound = errors.New("content item not found")

	// ErrTemplateNotFound indicates no pipeline template exists for the identifier.
	ErrTemplateNotFound = errors.New("pipeline template not found")

	// ErrExecutionNotFound indicates no pipeline execution exists for the identifier.
	ErrExecutionNotFound = errors.New("pipeline execution not found")

	// ErrStepNotFound indicates an execution has no step at the given index.
	ErrStepNotFound = errors.New("pipeline step not found")

	// ErrDuplicateContent indicates a (source_id, external_id) collision on
	// a non-ingest write path.
	ErrDuplicateContent = errors.New("duplicate content item")
)

// RepositoryError wraps storage errors with operation context.
type RepositoryError struct {
	Op     string // Operation being performed (e.g. "ByID", "Save")
	Entity string // Entity kind (e.g. "source", "execution")
	ID     string // Entity identifier if applicable
	Err    error
}

func (e *RepositoryError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

func (e *RepositoryError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRepositoryError creates a wrapped storage error.
func NewRepositoryError(op, entity, id string, err error) *RepositoryError {
	return &RepositoryError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSourceNotFound) ||
		errors.Is(err, ErrContentNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrStepNotFound)
}
