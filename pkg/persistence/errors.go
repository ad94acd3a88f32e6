// Package persistence provides standardized error types shared by all
// implementations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrPlaybookNotFound indicates a playbook was not found by id.
	ErrPlaybookNotFound = errors.New("playbook not found")

	// ErrInstanceNotFound indicates an instance was not found by id.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrScheduleNotFound indicates a schedule was not found by id.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrDuplicateActiveInstance indicates the target already has a
	// non-terminal instance of the same playbook.
	ErrDuplicateActiveInstance = errors.New("target already has an active instance of this playbook")
)

// InstanceError wraps instance-related errors with operation context.
type InstanceError struct {
	Op         string
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, Err: err}
}

// IsPlaybookNotFound checks if an error indicates a missing playbook.
func IsPlaybookNotFound(err error) bool {
	return errors.Is(err, ErrPlaybookNotFound)
}

// IsInstanceNotFound checks if an error indicates a missing instance.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsDuplicateActiveInstance checks if an error indicates the uniqueness
// invariant would be violated.
func IsDuplicateActiveInstance(err error) bool {
	return errors.Is(err, ErrDuplicateActiveInstance)
}
