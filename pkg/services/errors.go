// Package services implements the management operations exposed by the API
// surface: playbook lifecycle, instance control and schedule administration.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrPlaybookNameShort   = errors.New("playbook name must be at least 3 characters")
	ErrNoTargets           = errors.New("at least one target is required")
	ErrInvalidCron         = errors.New("invalid cron expression")
	ErrPlaybookNotActive   = models.ErrPlaybookNotActive
	ErrPlaybookNoSteps     = models.ErrNoSteps
	ErrInstanceTerminal    = errors.New("instance already reached a terminal status")
	ErrInstanceNotPaused   = errors.New("instance is not paused")
	ErrPlaybookNotEditable = errors.New("active playbook steps cannot be modified")

	// Not found (404).
	ErrPlaybookNotFound = persistence.ErrPlaybookNotFound
	ErrInstanceNotFound = persistence.ErrInstanceNotFound
	ErrScheduleNotFound = persistence.ErrScheduleNotFound

	// Conflicts (409).
	ErrDuplicateActiveInstance = persistence.ErrDuplicateActiveInstance
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: code, Message: message, Err: err}
}

// IsValidationError checks whether an error should map to HTTP 400.
func IsValidationError(err error) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) && strings.HasPrefix(serviceErr.Code, "INVALID_") {
		return true
	}

	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrPlaybookNameShort) ||
		errors.Is(err, ErrNoTargets) ||
		errors.Is(err, ErrInvalidCron) ||
		errors.Is(err, ErrPlaybookNotActive) ||
		errors.Is(err, ErrPlaybookNoSteps) ||
		errors.Is(err, models.ErrInvalidSchedule)
}

// IsNotFoundError checks whether an error should map to HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlaybookNotFound) ||
		errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrScheduleNotFound)
}

// IsConflictError checks whether an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrDuplicateActiveInstance) ||
		errors.Is(err, ErrInstanceTerminal) ||
		errors.Is(err, ErrInstanceNotPaused) ||
		errors.Is(err, ErrPlaybookNotEditable)
}
