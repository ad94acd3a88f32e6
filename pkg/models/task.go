package models

import "time"

// TaskStatus represents the lifecycle state of a single step attempt.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusExecuting TaskStatus = "executing"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// DefaultMaxRetries bounds task-level retries for transient action failures.
const DefaultMaxRetries = 3

// Task is the append-only record of one attempt to execute one step of one
// instance. Retries never mutate a failed task; each re-attempt creates a new
// record so the full history stays queryable for audit.
type Task struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`
	StepID     string `json:"step_id"`

	// StepName and Action are denormalized from the step definition so the
	// audit trail survives later template edits.
	StepName string     `json:"step_name"`
	Action   ActionKind `json:"action"`

	Status     TaskStatus `json:"status"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`

	Input        map[string]any `json:"input,omitempty"`  // resolved step config
	Output       map[string]any `json:"output,omitempty"` // action result
	ErrorMessage string         `json:"error_message,omitempty"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsRetryable reports whether a failed task still has retry budget.
func (t *Task) IsRetryable() bool {
	return t.Status == TaskStatusFailed && t.RetryCount < t.MaxRetries
}

func (t *Task) MarkStarted(now time.Time) {
	t.Status = TaskStatusExecuting
	t.StartedAt = &now
}

func (t *Task) MarkCompleted(now time.Time, output map[string]any) {
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.Output = output
}

// MarkFailed records the failure and consumes one retry. A fresh task for
// attempt N starts with RetryCount == N-1 (the number of prior failures for
// the same step), so the count never exceeds MaxRetries.
func (t *Task) MarkFailed(now time.Time, errorMessage string) {
	t.Status = TaskStatusFailed
	t.CompletedAt = &now
	t.ErrorMessage = errorMessage
	t.RetryCount++
}

func (t *Task) MarkSkipped(now time.Time, reason string) {
	t.Status = TaskStatusSkipped
	t.CompletedAt = &now
	t.ErrorMessage = reason
}
