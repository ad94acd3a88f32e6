package models

import "time"

// InstanceStatus represents the lifecycle state of an instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusScheduled InstanceStatus = "scheduled"
	InstanceStatusExecuting InstanceStatus = "executing"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// ActiveInstanceStatuses are the non-terminal statuses. At most one instance
// per (playbook, target) pair may be in one of these at any time.
var ActiveInstanceStatuses = []InstanceStatus{
	InstanceStatusPending,
	InstanceStatusScheduled,
	InstanceStatusExecuting,
}

// Instance is one stateful execution of a playbook against one target. It is
// created by the scheduler, mutated exclusively by the executor while owned by
// the coordinator, and never deleted: it only transitions to a terminal
// status.
type Instance struct {
	ID             string `json:"id"`
	PlaybookID     string `json:"playbook_id"`
	OrganizationID string `json:"organization_id"`
	ChannelID      string `json:"channel_id"` // owning messaging account
	TargetID       string `json:"target_id"`
	Name           string `json:"name,omitempty"`

	CurrentStepID    string `json:"current_step_id,omitempty"`
	CurrentStepIndex int    `json:"current_step_index"`

	Status   InstanceStatus `json:"status"`
	Progress int            `json:"progress"` // percentage, derived from cursor

	// Variables is the free-form bag read and written by steps and guard
	// conditions. Values are JSON scalars (string, float64, bool).
	Variables map[string]any `json:"variables,omitempty"`

	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	// RetryCount counts failed attempts on the current step. Reset when the
	// cursor advances.
	RetryCount int `json:"retry_count"`

	// ResumeAt set while the instance is suspended (post-step delay,
	// wait-for-reply timeout, or retry backoff). Cleared on resumption.
	ResumeAt *time.Time `json:"resume_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the instance reached a final status.
func (i *Instance) IsTerminal() bool {
	switch i.Status {
	case InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusCancelled:
		return true
	default:
		return false
	}
}

func (i *Instance) SetVariable(key string, value any) {
	if i.Variables == nil {
		i.Variables = make(map[string]any)
	}

	i.Variables[key] = value
}

func (i *Instance) Variable(key string) (any, bool) {
	v, ok := i.Variables[key]

	return v, ok
}

// ClearVariable removes a key from the bag. Missing keys are a no-op.
func (i *Instance) ClearVariable(key string) {
	delete(i.Variables, key)
}

// Advance moves the cursor to the successor of the current step and
// recomputes progress. It returns false when no successor exists, in which
// case the caller marks the instance completed.
func (i *Instance) Advance(playbook *Playbook) bool {
	step, ok := playbook.StepByID(i.CurrentStepID)
	if !ok {
		return false
	}

	nextID := playbook.NextStepID(step)
	if nextID == "" {
		return false
	}

	i.CurrentStepID = nextID
	i.CurrentStepIndex = playbook.StepIndex(nextID)
	i.Progress = progressFor(i.CurrentStepIndex, len(playbook.Steps))
	i.RetryCount = 0

	return true
}

// Suspend records a future resumption time. Status moves back to scheduled so
// the resumption pass can find the instance without a worker holding it.
func (i *Instance) Suspend(resumeAt time.Time) {
	i.Status = InstanceStatusScheduled
	i.ResumeAt = &resumeAt
}

func (i *Instance) MarkStarted(now time.Time) {
	i.Status = InstanceStatusExecuting
	i.ResumeAt = nil

	if i.StartedAt == nil {
		i.StartedAt = &now
	}
}

func (i *Instance) MarkCompleted(now time.Time) {
	i.Status = InstanceStatusCompleted
	i.Progress = 100
	i.ResumeAt = nil
	i.CompletedAt = &now
}

func (i *Instance) MarkFailed(now time.Time, errorMessage string) {
	i.Status = InstanceStatusFailed
	i.ErrorMessage = errorMessage
	i.ResumeAt = nil
	i.CompletedAt = &now
}

func (i *Instance) MarkCancelled(now time.Time) {
	i.Status = InstanceStatusCancelled
	i.ResumeAt = nil
	i.CompletedAt = &now
}

func progressFor(stepIndex, total int) int {
	if total == 0 {
		return 0
	}

	p := stepIndex * 100 / total
	if p > 100 {
		p = 100
	}

	return p
}
