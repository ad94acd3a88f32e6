// Package models defines the core domain models for playbook-driven outreach automation.
package models

import (
	"errors"
	"fmt"
	"time"
)

// PlaybookStatus represents the lifecycle state of a playbook.
type PlaybookStatus string

const (
	PlaybookStatusDraft    PlaybookStatus = "draft"    // Editable, not executable
	PlaybookStatusActive   PlaybookStatus = "active"   // Executable by triggers and schedules
	PlaybookStatusPaused   PlaybookStatus = "paused"   // Temporarily not executable
	PlaybookStatusArchived PlaybookStatus = "archived" // Historical, not executable
)

// PlaybookType tags a playbook with its outreach intent.
type PlaybookType string

const (
	PlaybookTypeWelcome   PlaybookType = "welcome"
	PlaybookTypeFollowUp  PlaybookType = "follow_up"
	PlaybookTypePromotion PlaybookType = "promotion"
	PlaybookTypeCustom    PlaybookType = "custom"
)

var (
	ErrNoSteps           = errors.New("playbook must have at least one step")
	ErrPlaybookNotActive = errors.New("playbook is not active")
)

// Playbook is a reusable definition of an ordered, optionally branching step
// sequence executed against individual targets. Once activated the step list
// is treated as immutable by the execution engine; in-flight instances address
// steps by id, never by index.
type Playbook struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Owner          string         `json:"owner"`
	Name           string         `json:"name"        validate:"required,min=3"`
	Description    string         `json:"description"`
	Type           PlaybookType   `json:"type"        validate:"required"`
	Status         PlaybookStatus `json:"status"      validate:"required"`
	Steps          []Step         `json:"steps"`
	Trigger        TriggerConfig  `json:"trigger"`

	// Derived counters, maintained by the scheduler and executor. Not
	// authoritative: recomputable from the instances table.
	TotalInstances  int        `json:"total_instances"`
	ActiveInstances int        `json:"active_instances"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerConfig declares which external events may create instances of this
// playbook. Recurring time-based triggers live in Schedule, not here.
type TriggerConfig struct {
	OnNewTarget bool     `json:"on_new_target,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

func (p *Playbook) IsActive() bool {
	return p.Status == PlaybookStatusActive
}

// StepByID returns the step with the given id.
func (p *Playbook) StepByID(stepID string) (Step, bool) {
	for _, step := range p.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return Step{}, false
}

// StepIndex returns the position of the step in the ordered list, or -1.
func (p *Playbook) StepIndex(stepID string) int {
	for i, step := range p.Steps {
		if step.ID == stepID {
			return i
		}
	}

	return -1
}

// FirstStepID returns the entry step id, or "" for an empty playbook.
func (p *Playbook) FirstStepID() string {
	if len(p.Steps) == 0 {
		return ""
	}

	return p.Steps[0].ID
}

// NextStepID resolves the successor of a step: the first explicit next_steps
// entry when present, otherwise the next step in list order. Returns "" when
// the step is the last one.
func (p *Playbook) NextStepID(step Step) string {
	if len(step.NextSteps) > 0 {
		return step.NextSteps[0]
	}

	idx := p.StepIndex(step.ID)
	if idx < 0 || idx >= len(p.Steps)-1 {
		return ""
	}

	return p.Steps[idx+1].ID
}

// ValidateSteps checks the structural invariants that gate activation: at
// least one step, unique step ids, every successor reference resolvable, and
// a well-formed payload for each action kind.
func (p *Playbook) ValidateSteps() error {
	if len(p.Steps) == 0 {
		return ErrNoSteps
	}

	ids := make(map[string]struct{}, len(p.Steps))

	for i, step := range p.Steps {
		if step.ID == "" {
			return fmt.Errorf("step %d: missing id", i+1)
		}

		if _, dup := ids[step.ID]; dup {
			return fmt.Errorf("step %d: duplicate step id %q", i+1, step.ID)
		}

		ids[step.ID] = struct{}{}

		if step.Name == "" {
			return fmt.Errorf("step %q: missing name", step.ID)
		}

		if !step.Action.Valid() {
			return fmt.Errorf("step %q: unknown action kind %q", step.ID, step.Action)
		}

		if err := ValidateStepPayload(step.Action, step.Payload); err != nil {
			return fmt.Errorf("step %q: %w", step.ID, err)
		}
	}

	for _, step := range p.Steps {
		for _, next := range step.NextSteps {
			if _, ok := ids[next]; !ok {
				return fmt.Errorf("step %q: successor %q does not exist", step.ID, next)
			}
		}
	}

	return nil
}
