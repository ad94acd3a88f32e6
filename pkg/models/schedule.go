package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a recurring-trigger configuration bound to a playbook. The next
// execution time is precomputed and stored so the scheduler can poll for due
// schedules with a single indexed query instead of holding per-schedule
// timers.
type Schedule struct {
	ID             string `json:"id"              validate:"required"`
	PlaybookID     string `json:"playbook_id"     validate:"required"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"            validate:"required"`
	Description    string `json:"description,omitempty"`

	// CronExpression uses the standard 5-field format
	// (minute hour day month weekday).
	CronExpression string `json:"cron_expression" validate:"required"`

	// TargetFilter selects which targets the schedule fans out to.
	TargetFilter TargetFilter `json:"target_filter"`

	Active bool `json:"active"`

	ExecutionCount int `json:"execution_count"`
	SuccessCount   int `json:"success_count"`

	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetFilter narrows the set of targets a schedule applies to.
type TargetFilter struct {
	Tags       []string `json:"tags,omitempty"`
	ChannelIDs []string `json:"channel_ids,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

const defaultTargetLimit = 100

// EffectiveLimit returns the fan-out cap, defaulting when unset.
func (f TargetFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return defaultTargetLimit
	}

	return f.Limit
}

// NewSchedule creates a schedule with its first execution time computed from
// the cron expression.
func NewSchedule(id, playbookID, name, cronExpression string, filter TargetFilter) (*Schedule, error) {
	now := time.Now().UTC()
	schedule := &Schedule{
		ID:             id,
		PlaybookID:     playbookID,
		Name:           name,
		CronExpression: cronExpression,
		TargetFilter:   filter,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := schedule.computeNextExecution(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// UpdateNextExecution recomputes the next due time from now. Called after
// every firing.
func (s *Schedule) UpdateNextExecution() error {
	return s.computeNextExecution(time.Now().UTC())
}

func (s *Schedule) computeNextExecution(reference time.Time) error {
	parsed, err := cronParser().Parse(s.CronExpression)
	if err != nil {
		return err
	}

	next := parsed.Next(reference)
	s.NextExecutionAt = &next
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// IsDue reports whether the schedule should fire at the given time. A
// schedule without a computed next execution is treated as immediately due.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Active {
		return false
	}

	return s.NextExecutionAt == nil || !s.NextExecutionAt.After(now)
}

// Validate checks identity fields and the cron expression format.
func (s *Schedule) Validate() error {
	if s.ID == "" || s.PlaybookID == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	_, err := cronParser().Parse(s.CronExpression)

	return err
}

func cronParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}
