package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
)

// Schedule manages recurring-trigger configurations.
type Schedule struct {
	persistence persistence.Persistence
}

// NewSchedule creates a schedule service.
func NewSchedule(store persistence.Persistence) *Schedule {
	return &Schedule{persistence: store}
}

// ScheduleRequest carries the mutable fields of a schedule.
type ScheduleRequest struct {
	PlaybookID     string              `json:"playbook_id" validate:"required"`
	Name           string              `json:"name"        validate:"required"`
	Description    string              `json:"description,omitempty"`
	CronExpression string              `json:"cron_expression" validate:"required"`
	TargetFilter   models.TargetFilter `json:"target_filter"`
}

// Create validates the request against an existing playbook and stores the
// schedule with its first execution time precomputed.
func (s *Schedule) Create(ctx context.Context, req ScheduleRequest) (*models.Schedule, error) {
	playbook, err := s.persistence.PlaybookByID(ctx, req.PlaybookID)
	if err != nil {
		return nil, err
	}

	schedule, err := models.NewSchedule(uuid.New().String(), playbook.ID, req.Name, req.CronExpression, req.TargetFilter)
	if err != nil {
		return nil, ErrInvalidCron
	}

	schedule.OrganizationID = playbook.OrganizationID
	schedule.Description = req.Description

	if err := s.persistence.SaveSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	return schedule, nil
}

// Update applies the request to an existing schedule and recomputes its next
// execution when the cron expression changed.
func (s *Schedule) Update(ctx context.Context, id string, req ScheduleRequest) (*models.Schedule, error) {
	schedule, err := s.persistence.ScheduleByID(ctx, id)
	if err != nil {
		return nil, err
	}

	recompute := req.CronExpression != schedule.CronExpression

	schedule.Name = req.Name
	schedule.Description = req.Description
	schedule.CronExpression = req.CronExpression
	schedule.TargetFilter = req.TargetFilter
	schedule.UpdatedAt = time.Now().UTC()

	if err := schedule.Validate(); err != nil {
		return nil, ErrInvalidCron
	}

	if recompute {
		if err := schedule.UpdateNextExecution(); err != nil {
			return nil, ErrInvalidCron
		}
	}

	if err := s.persistence.SaveSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	return schedule, nil
}

// Get returns one schedule.
func (s *Schedule) Get(ctx context.Context, id string) (*models.Schedule, error) {
	return s.persistence.ScheduleByID(ctx, id)
}

// List returns all schedules.
func (s *Schedule) List(ctx context.Context) ([]*models.Schedule, error) {
	return s.persistence.Schedules(ctx)
}

// Activate enables the schedule and recomputes its next execution so an old
// stored time does not cause an immediate burst.
func (s *Schedule) Activate(ctx context.Context, id string) (*models.Schedule, error) {
	return s.setActive(ctx, id, true)
}

// Deactivate disables the schedule. Running instances are unaffected.
func (s *Schedule) Deactivate(ctx context.Context, id string) (*models.Schedule, error) {
	return s.setActive(ctx, id, false)
}

func (s *Schedule) setActive(ctx context.Context, id string, active bool) (*models.Schedule, error) {
	schedule, err := s.persistence.ScheduleByID(ctx, id)
	if err != nil {
		return nil, err
	}

	schedule.Active = active
	schedule.UpdatedAt = time.Now().UTC()

	if active {
		if err := schedule.UpdateNextExecution(); err != nil {
			return nil, ErrInvalidCron
		}
	}

	if err := s.persistence.SaveSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	return schedule, nil
}
