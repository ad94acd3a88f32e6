package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
	"github.com/playbookd/playbookd/pkg/triggers"
)

// Submitter hands freshly created instances to the worker pool. Nil in the
// API process, where the engine daemon picks instances up on its next tick.
type Submitter interface {
	Submit(ctx context.Context, instanceID string) bool
}

// Instance implements operator-facing instance control.
type Instance struct {
	persistence persistence.Persistence
	queue       triggers.Queue
	pool        Submitter
}

// NewInstance creates an instance service.
func NewInstance(store persistence.Persistence, queue triggers.Queue, pool Submitter) *Instance {
	return &Instance{
		persistence: store,
		queue:       queue,
		pool:        pool,
	}
}

// CreateRequest describes a manual instance creation.
type CreateRequest struct {
	PlaybookID string         `json:"playbook_id" validate:"required"`
	TargetID   string         `json:"target_id"   validate:"required"`
	ChannelID  string         `json:"channel_id"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// Create creates one instance directly, enforcing the active-playbook
// precondition and the one-active-instance-per-(playbook, target) invariant.
func (s *Instance) Create(ctx context.Context, req CreateRequest) (*models.Instance, error) {
	if req.PlaybookID == "" || req.TargetID == "" {
		return nil, ErrInvalidRequest
	}

	playbook, err := s.persistence.PlaybookByID(ctx, req.PlaybookID)
	if err != nil {
		return nil, err
	}

	if !playbook.IsActive() {
		return nil, ErrPlaybookNotActive
	}

	now := time.Now().UTC()
	instance := &models.Instance{
		ID:             uuid.New().String(),
		PlaybookID:     playbook.ID,
		OrganizationID: playbook.OrganizationID,
		ChannelID:      req.ChannelID,
		TargetID:       req.TargetID,
		Name:           fmt.Sprintf("%s - %s", playbook.Name, req.TargetID),
		CurrentStepID:  playbook.FirstStepID(),
		Status:         models.InstanceStatusPending,
		Variables:      req.Variables,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.persistence.CreateInstance(ctx, instance); err != nil {
		return nil, err
	}

	if s.pool != nil {
		s.pool.Submit(ctx, instance.ID)
	}

	return instance, nil
}

// CreateBatch enqueues a manual trigger event covering many targets. The
// scheduler's next tick fans it out under the uniqueness invariant.
func (s *Instance) CreateBatch(ctx context.Context, playbookID string, targets []models.ManualTarget) error {
	if len(targets) == 0 {
		return ErrNoTargets
	}

	playbook, err := s.persistence.PlaybookByID(ctx, playbookID)
	if err != nil {
		return err
	}

	if !playbook.IsActive() {
		return ErrPlaybookNotActive
	}

	event := &models.TriggerEvent{
		Type:       models.TriggerManual,
		Timestamp:  time.Now().UTC(),
		PlaybookID: playbookID,
		Targets:    targets,
	}

	if err := s.queue.Enqueue(ctx, event); err != nil {
		return fmt.Errorf("failed to enqueue batch trigger: %w", err)
	}

	return nil
}

// Get returns one instance.
func (s *Instance) Get(ctx context.Context, id string) (*models.Instance, error) {
	return s.persistence.InstanceByID(ctx, id)
}

// List returns instances matching the filters.
func (s *Instance) List(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.Instance, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	return s.persistence.ListInstances(ctx, opts)
}

// Tasks returns the full attempt history of an instance, including
// exhausted retries, for audit.
func (s *Instance) Tasks(ctx context.Context, instanceID string) ([]*models.Task, error) {
	if _, err := s.persistence.InstanceByID(ctx, instanceID); err != nil {
		return nil, err
	}

	return s.persistence.TasksByInstance(ctx, instanceID)
}

// Pause parks a non-terminal instance indefinitely: status returns to
// scheduled with no resume time, so the resumption pass never picks it up
// until Resume sets one.
func (s *Instance) Pause(ctx context.Context, id string) (*models.Instance, error) {
	return s.persistence.UpdateInstance(ctx, id, func(i *models.Instance) error {
		if i.IsTerminal() {
			return ErrInstanceTerminal
		}

		i.Status = models.InstanceStatusScheduled
		i.ResumeAt = nil

		return nil
	})
}

// Resume schedules a paused instance for immediate pickup.
func (s *Instance) Resume(ctx context.Context, id string) (*models.Instance, error) {
	now := time.Now().UTC()

	instance, err := s.persistence.UpdateInstance(ctx, id, func(i *models.Instance) error {
		if i.IsTerminal() {
			return ErrInstanceTerminal
		}

		if i.Status != models.InstanceStatusScheduled || i.ResumeAt != nil {
			return ErrInstanceNotPaused
		}

		i.ResumeAt = &now

		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.pool != nil {
		s.pool.Submit(ctx, instance.ID)
	}

	return instance, nil
}

// Cancel transitions the instance to cancelled. The executor checks for
// cancellation at the top of every step, so an in-flight action finishes but
// no further step starts. Applied side effects are not rolled back.
func (s *Instance) Cancel(ctx context.Context, id string) (*models.Instance, error) {
	now := time.Now().UTC()

	return s.persistence.UpdateInstance(ctx, id, func(i *models.Instance) error {
		if i.IsTerminal() {
			return ErrInstanceTerminal
		}

		i.MarkCancelled(now)

		return nil
	})
}
