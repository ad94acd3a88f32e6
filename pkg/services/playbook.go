package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
)

// Playbook implements playbook lifecycle management: creation, editing while
// draft, activation gating and pausing.
type Playbook struct {
	persistence persistence.Persistence
	validate    *validator.Validate
}

// NewPlaybook creates a playbook service.
func NewPlaybook(store persistence.Persistence) *Playbook {
	return &Playbook{
		persistence: store,
		validate:    validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Playbook) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create stores a new playbook in draft status. Steps are allowed to be
// incomplete at this point; structural validation gates activation, not
// creation.
func (s *Playbook) Create(ctx context.Context, playbook *models.Playbook) (*models.Playbook, error) {
	if playbook == nil {
		return nil, ErrInvalidRequest
	}

	if playbook.ID == "" {
		playbook.ID = uuid.New().String()
	}

	if playbook.Type == "" {
		playbook.Type = models.PlaybookTypeCustom
	}

	playbook.Status = models.PlaybookStatusDraft

	now := time.Now().UTC()
	playbook.CreatedAt = now
	playbook.UpdatedAt = now

	if err := s.validate.Struct(playbook); err != nil {
		return nil, NewValidationError("Create", "INVALID_PLAYBOOK", err.Error(), ErrInvalidRequest)
	}

	if err := s.persistence.SavePlaybook(ctx, playbook); err != nil {
		return nil, fmt.Errorf("failed to save playbook: %w", err)
	}

	return playbook, nil
}

// Update replaces the mutable fields of a playbook. Step edits are rejected
// while the playbook is active: in-flight instances address steps by id and
// the step list is treated as immutable after activation.
func (s *Playbook) Update(ctx context.Context, id string, apply func(*models.Playbook) error) (*models.Playbook, error) {
	playbook, err := s.persistence.PlaybookByID(ctx, id)
	if err != nil {
		return nil, err
	}

	stepsBefore := len(playbook.Steps)

	if err := apply(playbook); err != nil {
		return nil, err
	}

	if playbook.IsActive() && len(playbook.Steps) != stepsBefore {
		return nil, ErrPlaybookNotEditable
	}

	if err := s.validate.Struct(playbook); err != nil {
		return nil, NewValidationError("Update", "INVALID_PLAYBOOK", err.Error(), ErrInvalidRequest)
	}

	playbook.UpdatedAt = time.Now().UTC()

	if err := s.persistence.SavePlaybook(ctx, playbook); err != nil {
		return nil, fmt.Errorf("failed to save playbook: %w", err)
	}

	return playbook, nil
}

// Activate validates the step structure and transitions the playbook to
// active. A playbook that fails validation stays in its current status.
func (s *Playbook) Activate(ctx context.Context, id string) (*models.Playbook, error) {
	playbook, err := s.persistence.PlaybookByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := playbook.ValidateSteps(); err != nil {
		return nil, NewValidationError("Activate", "INVALID_STEPS", err.Error(), err)
	}

	playbook.Status = models.PlaybookStatusActive
	playbook.UpdatedAt = time.Now().UTC()

	if err := s.persistence.SavePlaybook(ctx, playbook); err != nil {
		return nil, fmt.Errorf("failed to save playbook: %w", err)
	}

	return playbook, nil
}

// Pause stops the playbook from spawning new instances. In-flight instances
// keep running to completion.
func (s *Playbook) Pause(ctx context.Context, id string) (*models.Playbook, error) {
	return s.transition(ctx, id, models.PlaybookStatusPaused)
}

// Archive retires the playbook permanently.
func (s *Playbook) Archive(ctx context.Context, id string) (*models.Playbook, error) {
	return s.transition(ctx, id, models.PlaybookStatusArchived)
}

func (s *Playbook) transition(ctx context.Context, id string, status models.PlaybookStatus) (*models.Playbook, error) {
	playbook, err := s.persistence.PlaybookByID(ctx, id)
	if err != nil {
		return nil, err
	}

	playbook.Status = status
	playbook.UpdatedAt = time.Now().UTC()

	if err := s.persistence.SavePlaybook(ctx, playbook); err != nil {
		return nil, fmt.Errorf("failed to save playbook: %w", err)
	}

	return playbook, nil
}

// Get returns one playbook.
func (s *Playbook) Get(ctx context.Context, id string) (*models.Playbook, error) {
	return s.persistence.PlaybookByID(ctx, id)
}

// List returns all playbooks.
func (s *Playbook) List(ctx context.Context) ([]*models.Playbook, error) {
	return s.persistence.Playbooks(ctx)
}
