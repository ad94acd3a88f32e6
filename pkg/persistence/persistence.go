// Package persistence provides the data storage abstraction for playbooks,
// instances, tasks and schedules.
package persistence

import (
	"context"
	"time"

	"github.com/playbookd/playbookd/pkg/models"
)

// ListInstancesOptions filters instance listings.
type ListInstancesOptions struct {
	PlaybookID string
	TargetID   string
	Status     *models.InstanceStatus
	Limit      int
	Offset     int
}

// Persistence is the single source of truth for execution state. Instance
// mutations go through UpdateInstance, a transactional read-modify-write
// scoped to one instance, so concurrent workers operating on different
// instances never need coordination beyond the single-flight ownership check.
type Persistence interface {
	// Playbooks.
	SavePlaybook(ctx context.Context, playbook *models.Playbook) error
	PlaybookByID(ctx context.Context, id string) (*models.Playbook, error)
	Playbooks(ctx context.Context) ([]*models.Playbook, error)
	ActivePlaybooks(ctx context.Context) ([]*models.Playbook, error)

	// Instances.
	//
	// CreateInstance enforces the one-active-instance-per-(playbook, target)
	// invariant atomically and returns ErrDuplicateActiveInstance on
	// violation.
	CreateInstance(ctx context.Context, instance *models.Instance) error
	InstanceByID(ctx context.Context, id string) (*models.Instance, error)
	UpdateInstance(ctx context.Context, id string, mutate func(*models.Instance) error) (*models.Instance, error)
	ListInstances(ctx context.Context, opts ListInstancesOptions) ([]*models.Instance, error)
	// ResumableInstances returns non-terminal instances whose resume_at has
	// elapsed.
	ResumableInstances(ctx context.Context, now time.Time) ([]*models.Instance, error)
	// WaitingInstances returns suspended instances for a target that carry
	// the waiting_for_reply flag, for early resumption on inbound messages.
	WaitingInstances(ctx context.Context, targetID string) ([]*models.Instance, error)
	// StuckInstances returns executing instances with no progress since the
	// given cutoff, for the expiry sweep.
	StuckInstances(ctx context.Context, cutoff time.Time) ([]*models.Instance, error)
	// OrphanedInstances returns instances left in executing status, for
	// crash recovery at startup.
	OrphanedInstances(ctx context.Context) ([]*models.Instance, error)

	// Tasks.
	SaveTask(ctx context.Context, task *models.Task) error
	TasksByInstance(ctx context.Context, instanceID string) ([]*models.Task, error)
	// CountFailedAttempts returns how many failed tasks exist for a step of
	// an instance, which seeds the retry count of the next attempt.
	CountFailedAttempts(ctx context.Context, instanceID, stepID string) (int, error)

	// Schedules.
	SaveSchedule(ctx context.Context, schedule *models.Schedule) error
	ScheduleByID(ctx context.Context, id string) (*models.Schedule, error)
	Schedules(ctx context.Context) ([]*models.Schedule, error)
	DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
