// Package postgresql provides PostgreSQL persistence for playbooks,
// instances, tasks and schedules.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
	"github.com/playbookd/playbookd/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	playbookRepo *PlaybookRepository
	instanceRepo *InstanceRepository
	taskRepo     *TaskRepository
	scheduleRepo *ScheduleRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs pending
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		playbookRepo: NewPlaybookRepository(database, logger),
		instanceRepo: NewInstanceRepository(database, logger),
		taskRepo:     NewTaskRepository(database, logger),
		scheduleRepo: NewScheduleRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) SavePlaybook(ctx context.Context, playbook *models.Playbook) error {
	return p.playbookRepo.Save(ctx, playbook)
}

func (p *Persistence) PlaybookByID(ctx context.Context, id string) (*models.Playbook, error) {
	return p.playbookRepo.GetByID(ctx, id)
}

func (p *Persistence) Playbooks(ctx context.Context) ([]*models.Playbook, error) {
	return p.playbookRepo.GetAll(ctx, false)
}

func (p *Persistence) ActivePlaybooks(ctx context.Context) ([]*models.Playbook, error) {
	return p.playbookRepo.GetAll(ctx, true)
}

func (p *Persistence) CreateInstance(ctx context.Context, instance *models.Instance) error {
	return p.instanceRepo.Create(ctx, instance)
}

func (p *Persistence) InstanceByID(ctx context.Context, id string) (*models.Instance, error) {
	return p.instanceRepo.GetByID(ctx, id)
}

func (p *Persistence) UpdateInstance(ctx context.Context, id string, mutate func(*models.Instance) error) (*models.Instance, error) {
	return p.instanceRepo.Update(ctx, id, mutate)
}

func (p *Persistence) ListInstances(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.Instance, error) {
	return p.instanceRepo.List(ctx, opts)
}

func (p *Persistence) ResumableInstances(ctx context.Context, now time.Time) ([]*models.Instance, error) {
	return p.instanceRepo.Resumable(ctx, now)
}

func (p *Persistence) WaitingInstances(ctx context.Context, targetID string) ([]*models.Instance, error) {
	return p.instanceRepo.Waiting(ctx, targetID)
}

func (p *Persistence) StuckInstances(ctx context.Context, cutoff time.Time) ([]*models.Instance, error) {
	return p.instanceRepo.Stuck(ctx, cutoff)
}

func (p *Persistence) OrphanedInstances(ctx context.Context) ([]*models.Instance, error) {
	return p.instanceRepo.Orphaned(ctx)
}

func (p *Persistence) SaveTask(ctx context.Context, task *models.Task) error {
	return p.taskRepo.Save(ctx, task)
}

func (p *Persistence) TasksByInstance(ctx context.Context, instanceID string) ([]*models.Task, error) {
	return p.taskRepo.GetByInstance(ctx, instanceID)
}

func (p *Persistence) CountFailedAttempts(ctx context.Context, instanceID, stepID string) (int, error) {
	return p.taskRepo.CountFailedAttempts(ctx, instanceID, stepID)
}

func (p *Persistence) SaveSchedule(ctx context.Context, schedule *models.Schedule) error {
	return p.scheduleRepo.Save(ctx, schedule)
}

func (p *Persistence) ScheduleByID(ctx context.Context, id string) (*models.Schedule, error) {
	return p.scheduleRepo.GetByID(ctx, id)
}

func (p *Persistence) Schedules(ctx context.Context) ([]*models.Schedule, error) {
	return p.scheduleRepo.GetAll(ctx)
}

func (p *Persistence) DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	return p.scheduleRepo.Due(ctx, now)
}
