package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
)

// ScheduleRepository handles schedule-related database operations.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

const scheduleColumns = `
	id
  , playbook_id
  , organization_id
  , name
  , description
  , cron_expression
  , target_filter
  , active
  , execution_count
  , success_count
  , last_execution_at
  , next_execution_at
  , created_at
  , updated_at
`

// Save upserts a schedule.
func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	now := time.Now().UTC()

	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	filterJSON, err := json.Marshal(schedule.TargetFilter)
	if err != nil {
		return fmt.Errorf("failed to marshal target filter: %w", err)
	}

	query := `
		INSERT INTO schedules (
			id, playbook_id, organization_id, name, description,
			cron_expression, target_filter, active, execution_count,
			success_count, last_execution_at, next_execution_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			cron_expression = EXCLUDED.cron_expression,
			target_filter = EXCLUDED.target_filter,
			active = EXCLUDED.active,
			execution_count = EXCLUDED.execution_count,
			success_count = EXCLUDED.success_count,
			last_execution_at = EXCLUDED.last_execution_at,
			next_execution_at = EXCLUDED.next_execution_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.PlaybookID,
		schedule.OrganizationID,
		schedule.Name,
		schedule.Description,
		schedule.CronExpression,
		filterJSON,
		schedule.Active,
		schedule.ExecutionCount,
		schedule.SuccessCount,
		nullableTime(schedule.LastExecutionAt),
		nullableTime(schedule.NextExecutionAt),
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	return nil
}

// GetByID returns a schedule by its ID.
func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	return schedule, nil
}

// GetAll returns every schedule.
func (r *ScheduleRepository) GetAll(ctx context.Context) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at ASC`

	return r.querySchedules(ctx, query)
}

// Due returns active schedules whose next execution time has arrived. A
// schedule that never computed one is treated as immediately due.
func (r *ScheduleRepository) Due(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE active
		  AND (next_execution_at IS NULL OR next_execution_at <= $1)
		ORDER BY next_execution_at ASC NULLS FIRST
	`

	return r.querySchedules(ctx, query, now)
}

func (r *ScheduleRepository) querySchedules(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var (
		schedule        models.Schedule
		filterJSON      []byte
		lastExecutionAt sql.NullTime
		nextExecutionAt sql.NullTime
	)

	err := row.Scan(
		&schedule.ID,
		&schedule.PlaybookID,
		&schedule.OrganizationID,
		&schedule.Name,
		&schedule.Description,
		&schedule.CronExpression,
		&filterJSON,
		&schedule.Active,
		&schedule.ExecutionCount,
		&schedule.SuccessCount,
		&lastExecutionAt,
		&nextExecutionAt,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(filterJSON, &schedule.TargetFilter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target filter: %w", err)
	}

	if lastExecutionAt.Valid {
		schedule.LastExecutionAt = &lastExecutionAt.Time
	}

	if nextExecutionAt.Valid {
		schedule.NextExecutionAt = &nextExecutionAt.Time
	}

	return &schedule, nil
}
