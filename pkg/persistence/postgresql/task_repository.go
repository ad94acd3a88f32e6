package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/playbookd/playbookd/pkg/models"
)

// TaskRepository handles task-related database operations. Tasks are an
// append-only audit trail; rows are inserted or updated in place per attempt
// but never deleted.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *sql.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

const taskColumns = `
	id
  , instance_id
  , step_id
  , step_name
  , action
  , status
  , retry_count
  , max_retries
  , input
  , output
  , error_message
  , scheduled_at
  , started_at
  , completed_at
`

// Save upserts a task record.
func (r *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	inputJSON, err := marshalNullable(task.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal task input: %w", err)
	}

	outputJSON, err := marshalNullable(task.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal task output: %w", err)
	}

	query := `
		INSERT INTO tasks (
			id, instance_id, step_id, step_name, action, status,
			retry_count, max_retries, input, output, error_message,
			scheduled_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			output = EXCLUDED.output,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID,
		task.InstanceID,
		task.StepID,
		task.StepName,
		string(task.Action),
		string(task.Status),
		task.RetryCount,
		task.MaxRetries,
		inputJSON,
		outputJSON,
		task.ErrorMessage,
		task.ScheduledAt,
		nullableTime(task.StartedAt),
		nullableTime(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

// GetByInstance returns the attempt history of an instance in creation order.
func (r *TaskRepository) GetByInstance(ctx context.Context, instanceID string) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE instance_id = $1
		ORDER BY scheduled_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// CountFailedAttempts returns the number of failed tasks for one step of one
// instance.
func (r *TaskRepository) CountFailedAttempts(ctx context.Context, instanceID, stepID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM tasks
		WHERE instance_id = $1 AND step_id = $2 AND status = 'failed'
	`

	var count int

	err := r.db.QueryRowContext(ctx, query, instanceID, stepID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed attempts: %w", err)
	}

	return count, nil
}

func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}

	return json.Marshal(m)
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task        models.Task
		inputJSON   []byte
		outputJSON  []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.InstanceID,
		&task.StepID,
		&task.StepName,
		&task.Action,
		&task.Status,
		&task.RetryCount,
		&task.MaxRetries,
		&inputJSON,
		&outputJSON,
		&task.ErrorMessage,
		&task.ScheduledAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &task.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task input: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &task.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task output: %w", err)
		}
	}

	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}

	return &task, nil
}
