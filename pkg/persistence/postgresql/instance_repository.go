package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
)

const uniqueViolationCode = "23505"

// InstanceRepository handles instance-related database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const instanceColumns = `
	id
  , playbook_id
  , organization_id
  , channel_id
  , target_id
  , name
  , current_step_id
  , current_step_index
  , status
  , progress
  , variables
  , result
  , error_message
  , retry_count
  , resume_at
  , created_at
  , updated_at
  , started_at
  , completed_at
`

// Create inserts a new instance. The partial unique index on
// (playbook_id, target_id) rejects a second active instance for the same
// pair; that violation maps to ErrDuplicateActiveInstance.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.Instance) error {
	now := time.Now().UTC()

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	variablesJSON, resultJSON, err := marshalInstanceJSON(instance)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO instances (
			id, playbook_id, organization_id, channel_id, target_id, name,
			current_step_id, current_step_index, status, progress,
			variables, result, error_message, retry_count, resume_at,
			created_at, updated_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.PlaybookID,
		instance.OrganizationID,
		instance.ChannelID,
		instance.TargetID,
		instance.Name,
		instance.CurrentStepID,
		instance.CurrentStepIndex,
		string(instance.Status),
		instance.Progress,
		variablesJSON,
		resultJSON,
		instance.ErrorMessage,
		instance.RetryCount,
		nullableTime(instance.ResumeAt),
		instance.CreatedAt,
		instance.UpdatedAt,
		nullableTime(instance.StartedAt),
		nullableTime(instance.CompletedAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			return persistence.ErrDuplicateActiveInstance
		}

		return fmt.Errorf("failed to create instance: %w", err)
	}

	return nil
}

// GetByID returns an instance by its ID.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1`

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

// Update applies a read-modify-write to one instance inside a transaction.
// The row is locked for the duration so two workers can never interleave
// writes to the same instance.
func (r *InstanceRepository) Update(ctx context.Context, id string, mutate func(*models.Instance) error) (*models.Instance, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1 FOR UPDATE`

	instance, err := scanInstance(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = persistence.ErrInstanceNotFound

			return nil, err
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	err = mutate(instance)
	if err != nil {
		return nil, err
	}

	instance.UpdatedAt = time.Now().UTC()

	variablesJSON, resultJSON, err := marshalInstanceJSON(instance)
	if err != nil {
		return nil, err
	}

	updateQuery := `
		UPDATE instances SET
			name = $2,
			current_step_id = $3,
			current_step_index = $4,
			status = $5,
			progress = $6,
			variables = $7,
			result = $8,
			error_message = $9,
			retry_count = $10,
			resume_at = $11,
			updated_at = $12,
			started_at = $13,
			completed_at = $14
		WHERE id = $1
	`

	_, err = tx.ExecContext(ctx, updateQuery,
		instance.ID,
		instance.Name,
		instance.CurrentStepID,
		instance.CurrentStepIndex,
		string(instance.Status),
		instance.Progress,
		variablesJSON,
		resultJSON,
		instance.ErrorMessage,
		instance.RetryCount,
		nullableTime(instance.ResumeAt),
		instance.UpdatedAt,
		nullableTime(instance.StartedAt),
		nullableTime(instance.CompletedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update instance: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit instance update: %w", err)
	}

	return instance, nil
}

// List returns instances matching the given filters, oldest first.
func (r *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE 1 = 1`
	args := []any{}

	if opts.PlaybookID != "" {
		args = append(args, opts.PlaybookID)
		query += fmt.Sprintf(" AND playbook_id = $%d", len(args))
	}

	if opts.TargetID != "" {
		args = append(args, opts.TargetID)
		query += fmt.Sprintf(" AND target_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.queryInstances(ctx, query, args...)
}

// Resumable returns suspended instances whose resume_at has elapsed.
func (r *InstanceRepository) Resumable(ctx context.Context, now time.Time) ([]*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		WHERE status IN ('scheduled', 'executing')
		  AND resume_at IS NOT NULL
		  AND resume_at <= $1
		ORDER BY resume_at ASC
	`

	return r.queryInstances(ctx, query, now)
}

// Waiting returns non-terminal instances for a target that are blocked on an
// inbound reply.
func (r *InstanceRepository) Waiting(ctx context.Context, targetID string) ([]*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		WHERE target_id = $1
		  AND status IN ('pending', 'scheduled', 'executing')
		  AND (variables ->> 'waiting_for_reply')::boolean IS TRUE
	`

	return r.queryInstances(ctx, query, targetID)
}

// Stuck returns executing instances with no write since the cutoff.
func (r *InstanceRepository) Stuck(ctx context.Context, cutoff time.Time) ([]*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		WHERE status = 'executing'
		  AND updated_at < $1
	`

	return r.queryInstances(ctx, query, cutoff)
}

// Orphaned returns instances left in executing status by a previous process.
func (r *InstanceRepository) Orphaned(ctx context.Context) ([]*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		WHERE status = 'executing'
	`

	return r.queryInstances(ctx, query)
}

func (r *InstanceRepository) queryInstances(ctx context.Context, query string, args ...any) ([]*models.Instance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.Instance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func marshalInstanceJSON(instance *models.Instance) ([]byte, []byte, error) {
	variables := instance.Variables
	if variables == nil {
		variables = map[string]any{}
	}

	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal variables: %w", err)
	}

	var resultJSON []byte

	if instance.Result != nil {
		resultJSON, err = json.Marshal(instance.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	return variablesJSON, resultJSON, nil
}

func scanInstance(row rowScanner) (*models.Instance, error) {
	var (
		instance      models.Instance
		variablesJSON []byte
		resultJSON    []byte
		resumeAt      sql.NullTime
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.PlaybookID,
		&instance.OrganizationID,
		&instance.ChannelID,
		&instance.TargetID,
		&instance.Name,
		&instance.CurrentStepID,
		&instance.CurrentStepIndex,
		&instance.Status,
		&instance.Progress,
		&variablesJSON,
		&resultJSON,
		&instance.ErrorMessage,
		&instance.RetryCount,
		&resumeAt,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(variablesJSON, &instance.Variables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &instance.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	if resumeAt.Valid {
		instance.ResumeAt = &resumeAt.Time
	}

	if startedAt.Valid {
		instance.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}

	return &instance, nil
}
