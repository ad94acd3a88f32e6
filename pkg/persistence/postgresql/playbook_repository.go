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

// PlaybookRepository handles playbook-related database operations.
type PlaybookRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPlaybookRepository creates a new playbook repository.
func NewPlaybookRepository(db *sql.DB, logger *slog.Logger) *PlaybookRepository {
	return &PlaybookRepository{db: db, logger: logger}
}

const playbookColumns = `
	id
  , organization_id
  , owner
  , name
  , description
  , type
  , status
  , steps
  , trigger_config
  , total_instances
  , active_instances
  , last_used_at
  , created_at
  , updated_at
`

// GetAll returns playbooks, optionally only the active ones.
func (r *PlaybookRepository) GetAll(ctx context.Context, activeOnly bool) ([]*models.Playbook, error) {
	query := `SELECT ` + playbookColumns + ` FROM playbooks`
	args := []any{}

	if activeOnly {
		query += ` WHERE status = $1`
		args = append(args, string(models.PlaybookStatusActive))
	}

	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playbooks: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	playbooks := make([]*models.Playbook, 0)

	for rows.Next() {
		playbook, err := scanPlaybook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playbook: %w", err)
		}

		playbooks = append(playbooks, playbook)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating playbooks: %w", err)
	}

	return playbooks, nil
}

// GetByID returns a playbook by its ID.
func (r *PlaybookRepository) GetByID(ctx context.Context, id string) (*models.Playbook, error) {
	query := `SELECT ` + playbookColumns + ` FROM playbooks WHERE id = $1`

	playbook, err := scanPlaybook(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrPlaybookNotFound
		}

		return nil, fmt.Errorf("failed to scan playbook: %w", err)
	}

	return playbook, nil
}

// Save upserts a playbook.
func (r *PlaybookRepository) Save(ctx context.Context, playbook *models.Playbook) error {
	now := time.Now().UTC()

	if playbook.CreatedAt.IsZero() {
		playbook.CreatedAt = now
	}

	playbook.UpdatedAt = now

	stepsJSON, err := json.Marshal(playbook.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	triggerJSON, err := json.Marshal(playbook.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	query := `
		INSERT INTO playbooks (
			id, organization_id, owner, name, description, type, status,
			steps, trigger_config, total_instances, active_instances,
			last_used_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			steps = EXCLUDED.steps,
			trigger_config = EXCLUDED.trigger_config,
			total_instances = EXCLUDED.total_instances,
			active_instances = EXCLUDED.active_instances,
			last_used_at = EXCLUDED.last_used_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		playbook.ID,
		playbook.OrganizationID,
		playbook.Owner,
		playbook.Name,
		playbook.Description,
		string(playbook.Type),
		string(playbook.Status),
		stepsJSON,
		triggerJSON,
		playbook.TotalInstances,
		playbook.ActiveInstances,
		nullableTime(playbook.LastUsedAt),
		playbook.CreatedAt,
		playbook.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save playbook: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlaybook(row rowScanner) (*models.Playbook, error) {
	var (
		playbook    models.Playbook
		stepsJSON   []byte
		triggerJSON []byte
		lastUsedAt  sql.NullTime
	)

	err := row.Scan(
		&playbook.ID,
		&playbook.OrganizationID,
		&playbook.Owner,
		&playbook.Name,
		&playbook.Description,
		&playbook.Type,
		&playbook.Status,
		&stepsJSON,
		&triggerJSON,
		&playbook.TotalInstances,
		&playbook.ActiveInstances,
		&lastUsedAt,
		&playbook.CreatedAt,
		&playbook.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &playbook.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if err := json.Unmarshal(triggerJSON, &playbook.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
	}

	if lastUsedAt.Valid {
		playbook.LastUsedAt = &lastUsedAt.Time
	}

	return &playbook, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
