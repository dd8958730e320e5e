package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nexuscloud/nexus/internal/storage"
)

const repositoryTimeout = 5 * time.Second

// Repository is the Postgres task journal.
type Repository struct {
	db storage.DB
}

// NewRepository constructs a task journal.
func NewRepository(db storage.DB) *Repository {
	return &Repository{db: db}
}

// Create stores a task. A missing id is generated.
func (r *Repository) Create(ctx context.Context, task Task) (Task, error) {
	if !task.Kind.Valid() || task.OwnerID == "" {
		return Task{}, fmt.Errorf("%w: kind=%q owner=%q", ErrInvalidTask, task.Kind, task.OwnerID)
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}

	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO reconcile_tasks (id, kind, owner_id, file_id, blob_location, reason)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at;`

	err := r.db.QueryRow(ctx, query, task.ID, string(task.Kind), task.OwnerID, task.FileID, task.BlobLocation, task.Reason).
		Scan(&task.CreatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("create reconcile task: %w", err)
	}
	return task, nil
}

// Pending lists unresolved tasks, oldest first.
func (r *Repository) Pending(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT id, kind, owner_id, file_id, blob_location, reason, attempts, last_error, created_at
FROM reconcile_tasks
WHERE resolved_at IS NULL
ORDER BY created_at, id
LIMIT $1;`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var (
			task Task
			kind string
		)
		if err := rows.Scan(&task.ID, &kind, &task.OwnerID, &task.FileID, &task.BlobLocation, &task.Reason, &task.Attempts, &task.LastError, &task.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task.Kind = Kind(kind)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// Resolve marks a task done.
func (r *Repository) Resolve(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
UPDATE reconcile_tasks
SET resolved_at = NOW(), attempts = attempts + 1, last_error = ''
WHERE id = $1 AND resolved_at IS NULL;`, id)
	if err != nil {
		return fmt.Errorf("resolve task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Fail records an unsuccessful attempt.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, cause error) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
UPDATE reconcile_tasks
SET attempts = attempts + 1, last_error = $2
WHERE id = $1 AND resolved_at IS NULL;`, id, reason(cause))
	if err != nil {
		return fmt.Errorf("record task failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}
