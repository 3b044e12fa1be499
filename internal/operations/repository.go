package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the PostgreSQL-backed operation store
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new operation repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const operationColumns = `
	id, operation_type, status, progress_percent, started_at,
	completed_at, estimated_completion, result, COALESCE(error, ''), user_id
`

func scanOperation(row interface{ Scan(dest ...any) error }) (*Operation, error) {
	op := &Operation{}
	err := row.Scan(
		&op.ID, &op.OperationType, &op.Status, &op.ProgressPercent, &op.StartedAt,
		&op.CompletedAt, &op.EstimatedCompletion, &op.Result, &op.Error, &op.UserID,
	)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// Create inserts a new in_progress operation
func (r *Repository) Create(ctx context.Context, operationType string, userID *uuid.UUID, estimatedCompletion *time.Time) (*Operation, error) {
	query := fmt.Sprintf(`
		INSERT INTO async_operations (id, operation_type, status, progress_percent, estimated_completion, user_id)
		VALUES ($1, $2, $3, 0, $4, $5)
		RETURNING %s
	`, operationColumns)

	op, err := scanOperation(r.db.QueryRow(ctx, query,
		uuid.New(), operationType, StatusInProgress, estimatedCompletion, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to create operation: %w", err)
	}
	return op, nil
}

// Get loads one operation, or nil when absent
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Operation, error) {
	query := fmt.Sprintf(`SELECT %s FROM async_operations WHERE id = $1`, operationColumns)
	op, err := scanOperation(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// UpdateProgress advances progress_percent. The status predicate makes
// updates against terminal operations silent no-ops.
func (r *Repository) UpdateProgress(ctx context.Context, id uuid.UUID, percent int, estimatedCompletion *time.Time) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := r.db.Exec(ctx, `
		UPDATE async_operations
		SET progress_percent = $2,
			estimated_completion = COALESCE($3, estimated_completion)
		WHERE id = $1 AND status = $4
	`, id, percent, estimatedCompletion, StatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to update operation progress: %w", err)
	}
	return nil
}

// Complete transitions the operation to completed with its result.
// Idempotent: an already-terminal operation is left unchanged.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	_, err := r.db.Exec(ctx, `
		UPDATE async_operations
		SET status = $2, progress_percent = 100, completed_at = NOW(), result = $3
		WHERE id = $1 AND status = $4
	`, id, StatusCompleted, result, StatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to complete operation: %w", err)
	}
	return nil
}

// Fail transitions the operation to failed with an error message.
// Idempotent like Complete.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE async_operations
		SET status = $2, completed_at = NOW(), error = $3
		WHERE id = $1 AND status = $4
	`, id, StatusFailed, errorMessage, StatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to fail operation: %w", err)
	}
	return nil
}

// List returns operations newest first, optionally only active ones and
// optionally filtered by type
func (r *Repository) List(ctx context.Context, activeOnly bool, operationType string, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM async_operations
		WHERE ($1 = false OR status = $2)
			AND ($3 = '' OR operation_type = $3)
		ORDER BY started_at DESC
		LIMIT $4
	`, operationColumns)

	rows, err := r.db.Query(ctx, query, activeOnly, StatusInProgress, operationType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

// Stats aggregates operation counts by status
func (r *Repository) Stats(ctx context.Context, operationType string) (*OperationStats, error) {
	stats := &OperationStats{}
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4)
		FROM async_operations
		WHERE ($1 = '' OR operation_type = $1)
	`, operationType, StatusInProgress, StatusCompleted, StatusFailed).
		Scan(&stats.Total, &stats.InProgress, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation stats: %w", err)
	}
	return stats, nil
}

// CleanupOld deletes terminal operations older than the given age
func (r *Repository) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM async_operations
		WHERE status IN ($1, $2) AND started_at < NOW() - $3::interval
	`, StatusCompleted, StatusFailed, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old operations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CleanupStale force-fails operations stuck in_progress beyond the given
// age
func (r *Repository) CleanupStale(ctx context.Context, inProgressFor time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE async_operations
		SET status = $1, completed_at = NOW(), error = 'operation timed out'
		WHERE status = $2 AND started_at < NOW() - $3::interval
	`, StatusFailed, StatusInProgress, inProgressFor.String())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale operations: %w", err)
	}
	return tag.RowsAffected(), nil
}
