package operations

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Store persists async operations. Terminal transitions are guarded in
// SQL so concurrent terminators never regress a completed operation.
type Store interface {
	Create(ctx context.Context, operationType string, userID *uuid.UUID, estimatedCompletion *time.Time) (*Operation, error)
	Get(ctx context.Context, id uuid.UUID) (*Operation, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, percent int, estimatedCompletion *time.Time) error
	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error
	List(ctx context.Context, activeOnly bool, operationType string, limit int) ([]Operation, error)
	Stats(ctx context.Context, operationType string) (*OperationStats, error)
	CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error)
	CleanupStale(ctx context.Context, inProgressFor time.Duration) (int64, error)
}
