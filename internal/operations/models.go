package operations

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an async operation. Completed and
// failed are terminal.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the status can no longer change
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Operation tracks a long-running background task such as a map
// generation
type Operation struct {
	ID                  uuid.UUID       `json:"id"`
	OperationType       string          `json:"operation_type"`
	Status              Status          `json:"status"`
	ProgressPercent     int             `json:"progress_percent"`
	StartedAt           time.Time       `json:"started_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time      `json:"estimated_completion,omitempty"`
	Result              json.RawMessage `json:"result,omitempty"`
	Error               string          `json:"error,omitempty"`
	UserID              *uuid.UUID      `json:"user_id,omitempty"`
}

// OperationStats aggregates operations by status for one or all types
type OperationStats struct {
	Total      int64 `json:"total"`
	InProgress int64 `json:"in_progress"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}
