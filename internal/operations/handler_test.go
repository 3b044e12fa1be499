package operations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	ops map[uuid.UUID]*Operation

	listedActiveOnly bool
	listedType       string
	listedLimit      int
}

func newFakeStore(ops ...*Operation) *fakeStore {
	s := &fakeStore{ops: make(map[uuid.UUID]*Operation)}
	for _, op := range ops {
		s.ops[op.ID] = op
	}
	return s
}

func (s *fakeStore) Create(ctx context.Context, operationType string, userID *uuid.UUID, estimatedCompletion *time.Time) (*Operation, error) {
	op := &Operation{
		ID:                  uuid.New(),
		OperationType:       operationType,
		Status:              StatusInProgress,
		StartedAt:           time.Now(),
		EstimatedCompletion: estimatedCompletion,
		UserID:              userID,
	}
	s.ops[op.ID] = op
	return op, nil
}

func (s *fakeStore) Get(ctx context.Context, id uuid.UUID) (*Operation, error) {
	return s.ops[id], nil
}

func (s *fakeStore) UpdateProgress(ctx context.Context, id uuid.UUID, percent int, estimatedCompletion *time.Time) error {
	return nil
}

func (s *fakeStore) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	return nil
}

func (s *fakeStore) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	return nil
}

func (s *fakeStore) List(ctx context.Context, activeOnly bool, operationType string, limit int) ([]Operation, error) {
	s.listedActiveOnly = activeOnly
	s.listedType = operationType
	s.listedLimit = limit

	var out []Operation
	for _, op := range s.ops {
		if activeOnly && op.Status.IsTerminal() {
			continue
		}
		out = append(out, *op)
	}
	return out, nil
}

func (s *fakeStore) Stats(ctx context.Context, operationType string) (*OperationStats, error) {
	stats := &OperationStats{}
	for _, op := range s.ops {
		stats.Total++
		switch op.Status {
		case StatusInProgress:
			stats.InProgress++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *fakeStore) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (s *fakeStore) CleanupStale(ctx context.Context, inProgressFor time.Duration) (int64, error) {
	return 0, nil
}

func newTestRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(store).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func performRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestGetOperationReturnsOperation(t *testing.T) {
	op := &Operation{
		ID:            uuid.New(),
		OperationType: "map_generation",
		Status:        StatusCompleted,
		StartedAt:     time.Now(),
	}
	router := newTestRouter(newFakeStore(op))

	w := performRequest(router, http.MethodGet, "/api/v1/operations/"+op.ID.String())
	require.Equal(t, http.StatusOK, w.Code)

	var got Operation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestGetOperationNotFound(t *testing.T) {
	router := newTestRouter(newFakeStore())

	w := performRequest(router, http.MethodGet, "/api/v1/operations/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOperationRejectsBadID(t *testing.T) {
	router := newTestRouter(newFakeStore())

	w := performRequest(router, http.MethodGet, "/api/v1/operations/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListOperationsFiltersActive(t *testing.T) {
	store := newFakeStore(
		&Operation{ID: uuid.New(), OperationType: "map_generation", Status: StatusInProgress},
		&Operation{ID: uuid.New(), OperationType: "map_generation", Status: StatusCompleted},
	)
	router := newTestRouter(store)

	w := performRequest(router, http.MethodGet, "/api/v1/operations?active_only=true&limit=10")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Operations []*Operation `json:"operations"`
		Count      int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.True(t, store.listedActiveOnly)
	assert.Equal(t, 10, store.listedLimit)
}

func TestListOperationsDefaultsLimit(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(store)

	w := performRequest(router, http.MethodGet, "/api/v1/operations")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, store.listedLimit)
}

func TestGetStatsCountsByStatus(t *testing.T) {
	router := newTestRouter(newFakeStore(
		&Operation{ID: uuid.New(), Status: StatusInProgress},
		&Operation{ID: uuid.New(), Status: StatusCompleted},
		&Operation{ID: uuid.New(), Status: StatusFailed},
	))

	w := performRequest(router, http.MethodGet, "/api/v1/operations/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var stats OperationStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.InProgress)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestStatusTerminality(t *testing.T) {
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}
