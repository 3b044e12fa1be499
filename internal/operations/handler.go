package operations

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mapalinear/mapalinear/pkg/common"
)

// Handler handles HTTP requests for async operations
type Handler struct {
	store Store
}

// NewHandler creates a new operations handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes attaches the operation endpoints to the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/operations", h.ListOperations)
	rg.GET("/operations/stats", h.GetStats)
	rg.GET("/operations/:id", h.GetOperation)
}

// GetOperation returns the status, progress, and result of one operation
func (h *Handler) GetOperation(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "operation ID")
	if !ok {
		return
	}

	op, err := h.store.Get(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "Failed to load operation") {
		return
	}
	if op == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Operation not found"})
		return
	}
	c.JSON(http.StatusOK, op)
}

// ListOperations returns recent operations, optionally only active ones
func (h *Handler) ListOperations(c *gin.Context) {
	activeOnly := c.Query("active_only") == "true"
	operationType := c.Query("type")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	ops, err := h.store.List(c.Request.Context(), activeOnly, operationType, limit)
	if common.HandleServiceError(c, err, "Failed to list operations") {
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops, "count": len(ops)})
}

// GetStats returns operation counts by status
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context(), c.Query("type"))
	if common.HandleServiceError(c, err, "Failed to load operation stats") {
		return
	}
	c.JSON(http.StatusOK, stats)
}
