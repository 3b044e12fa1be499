package linearmap

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mapalinear/mapalinear/pkg/common"
)

// Handler handles HTTP requests for linear maps
type Handler struct {
	service *Service
}

// NewHandler creates a new maps handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes attaches the map endpoints to the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/maps", h.GenerateMap)
	rg.GET("/maps", h.ListMaps)
	rg.GET("/maps/:id", h.GetMap)
	rg.GET("/maps/:id/stats", h.GetMapStats)
	rg.POST("/maps/:id/regenerate", h.RegenerateMap)
	rg.DELETE("/maps/:id", h.DeleteMap)
	rg.GET("/maps/:id/pdf", h.ExportPDF)
}

// GenerateMap starts a background map generation and returns the
// operation id to poll
func (h *Handler) GenerateMap(c *gin.Context) {
	var req GenerateRequest
	if !common.BindJSON(c, &req) {
		return
	}
	req.UserID = userIDFromContext(c)

	op, err := h.service.StartGeneration(c.Request.Context(), req)
	if common.HandleServiceError(c, err, "Failed to start map generation") {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"operation_id": op.ID,
		"status":       op.Status,
	})
}

// ListMaps returns the caller's maps, newest first
func (h *Handler) ListMaps(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	maps, err := h.service.maps.ListMaps(c.Request.Context(), userIDFromContext(c), limit, offset)
	if common.HandleServiceError(c, err, "Failed to list maps") {
		return
	}
	c.JSON(http.StatusOK, gin.H{"maps": maps, "count": len(maps)})
}

// GetMap returns a full map with its segments and POIs
func (h *Handler) GetMap(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "map ID")
	if !ok {
		return
	}

	m, err := h.service.maps.GetMap(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "Failed to load map") {
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Map not found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// GetMapStats returns POI and segment summaries for a map
func (h *Handler) GetMapStats(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "map ID")
	if !ok {
		return
	}

	m, err := h.service.maps.GetMap(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "Failed to load map") {
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Map not found"})
		return
	}

	result := &AssembleResult{MapSegments: m.Segments, MapPOIs: m.POIs}
	c.JSON(http.StatusOK, Stats(result, m.TotalLengthKm))
}

// RegenerateMap deletes the map and rebuilds it in the background
func (h *Handler) RegenerateMap(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "map ID")
	if !ok {
		return
	}

	op, err := h.service.Regenerate(c.Request.Context(), id, userIDFromContext(c))
	if common.HandleServiceError(c, err, "Failed to regenerate map") {
		return
	}
	if op == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Map not found"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"operation_id": op.ID,
		"status":       op.Status,
	})
}

// DeleteMap removes a map and releases its segments
func (h *Handler) DeleteMap(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "map ID")
	if !ok {
		return
	}

	err := h.service.Delete(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "Failed to delete map") {
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ExportPDF is not served by this binary; rendering lives in the
// companion export service
func (h *Handler) ExportPDF(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "map ID")
	if !ok {
		return
	}

	m, err := h.service.maps.GetMap(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "Failed to load map") {
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Map not found"})
		return
	}
	c.JSON(http.StatusNotImplemented, gin.H{"error": "PDF export is not available on this server"})
}

// userIDFromContext reads the authenticated user, when one is present
func userIDFromContext(c *gin.Context) *uuid.UUID {
	value, exists := c.Get("user_id")
	if !exists {
		return nil
	}
	id, ok := value.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}
