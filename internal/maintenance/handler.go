package maintenance

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mapalinear/mapalinear/internal/geocache"
	"github.com/mapalinear/mapalinear/pkg/common"
)

// AdminCache is the cache surface exposed on the admin endpoints
type AdminCache interface {
	InvalidatePattern(ctx context.Context, pattern string) (int64, error)
	Clear(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*geocache.Stats, error)
}

// Handler exposes maintenance tasks and cache administration over HTTP
type Handler struct {
	service *Service
	cache   AdminCache
}

// NewHandler creates a new maintenance handler
func NewHandler(service *Service, cache AdminCache) *Handler {
	return &Handler{service: service, cache: cache}
}

// RegisterRoutes attaches the admin endpoints to the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/maintenance/run", h.RunAll)
	rg.POST("/maintenance/orphan-pois", h.task(h.service.CleanupOrphanPOIs))
	rg.POST("/maintenance/orphan-segments", h.task(h.service.CleanupOrphanSegments))
	rg.POST("/maintenance/repair-references", h.task(h.service.RepairPOIReferences))
	rg.POST("/maintenance/operations", h.task(h.service.CleanupOperations))
	rg.POST("/maintenance/cache-expiry", h.task(h.service.CleanupExpiredCache))

	rg.GET("/cache/stats", h.CacheStats)
	rg.POST("/cache/invalidate", h.InvalidateCache)
	rg.POST("/cache/clear", h.ClearCache)
}

func dryRunOf(c *gin.Context) bool {
	return c.DefaultQuery("dry_run", "true") == "true"
}

func (h *Handler) task(run func(context.Context, bool) (*TaskResult, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := run(c.Request.Context(), dryRunOf(c))
		if common.HandleServiceError(c, err, "Maintenance task failed") {
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// RunAll executes every maintenance task
func (h *Handler) RunAll(c *gin.Context) {
	results := h.service.RunAll(c.Request.Context(), dryRunOf(c))
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// CacheStats returns hit/miss counters and row counts
func (h *Handler) CacheStats(c *gin.Context) {
	stats, err := h.cache.Stats(c.Request.Context())
	if common.HandleServiceError(c, err, "Failed to load cache stats") {
		return
	}
	c.JSON(http.StatusOK, stats)
}

// InvalidateCache deletes cache entries matching a glob pattern
func (h *Handler) InvalidateCache(c *gin.Context) {
	var req struct {
		Pattern string `json:"pattern" binding:"required"`
	}
	if !common.BindJSON(c, &req) {
		return
	}

	deleted, err := h.cache.InvalidatePattern(c.Request.Context(), req.Pattern)
	if common.HandleServiceError(c, err, "Failed to invalidate cache") {
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// ClearCache deletes every cache entry
func (h *Handler) ClearCache(c *gin.Context) {
	deleted, err := h.cache.Clear(c.Request.Context())
	if common.HandleServiceError(c, err, "Failed to clear cache") {
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
