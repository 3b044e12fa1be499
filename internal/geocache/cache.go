package geocache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/logger"
	"github.com/mapalinear/mapalinear/pkg/metrics"
	"go.uber.org/zap"
)

const (
	// semanticSimilarityThreshold is the minimum Jaccard word similarity
	// for two geocode addresses to be treated as the same place
	semanticSimilarityThreshold = 0.7
	// fallbackScanLimit caps how many live rows the semantic and spatial
	// scans will examine per lookup
	fallbackScanLimit = 500
	// sweepEveryNWrites triggers an opportunistic expired-row sweep
	sweepEveryNWrites = 100
)

// Cache is the unified geo cache. Lookups try an exact key match first,
// then a semantic fallback for geocode operations and a spatial fallback
// for POI searches. Cache failures are never fatal: reads degrade to a
// miss and writes are skipped.
type Cache struct {
	store Store

	writes       atomic.Int64
	hits         atomic.Int64
	semanticHits atomic.Int64
	spatialHits  atomic.Int64
	misses       atomic.Int64
}

// New creates a cache on top of the given store
func New(store Store) *Cache {
	return &Cache{store: store}
}

// Get looks up a cached response. The boolean is false on miss.
func (c *Cache) Get(ctx context.Context, provider, operation string, params map[string]interface{}) (json.RawMessage, bool) {
	key := Key(provider, operation, params)

	entry, err := c.store.Get(ctx, key)
	if err != nil {
		logger.WarnContext(ctx, "cache read failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		c.recordMiss(operation)
		return nil, false
	}
	if entry != nil {
		c.hits.Add(1)
		metrics.RecordCacheLookup(operation, "hit")
		if err := c.store.IncrementHit(ctx, key); err != nil {
			logger.DebugContext(ctx, "failed to record cache hit", zap.Error(err))
		}
		return entry.Data, true
	}

	if operation == "geocode" {
		if data, ok := c.semanticLookup(ctx, provider, params); ok {
			c.semanticHits.Add(1)
			metrics.RecordCacheLookup(operation, "semantic_hit")
			return data, true
		}
	}
	if operation == "poi_search" {
		if data, ok := c.spatialLookup(ctx, provider, params); ok {
			c.spatialHits.Add(1)
			metrics.RecordCacheLookup(operation, "spatial_hit")
			return data, true
		}
	}

	c.recordMiss(operation)
	return nil, false
}

// Set stores a response with the given TTL. Errors are logged and swallowed.
func (c *Cache) Set(ctx context.Context, provider, operation string, params map[string]interface{}, data json.RawMessage, ttl time.Duration) {
	entry := &Entry{
		Key:       Key(provider, operation, params),
		Provider:  provider,
		Operation: operation,
		Params:    NormalizeParams(params),
		Data:      data,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}

	if err := c.store.Upsert(ctx, entry); err != nil {
		logger.WarnContext(ctx, "cache write failed, skipping",
			zap.String("key", entry.Key), zap.Error(err))
		return
	}

	if c.writes.Add(1)%sweepEveryNWrites == 0 {
		if deleted, err := c.store.DeleteExpired(ctx); err == nil && deleted > 0 {
			logger.DebugContext(ctx, "swept expired cache entries", zap.Int64("deleted", deleted))
		}
	}
}

// InvalidatePattern removes entries whose key matches a glob pattern
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int64, error) {
	return c.store.DeletePattern(ctx, pattern)
}

// Clear removes every cache entry
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	return c.store.DeleteAll(ctx)
}

// CleanupExpired removes entries past their expiry
func (c *Cache) CleanupExpired(ctx context.Context) (int64, error) {
	return c.store.DeleteExpired(ctx)
}

// Stats merges persisted entry counts with in-process lookup counters
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats.Hits = c.hits.Load()
	stats.SemanticHits = c.semanticHits.Load()
	stats.SpatialHits = c.spatialHits.Load()
	stats.Misses = c.misses.Load()
	return stats, nil
}

func (c *Cache) recordMiss(operation string) {
	c.misses.Add(1)
	metrics.RecordCacheLookup(operation, "miss")
}

// semanticLookup scans live geocode rows for an address whose normalized
// word set is close enough to the requested one
func (c *Cache) semanticLookup(ctx context.Context, provider string, params map[string]interface{}) (json.RawMessage, bool) {
	address, ok := params["address"].(string)
	if !ok || address == "" {
		return nil, false
	}
	wanted := NormalizeAddress(address)

	entries, err := c.store.ListLive(ctx, provider, "geocode", fallbackScanLimit)
	if err != nil {
		logger.DebugContext(ctx, "semantic cache scan failed", zap.Error(err))
		return nil, false
	}

	for _, entry := range entries {
		cached, ok := entry.Params["address"].(string)
		if !ok {
			continue
		}
		if JaccardSimilarity(wanted, NormalizeAddress(cached)) > semanticSimilarityThreshold {
			logger.DebugContext(ctx, "semantic cache hit",
				zap.String("requested", address), zap.String("matched", cached))
			return entry.Data, true
		}
	}
	return nil, false
}

// spatialLookup scans live poi_search rows for a search whose center is
// close enough and whose category set is identical
func (c *Cache) spatialLookup(ctx context.Context, provider string, params map[string]interface{}) (json.RawMessage, bool) {
	lat, latOK := toFloat(params["latitude"])
	lon, lonOK := toFloat(params["longitude"])
	radius, radiusOK := toFloat(params["radius"])
	if !latOK || !lonOK || !radiusOK {
		return nil, false
	}
	wantedCategories := toStringSet(params["categories"])

	entries, err := c.store.ListLive(ctx, provider, "poi_search", fallbackScanLimit)
	if err != nil {
		logger.DebugContext(ctx, "spatial cache scan failed", zap.Error(err))
		return nil, false
	}

	for _, entry := range entries {
		cachedLat, ok1 := toFloat(entry.Params["latitude"])
		cachedLon, ok2 := toFloat(entry.Params["longitude"])
		cachedRadius, ok3 := toFloat(entry.Params["radius"])
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		if !sameStringSet(wantedCategories, toStringSet(entry.Params["categories"])) {
			continue
		}
		centerDistance := geo.Haversine(lat, lon, cachedLat, cachedLon)
		if centerDistance < (radius+cachedRadius)/2 {
			return entry.Data, true
		}
	}
	return nil, false
}

func toFloat(v interface{}) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	case json.Number:
		parsed, err := f.Float64()
		return parsed, err == nil
	default:
		return 0, false
	}
}

func toStringSet(v interface{}) map[string]bool {
	set := make(map[string]bool)
	switch list := v.(type) {
	case []string:
		for _, s := range list {
			set[s] = true
		}
	case []interface{}:
		for _, item := range list {
			if s, ok := item.(string); ok {
				set[s] = true
			}
		}
	}
	return set
}

func sameStringSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
