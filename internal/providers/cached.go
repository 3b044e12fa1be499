package providers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mapalinear/mapalinear/internal/geocache"
	"github.com/mapalinear/mapalinear/pkg/config"
	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/logger"
	"github.com/mapalinear/mapalinear/pkg/metrics"
	"go.uber.org/zap"
)

// CachedProvider wraps a provider so every call checks the unified cache
// before hitting the network and re-caches normalized responses. Wrap each
// concrete provider once at startup.
type CachedProvider struct {
	inner Provider
	cache *geocache.Cache
	ttls  config.CacheConfig
}

// NewCachedProvider wraps inner with cache-through behavior
func NewCachedProvider(inner Provider, cache *geocache.Cache, ttls config.CacheConfig) *CachedProvider {
	return &CachedProvider{inner: inner, cache: cache, ttls: ttls}
}

// Name returns the wrapped provider's name
func (c *CachedProvider) Name() string { return c.inner.Name() }

// SupportsOfflineExport delegates to the wrapped provider
func (c *CachedProvider) SupportsOfflineExport() bool { return c.inner.SupportsOfflineExport() }

// RateLimitPerSecond delegates to the wrapped provider
func (c *CachedProvider) RateLimitPerSecond() float64 { return c.inner.RateLimitPerSecond() }

// Geocode resolves an address, caching for the geocode TTL
func (c *CachedProvider) Geocode(ctx context.Context, address string) (*GeoLocation, error) {
	params := map[string]interface{}{"address": address}

	if data, ok := c.cache.Get(ctx, c.Name(), "geocode", params); ok {
		var cached GeoLocation
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
		logger.DebugContext(ctx, "discarding malformed cached geocode", zap.String("address", address))
	}

	started := time.Now()
	location, err := c.inner.Geocode(ctx, address)
	metrics.RecordProviderRequest(c.Name(), "geocode", err, time.Since(started))
	if err != nil || location == nil {
		return location, err
	}
	c.cacheResult(ctx, "geocode", params, location, c.ttls.GeocodeTTL)
	return location, nil
}

// ReverseGeocode resolves coordinates; poiName participates in the cache
// key so nearby POIs don't collapse onto one cached location
func (c *CachedProvider) ReverseGeocode(ctx context.Context, lat, lon float64, poiName string) (*GeoLocation, error) {
	params := map[string]interface{}{"lat": lat, "lon": lon}
	if poiName != "" {
		params["poi_name"] = poiName
	}

	if data, ok := c.cache.Get(ctx, c.Name(), "reverse_geocode", params); ok {
		var cached GeoLocation
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

	started := time.Now()
	location, err := c.inner.ReverseGeocode(ctx, lat, lon, poiName)
	metrics.RecordProviderRequest(c.Name(), "reverse_geocode", err, time.Since(started))
	if err != nil || location == nil {
		return location, err
	}
	c.cacheResult(ctx, "reverse_geocode", params, location, c.ttls.GeocodeTTL)
	return location, nil
}

// CalculateRoute computes a route, caching for the route TTL
func (c *CachedProvider) CalculateRoute(ctx context.Context, origin, destination geo.Point, opts *RouteOptions) (*Route, error) {
	params := map[string]interface{}{
		"origin_lat":      origin.Lat,
		"origin_lon":      origin.Lon,
		"destination_lat": destination.Lat,
		"destination_lon": destination.Lon,
	}
	if opts != nil && len(opts.Avoid) > 0 {
		params["avoid"] = opts.Avoid
	}
	if opts != nil && len(opts.Waypoints) > 0 {
		waypoints := make([]string, len(opts.Waypoints))
		for i, wp := range opts.Waypoints {
			waypoints[i] = wp.String()
		}
		params["waypoints"] = waypoints
	}

	if data, ok := c.cache.Get(ctx, c.Name(), "route", params); ok {
		var cached Route
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

	started := time.Now()
	route, err := c.inner.CalculateRoute(ctx, origin, destination, opts)
	metrics.RecordProviderRequest(c.Name(), "route", err, time.Since(started))
	if err != nil || route == nil {
		return route, err
	}
	c.cacheResult(ctx, "route", params, route, c.ttls.RouteTTL)
	return route, nil
}

// SearchPOIs queries POIs, caching for the POI search TTL. Misses fall
// through the cache's spatial matching before reaching the provider.
func (c *CachedProvider) SearchPOIs(ctx context.Context, center geo.Point, radiusM float64, categories []POICategory, limit int) ([]POI, error) {
	categoryNames := make([]string, len(categories))
	for i, category := range categories {
		categoryNames[i] = string(category)
	}
	params := map[string]interface{}{
		"latitude":   center.Lat,
		"longitude":  center.Lon,
		"radius":     radiusM,
		"categories": categoryNames,
		"limit":      limit,
	}

	if data, ok := c.cache.Get(ctx, c.Name(), "poi_search", params); ok {
		var cached []POI
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	started := time.Now()
	pois, err := c.inner.SearchPOIs(ctx, center, radiusM, categories, limit)
	metrics.RecordProviderRequest(c.Name(), "poi_search", err, time.Since(started))
	if err != nil {
		return nil, err
	}
	c.cacheResult(ctx, "poi_search", params, pois, c.ttls.POISearchTTL)
	return pois, nil
}

// GetPOIDetails fetches details, caching for the POI details TTL
func (c *CachedProvider) GetPOIDetails(ctx context.Context, id string) (*POI, error) {
	params := map[string]interface{}{"id": id}

	if data, ok := c.cache.Get(ctx, c.Name(), "poi_details", params); ok {
		var cached POI
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

	started := time.Now()
	poi, err := c.inner.GetPOIDetails(ctx, id)
	metrics.RecordProviderRequest(c.Name(), "poi_details", err, time.Since(started))
	if err != nil || poi == nil {
		return poi, err
	}
	c.cacheResult(ctx, "poi_details", params, poi, c.ttls.POIDetailsTTL)
	return poi, nil
}

func (c *CachedProvider) cacheResult(ctx context.Context, operation string, params map[string]interface{}, result interface{}, ttlSeconds int) {
	data, err := json.Marshal(result)
	if err != nil {
		logger.DebugContext(ctx, "failed to marshal result for caching",
			zap.String("operation", operation), zap.Error(err))
		return
	}
	c.cache.Set(ctx, c.Name(), operation, params, data, time.Duration(ttlSeconds)*time.Second)
}
