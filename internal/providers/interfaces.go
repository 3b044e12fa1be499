package providers

import (
	"context"

	"github.com/mapalinear/mapalinear/pkg/geo"
)

// Provider is the capability set every geo provider adapter implements.
// Methods return (nil, nil) for a clean "no result" so callers can
// distinguish absence from transport failure.
type Provider interface {
	Name() string

	Geocode(ctx context.Context, address string) (*GeoLocation, error)
	// ReverseGeocode resolves coordinates to a location. poiName does not
	// affect the upstream query; it only distinguishes cache keys so
	// nearby POIs don't collapse onto the same cached city.
	ReverseGeocode(ctx context.Context, lat, lon float64, poiName string) (*GeoLocation, error)
	CalculateRoute(ctx context.Context, origin, destination geo.Point, opts *RouteOptions) (*Route, error)
	SearchPOIs(ctx context.Context, center geo.Point, radiusM float64, categories []POICategory, limit int) ([]POI, error)
	GetPOIDetails(ctx context.Context, id string) (*POI, error)

	SupportsOfflineExport() bool
	RateLimitPerSecond() float64
}
