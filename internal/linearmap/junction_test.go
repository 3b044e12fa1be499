package linearmap

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/mapalinear/mapalinear/internal/providers"
	"github.com/mapalinear/mapalinear/internal/segments"
	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const degPerKmLat = 1.0 / 111.19492664455873

// lonOffsetKm converts an east-west offset in km to degrees at latitude
// -20, where the test routes live
func lonOffsetKm(km float64) float64 {
	return km * degPerKmLat / math.Cos(20.0*math.Pi/180)
}

// southboundRoute builds a route along lon -44 heading south, one point
// per kilometer, lengthKm+1 points
func southboundRoute(lengthKm int) []geo.Point {
	geometry := make([]geo.Point, lengthKm+1)
	for i := range geometry {
		geometry[i] = geo.Point{Lat: -20.0 - float64(i)*degPerKmLat, Lon: -44.0}
	}
	return geometry
}

func globalSPsAlong(geometry []geo.Point) []GlobalSearchPoint {
	points := make([]GlobalSearchPoint, len(geometry))
	for i, p := range geometry {
		points[i] = GlobalSearchPoint{Lat: p.Lat, Lon: p.Lon, DistanceFromMapOriginKm: float64(i)}
	}
	return points
}

// routeStub is a routing provider returning a fixed access route
type routeStub struct {
	route *providers.Route
	err   error
	calls int
}

func (r *routeStub) Name() string { return "osm" }

func (r *routeStub) CalculateRoute(ctx context.Context, origin, destination geo.Point, opts *providers.RouteOptions) (*providers.Route, error) {
	r.calls++
	return r.route, r.err
}

func (r *routeStub) Geocode(ctx context.Context, address string) (*providers.GeoLocation, error) {
	return nil, nil
}

func (r *routeStub) ReverseGeocode(ctx context.Context, lat, lon float64, poiName string) (*providers.GeoLocation, error) {
	return nil, nil
}

func (r *routeStub) SearchPOIs(ctx context.Context, center geo.Point, radiusM float64, categories []providers.POICategory, limit int) ([]providers.POI, error) {
	return nil, nil
}

func (r *routeStub) GetPOIDetails(ctx context.Context, id string) (*providers.POI, error) {
	return nil, nil
}

func (r *routeStub) SupportsOfflineExport() bool { return true }
func (r *routeStub) RateLimitPerSecond() float64 { return 1 }

func TestComputeNearbyPOI(t *testing.T) {
	route := southboundRoute(100)
	calc := NewJunctionCalculator(&routeStub{}, 0)

	// POI ~200 m east of route point 30
	poiLat := route[30].Lat
	poiLon := -44.0 + lonOffsetKm(0.2)
	straight := geo.Haversine(route[30].Lat, route[30].Lon, poiLat, poiLon)
	require.Less(t, straight, 500.0)

	result, err := calc.Compute(context.Background(), JunctionInput{
		POILat:                poiLat,
		POILon:                poiLon,
		StraightLineDistanceM: straight,
		RouteGeometry:         route,
		RouteTotalKm:          100,
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.InDelta(t, route[30].Lat, result.JunctionLat, 1e-9)
	assert.InDelta(t, 30.0, result.JunctionDistanceKm, 0.01)
	assert.InDelta(t, straight/1000, result.AccessDistanceKm, 1e-9)
	assert.False(t, result.RequiresDetour)
	// East of a southbound road is the driver's left
	assert.Equal(t, SideLeft, result.Side)
}

func TestComputeNearbyNeverCallsRouting(t *testing.T) {
	route := southboundRoute(50)
	stub := &routeStub{err: errors.New("must not be called")}
	calc := NewJunctionCalculator(stub, 0)

	_, err := calc.Compute(context.Background(), JunctionInput{
		POILat:                route[10].Lat,
		POILon:                -44.0 + lonOffsetKm(0.1),
		StraightLineDistanceM: 100,
		RouteGeometry:         route,
		RouteTotalKm:          50,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, stub.calls)
}

func TestSideOfRouteOnRoutePOIIsCenter(t *testing.T) {
	route := southboundRoute(50)
	side, cross := SideOfRoute(route, 25, route[25].Lat, route[25].Lon)
	assert.Equal(t, SideCenter, side)
	assert.InDelta(t, 0, cross, collinearEpsilon)
}

func TestSideOfRouteFlipsWithDirection(t *testing.T) {
	route := southboundRoute(50)
	poiLat := route[25].Lat
	poiLon := -44.0 + lonOffsetKm(0.3)

	side, _ := SideOfRoute(route, 25, poiLat, poiLon)
	assert.Equal(t, SideLeft, side)

	// Same POI, route driven the other way
	reversed := make([]geo.Point, len(route))
	for i, p := range route {
		reversed[len(route)-1-i] = p
	}
	flipped, _ := SideOfRoute(reversed, len(route)-1-25, poiLat, poiLon)
	assert.Equal(t, SideRight, flipped)
}

func TestSideOfRouteDegenerateGeometry(t *testing.T) {
	side, _ := SideOfRoute([]geo.Point{{Lat: -20, Lon: -44}}, 0, -20.1, -44.1)
	assert.Equal(t, SideCenter, side)
}

func TestComputeDistantPOI(t *testing.T) {
	route := southboundRoute(300)
	globalSPs := globalSPsAlong(route)

	// POI 2.5 km east of route point 47
	poiLat := route[47].Lat
	poiLon := -44.0 + lonOffsetKm(2.5)
	straight := geo.Haversine(route[47].Lat, route[47].Lon, poiLat, poiLon)
	require.Greater(t, straight, 500.0)

	// Access route rejoins the main road exactly at point 47
	access := &providers.Route{
		Geometry: []geo.Point{
			{Lat: route[38].Lat, Lon: -44.0 + lonOffsetKm(0.1)},
			{Lat: route[42].Lat, Lon: -44.0 + lonOffsetKm(0.3)},
			route[47],
			{Lat: poiLat, Lon: poiLon},
		},
	}
	stub := &routeStub{route: access}
	calc := NewJunctionCalculator(stub, 0)

	segment := &segments.RouteSegment{
		ID: uuid.New(),
		SearchPoints: []segments.SearchPoint{
			{Index: 8, Lat: route[48].Lat, Lon: -44.0, DistanceFromSegmentStartKm: 8.0},
		},
	}
	mapSegment := &MapSegment{DistanceFromOriginKm: 40.0, Segment: segment}

	result, err := calc.Compute(context.Background(), JunctionInput{
		POILat:                poiLat,
		POILon:                poiLon,
		StraightLineDistanceM: straight,
		SearchPointIndex:      8,
		MapSegment:            mapSegment,
		Segment:               segment,
		RouteGeometry:         route,
		RouteTotalKm:          300,
		GlobalSearchPoints:    globalSPs,
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, stub.calls)

	assert.InDelta(t, 47.0, result.JunctionDistanceKm, 0.01)
	assert.True(t, result.RequiresDetour)
	expected := geo.Haversine(result.JunctionLat, result.JunctionLon, poiLat, poiLon) / 1000
	assert.InDelta(t, expected, result.AccessDistanceKm, 1e-9)
	assert.Equal(t, SideLeft, result.Side)
	assert.NotEmpty(t, result.AccessRouteGeometry)
}

func TestComputeDistantSkipsOnRoutingFailure(t *testing.T) {
	route := southboundRoute(100)
	stub := &routeStub{err: errors.New("osrm unavailable")}
	calc := NewJunctionCalculator(stub, 0)

	result, err := calc.Compute(context.Background(), JunctionInput{
		POILat:                route[20].Lat,
		POILon:                -44.0 + lonOffsetKm(3),
		StraightLineDistanceM: 3000,
		RouteGeometry:         route,
		RouteTotalKm:          100,
		GlobalSearchPoints:    globalSPsAlong(route),
	})
	require.NoError(t, err)
	assert.Nil(t, result, "routing failure drops the poi, not the map")
}

func TestLookbackPointSelection(t *testing.T) {
	calc := NewJunctionCalculator(&routeStub{}, 0)
	points := globalSPsAlong(southboundRoute(100))

	// Latest point at or before poi_km - 10
	lookback := calc.lookbackPoint(points, 48.0)
	assert.InDelta(t, 38.0, lookback.DistanceFromMapOriginKm, 1e-9)

	// POI too close to the origin: fall back to the first point
	first := calc.lookbackPoint(points, 4.0)
	assert.InDelta(t, 0.0, first.DistanceFromMapOriginKm, 1e-9)

	assert.Zero(t, calc.lookbackPoint(nil, 48.0))
}

func TestComputeEmptyGeometryFails(t *testing.T) {
	calc := NewJunctionCalculator(&routeStub{}, 0)
	_, err := calc.Compute(context.Background(), JunctionInput{StraightLineDistanceM: 100})
	assert.Error(t, err)
}
