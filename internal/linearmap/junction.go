package linearmap

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/mapalinear/mapalinear/internal/providers"
	"github.com/mapalinear/mapalinear/internal/segments"
	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/logger"
	"go.uber.org/zap"
)

const (
	// nearbyThresholdM short-circuits the access-route query for POIs
	// practically on the road
	nearbyThresholdM = 500.0
	// defaultLookbackKm is how far before the POI's approximate along-route
	// position the access-route query starts
	defaultLookbackKm = 10.0
	// intersectionThresholdM decides where the access route rejoins the
	// main route
	intersectionThresholdM = 50.0
	// detourThresholdKm marks a POI as requiring a detour
	detourThresholdKm = 0.5
	// collinearEpsilon is the cross product magnitude below which a POI
	// counts as sitting on the route
	collinearEpsilon = 1e-10
)

// JunctionCalculator computes, for one POI, the point on the main route
// where a driver turns off, which side of the road the POI is on, and how
// far off the road it sits. Distant POIs need a routing call; the routing
// provider is injected for that.
type JunctionCalculator struct {
	routing    providers.Provider
	lookbackKm float64
}

// NewJunctionCalculator creates a calculator using the given routing
// provider. lookbackKm <= 0 selects the default 10 km lookback.
func NewJunctionCalculator(routing providers.Provider, lookbackKm float64) *JunctionCalculator {
	if lookbackKm <= 0 {
		lookbackKm = defaultLookbackKm
	}
	return &JunctionCalculator{routing: routing, lookbackKm: lookbackKm}
}

// JunctionInput carries one POI's discovery context into the calculation
type JunctionInput struct {
	POILat                float64
	POILon                float64
	StraightLineDistanceM float64
	SearchPointIndex      int
	MapSegment            *MapSegment
	Segment               *segments.RouteSegment
	RouteGeometry         []geo.Point
	RouteTotalKm          float64
	GlobalSearchPoints    []GlobalSearchPoint
}

// Compute returns the junction result for one POI, or (nil, nil) when the
// POI should be skipped (access routing failed or produced no usable
// geometry).
func (c *JunctionCalculator) Compute(ctx context.Context, in JunctionInput) (*JunctionResult, error) {
	if len(in.RouteGeometry) == 0 {
		return nil, fmt.Errorf("empty route geometry")
	}

	if in.StraightLineDistanceM <= nearbyThresholdM {
		return c.computeNearby(in), nil
	}
	return c.computeDistant(ctx, in)
}

// computeNearby projects the POI straight onto the closest route point
func (c *JunctionCalculator) computeNearby(in JunctionInput) *JunctionResult {
	idx := geo.ClosestPointIndex(in.RouteGeometry, in.POILat, in.POILon)
	junction := in.RouteGeometry[idx]
	junctionKm := geo.DistanceAlongRoute(in.RouteGeometry, junction.Lat, junction.Lon)

	side, _ := SideOfRoute(in.RouteGeometry, idx, in.POILat, in.POILon)

	return &JunctionResult{
		JunctionLat:        junction.Lat,
		JunctionLon:        junction.Lon,
		JunctionDistanceKm: junctionKm,
		Side:               side,
		AccessDistanceKm:   in.StraightLineDistanceM / 1000,
		RequiresDetour:     false,
	}
}

// computeDistant routes from a lookback point to the POI and finds where
// that access route leaves the main route
func (c *JunctionCalculator) computeDistant(ctx context.Context, in JunctionInput) (*JunctionResult, error) {
	poiKm := c.estimateAlongRouteKm(in)
	lookback := c.lookbackPoint(in.GlobalSearchPoints, poiKm)

	access, err := c.routing.CalculateRoute(ctx,
		geo.Point{Lat: lookback.Lat, Lon: lookback.Lon},
		geo.Point{Lat: in.POILat, Lon: in.POILon},
		nil,
	)
	if err != nil || access == nil || len(access.Geometry) == 0 {
		logger.DebugContext(ctx, "access route unavailable, skipping poi",
			zap.Float64("poi_lat", in.POILat),
			zap.Float64("poi_lon", in.POILon),
			zap.Error(err),
		)
		return nil, nil
	}

	junctionIdx, found := findIntersection(access.Geometry, in.RouteGeometry)
	if !found {
		// The access route never comes back to the main road; treat the
		// lookback point itself as the junction
		junctionIdx = geo.ClosestPointIndex(in.RouteGeometry, lookback.Lat, lookback.Lon)
	}
	junction := in.RouteGeometry[junctionIdx]
	junctionKm := geo.DistanceAlongRoute(in.RouteGeometry, junction.Lat, junction.Lon)

	side, _ := SideOfRoute(in.RouteGeometry, junctionIdx, in.POILat, in.POILon)

	accessKm := geo.Haversine(junction.Lat, junction.Lon, in.POILat, in.POILon) / 1000

	return &JunctionResult{
		JunctionLat:         junction.Lat,
		JunctionLon:         junction.Lon,
		JunctionDistanceKm:  junctionKm,
		Side:                side,
		AccessDistanceKm:    accessKm,
		RequiresDetour:      accessKm > detourThresholdKm,
		AccessRouteGeometry: access.Geometry,
	}, nil
}

// estimateAlongRouteKm places the POI along the map via its discovery
// search point
func (c *JunctionCalculator) estimateAlongRouteKm(in JunctionInput) float64 {
	if in.MapSegment != nil && in.Segment != nil {
		for _, sp := range in.Segment.SearchPoints {
			if sp.Index == in.SearchPointIndex {
				return in.MapSegment.DistanceFromOriginKm + sp.DistanceFromSegmentStartKm
			}
		}
	}
	return geo.DistanceAlongRoute(in.RouteGeometry, in.POILat, in.POILon)
}

// lookbackPoint finds the latest global search point at least lookbackKm
// before the POI's along-route position, or the first point when none
// qualifies
func (c *JunctionCalculator) lookbackPoint(points []GlobalSearchPoint, poiKm float64) GlobalSearchPoint {
	if len(points) == 0 {
		return GlobalSearchPoint{}
	}
	cutoff := poiKm - c.lookbackKm
	// Points are sorted ascending; find the last one at or before cutoff
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].DistanceFromMapOriginKm > cutoff
	})
	if idx == 0 {
		return points[0]
	}
	return points[idx-1]
}

// findIntersection returns the main-route index where the access route
// meets it. The walk runs from the POI end backward so the match is the
// turn-off point, not the shared stretch near the lookback start.
func findIntersection(accessGeometry, routeGeometry []geo.Point) (int, bool) {
	for i := len(accessGeometry) - 1; i >= 0; i-- {
		ap := accessGeometry[i]
		idx := geo.ClosestPointIndex(routeGeometry, ap.Lat, ap.Lon)
		p := routeGeometry[idx]
		if geo.Haversine(ap.Lat, ap.Lon, p.Lat, p.Lon) < intersectionThresholdM {
			return idx, true
		}
	}
	return 0, false
}

// SideOfRoute determines which side of the direction of travel the POI
// lies on, using the 2-D cross product of the local road direction and the
// junction-to-POI vector. Returns the side and the raw cross product.
func SideOfRoute(routeGeometry []geo.Point, junctionIdx int, poiLat, poiLon float64) (Side, float64) {
	if len(routeGeometry) < 2 {
		return SideCenter, 0
	}

	prev := junctionIdx - 1
	next := junctionIdx + 1
	if prev < 0 {
		prev = 0
	}
	if next >= len(routeGeometry) {
		next = len(routeGeometry) - 1
	}

	junction := routeGeometry[junctionIdx]
	dx := routeGeometry[next].Lon - routeGeometry[prev].Lon
	dy := routeGeometry[next].Lat - routeGeometry[prev].Lat
	px := poiLon - junction.Lon
	py := poiLat - junction.Lat

	cross := dx*py - dy*px
	if math.Abs(cross) < collinearEpsilon {
		return SideCenter, cross
	}
	if cross > 0 {
		return SideLeft, cross
	}
	return SideRight, cross
}

// BuildGlobalSearchPoints promotes every segment search point to map
// coordinates and sorts them by distance from the map origin
func BuildGlobalSearchPoints(mapSegments []MapSegment) []GlobalSearchPoint {
	var points []GlobalSearchPoint
	for _, ms := range mapSegments {
		if ms.Segment == nil {
			continue
		}
		for _, sp := range ms.Segment.SearchPoints {
			points = append(points, GlobalSearchPoint{
				Lat:                     sp.Lat,
				Lon:                     sp.Lon,
				DistanceFromMapOriginKm: ms.DistanceFromOriginKm + sp.DistanceFromSegmentStartKm,
				SegmentSequence:         ms.SequenceOrder,
				SearchPointIndex:        sp.Index,
			})
		}
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].DistanceFromMapOriginKm < points[j].DistanceFromMapOriginKm
	})
	return points
}
