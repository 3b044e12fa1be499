// Package geo provides pure geometric helpers for working with road route
// geometries: great-circle distances, projection of a point onto a route and
// linear interpolation along it. All functions are total; empty geometries
// yield zero values instead of errors.
package geo

import (
	"fmt"
	"math"
)

const (
	// earthRadiusM is the mean Earth radius used by the Haversine formula.
	earthRadiusM = 6371000.0
)

// Point is a geographic coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// String renders the point as "lat,lon" with 6-decimal precision.
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// Haversine returns the great-circle distance in meters between two
// coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// HaversineKm returns the great-circle distance in kilometres.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	return Haversine(lat1, lon1, lat2, lon2) / 1000.0
}

// ClosestPointIndex returns the index of the geometry point closest to the
// given coordinate. Returns 0 for empty geometry.
func ClosestPointIndex(geometry []Point, lat, lon float64) int {
	best := 0
	bestDist := math.MaxFloat64
	for i, p := range geometry {
		d := Haversine(p.Lat, p.Lon, lat, lon)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// ClosestSegmentIndex returns the index i of the segment (geometry[i],
// geometry[i+1]) whose midpoint is closest to the given coordinate. Returns 0
// when the geometry has fewer than two points.
func ClosestSegmentIndex(geometry []Point, lat, lon float64) int {
	if len(geometry) < 2 {
		return 0
	}
	best := 0
	bestDist := math.MaxFloat64
	for i := 0; i < len(geometry)-1; i++ {
		midLat := (geometry[i].Lat + geometry[i+1].Lat) / 2
		midLon := (geometry[i].Lon + geometry[i+1].Lon) / 2
		d := Haversine(midLat, midLon, lat, lon)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// CumulativeDistancesKm returns, for each geometry point, the distance in
// kilometres travelled along the polyline from its first point.
func CumulativeDistancesKm(geometry []Point) []float64 {
	if len(geometry) == 0 {
		return nil
	}
	out := make([]float64, len(geometry))
	for i := 1; i < len(geometry); i++ {
		out[i] = out[i-1] + HaversineKm(geometry[i-1].Lat, geometry[i-1].Lon, geometry[i].Lat, geometry[i].Lon)
	}
	return out
}

// DistanceAlongRoute projects the point onto the closest polyline segment and
// returns the cumulative distance in kilometres from the start of the route to
// that segment. Returns 0 for empty geometry.
func DistanceAlongRoute(geometry []Point, lat, lon float64) float64 {
	if len(geometry) < 2 {
		return 0
	}
	segIdx := ClosestSegmentIndex(geometry, lat, lon)
	cum := CumulativeDistancesKm(geometry)
	return cum[segIdx]
}

// DistanceFromPointToEnd returns the remaining distance in kilometres from
// the projection of the point to the end of the route.
func DistanceFromPointToEnd(geometry []Point, lat, lon float64) float64 {
	if len(geometry) < 2 {
		return 0
	}
	cum := CumulativeDistancesKm(geometry)
	total := cum[len(cum)-1]
	return total - DistanceAlongRoute(geometry, lat, lon)
}

// InterpolateAtDistance returns the coordinate found targetKm along a
// geometry whose total length is totalKm, linearly interpolating between the
// bracketing geometry points. Returns (0, 0) for empty geometry.
func InterpolateAtDistance(geometry []Point, targetKm, totalKm float64) (float64, float64) {
	if len(geometry) == 0 {
		return 0, 0
	}
	if len(geometry) == 1 || totalKm <= 0 {
		return geometry[0].Lat, geometry[0].Lon
	}
	if targetKm <= 0 {
		return geometry[0].Lat, geometry[0].Lon
	}
	if targetKm >= totalKm {
		last := geometry[len(geometry)-1]
		return last.Lat, last.Lon
	}

	cum := CumulativeDistancesKm(geometry)
	// Scale the polyline's own length onto totalKm so callers can pass route
	// totals that differ slightly from the summed geometry length.
	scale := cum[len(cum)-1] / totalKm
	want := targetKm * scale

	for i := 1; i < len(cum); i++ {
		if cum[i] >= want {
			segLen := cum[i] - cum[i-1]
			if segLen == 0 {
				return geometry[i].Lat, geometry[i].Lon
			}
			frac := (want - cum[i-1]) / segLen
			lat := geometry[i-1].Lat + (geometry[i].Lat-geometry[i-1].Lat)*frac
			lon := geometry[i-1].Lon + (geometry[i].Lon-geometry[i-1].Lon)*frac
			return lat, lon
		}
	}
	last := geometry[len(geometry)-1]
	return last.Lat, last.Lon
}
