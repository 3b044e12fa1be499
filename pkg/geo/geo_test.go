package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	// Belo Horizonte -> São Paulo is roughly 489 km as the crow flies.
	d := Haversine(-19.9191, -43.9386, -23.5505, -46.6333)
	assert.InDelta(t, 489000, d, 5000)

	assert.Equal(t, 0.0, Haversine(10, 20, 10, 20))
}

func TestClosestPointIndex(t *testing.T) {
	geometry := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 1},
		{Lat: 0, Lon: 2},
	}

	assert.Equal(t, 1, ClosestPointIndex(geometry, 0.01, 1.01))
	assert.Equal(t, 0, ClosestPointIndex(nil, 1, 1))
}

func TestCumulativeDistancesKm(t *testing.T) {
	geometry := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 0.5},
		{Lat: 0, Lon: 1.0},
	}
	cum := CumulativeDistancesKm(geometry)
	require.Len(t, cum, 3)
	assert.Equal(t, 0.0, cum[0])
	// 0.5 degrees of longitude at the equator is ~55.6 km.
	assert.InDelta(t, 55.6, cum[1], 0.5)
	assert.InDelta(t, 2*cum[1], cum[2], 0.001)

	assert.Nil(t, CumulativeDistancesKm(nil))
}

func TestDistanceAlongRoute(t *testing.T) {
	geometry := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 0.5},
		{Lat: 0, Lon: 1.0},
	}

	// Point near the second leg projects past the first leg.
	d := DistanceAlongRoute(geometry, 0.01, 0.75)
	assert.InDelta(t, 55.6, d, 1.0)

	assert.Equal(t, 0.0, DistanceAlongRoute(nil, 1, 1))
	assert.Equal(t, 0.0, DistanceAlongRoute(geometry[:1], 1, 1))
}

func TestDistanceFromPointToEnd(t *testing.T) {
	geometry := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 0.5},
		{Lat: 0, Lon: 1.0},
	}
	total := CumulativeDistancesKm(geometry)[2]
	rem := DistanceFromPointToEnd(geometry, 0, 0)
	assert.InDelta(t, total, rem, 0.001)
}

func TestInterpolateAtDistance(t *testing.T) {
	geometry := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 1.0},
	}
	total := CumulativeDistancesKm(geometry)[1]

	lat, lon := InterpolateAtDistance(geometry, total/2, total)
	assert.InDelta(t, 0.0, lat, 1e-9)
	assert.InDelta(t, 0.5, lon, 1e-6)

	// Clamping at both ends.
	lat, lon = InterpolateAtDistance(geometry, -1, total)
	assert.Equal(t, 0.0, lon)
	lat, lon = InterpolateAtDistance(geometry, total+5, total)
	assert.Equal(t, 1.0, lon)
	_ = lat

	// Degenerate inputs.
	lat, lon = InterpolateAtDistance(nil, 1, 10)
	assert.Equal(t, 0.0, lat)
	assert.Equal(t, 0.0, lon)
}
