package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHEREProvider(t *testing.T, serverURL string) *HEREProvider {
	t.Helper()
	limiter := ratelimit.NewProviderLimiter()
	return NewHEREProvider("test-key", limiter, 1000, WithHEREBaseURL(serverURL))
}

func TestHEREGeocode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocode", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("apiKey"))
		w.Write([]byte(`{"items": [{
			"id": "here:af:street:abc",
			"title": "Avenida Paulista, São Paulo",
			"position": {"lat": -23.5614, "lng": -46.6559},
			"address": {"label": "Avenida Paulista, São Paulo, Brasil", "city": "São Paulo", "state": "São Paulo", "countryName": "Brasil"}
		}]}`))
	}))
	defer server.Close()

	provider := newTestHEREProvider(t, server.URL)
	location, err := provider.Geocode(context.Background(), "Avenida Paulista")
	require.NoError(t, err)
	require.NotNil(t, location)
	assert.InDelta(t, -23.5614, location.Latitude, 1e-6)
	assert.Equal(t, "São Paulo", location.City)
	assert.Equal(t, "Brasil", location.Country)
}

func TestHERESearchPOIs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/browse", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("categories"), "700-7600-0116")
		assert.Contains(t, r.URL.Query().Get("in"), "circle:")
		w.Write([]byte(`{"items": [{
			"id": "here:pds:place:076xyz",
			"title": "Posto Shell BR-381",
			"position": {"lat": -20.05, "lng": -44.02},
			"address": {"city": "Betim"},
			"categories": [{"id": "700-7600-0116", "primary": true}],
			"contacts": [{"phone": [{"value": "+5531999"}], "www": [{"value": "https://shell.com.br"}]}],
			"openingHours": [{"text": ["Mon-Sun: 00:00 - 24:00"]}]
		}]}`))
	}))
	defer server.Close()

	provider := newTestHEREProvider(t, server.URL)
	pois, err := provider.SearchPOIs(context.Background(),
		geo.Point{Lat: -20.0, Lon: -44.0}, 1000, []POICategory{CategoryGasStation}, 20)
	require.NoError(t, err)
	require.Len(t, pois, 1)

	poi := pois[0]
	assert.Equal(t, "here:pds:place:076xyz", poi.ProviderID)
	assert.Equal(t, "here", poi.Provider)
	assert.Equal(t, CategoryGasStation, poi.Category)
	assert.Equal(t, "Betim", poi.City)
	assert.Equal(t, "+5531999", poi.Phone)
	assert.Equal(t, "https://shell.com.br", poi.Website)
	assert.Equal(t, "Mon-Sun: 00:00 - 24:00", poi.OpeningHours)
}

func TestHERESearchPOIsUnmappedCategories(t *testing.T) {
	provider := newTestHEREProvider(t, "http://unused.invalid")
	// Settlement categories have no HERE browse mapping
	pois, err := provider.SearchPOIs(context.Background(),
		geo.Point{Lat: -20.0, Lon: -44.0}, 1000, []POICategory{CategoryCity}, 20)
	require.NoError(t, err)
	assert.Nil(t, pois)
}

func TestHERECategoryReverseMappingByPrefix(t *testing.T) {
	item := &hereItem{}
	item.Categories = []struct {
		ID      string `json:"id"`
		Primary bool   `json:"primary"`
	}{{ID: "700-7600-0444", Primary: true}}
	// Same "700-7600" prefix as the fuel station id
	assert.Equal(t, CategoryGasStation, categoryFromHEREItem(item))

	item.Categories[0].ID = "900-9999-0000"
	assert.Equal(t, CategoryOther, categoryFromHEREItem(item))
}

func TestHERECalculateRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/routes", r.URL.Path)
		assert.Equal(t, "car", r.URL.Query().Get("transportMode"))
		w.Write([]byte(`{"routes": [{"sections": [{
			"polyline": "BFoz5xJ67i1B1B7PzIhaxL7Y",
			"summary": {"length": 1500, "duration": 300}
		}]}]}`))
	}))
	defer server.Close()

	provider := newTestHEREProvider(t, server.URL)
	route, err := provider.CalculateRoute(context.Background(),
		geo.Point{Lat: 50.1, Lon: 8.69}, geo.Point{Lat: 50.09, Lon: 8.68}, nil)
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.InDelta(t, 1.5, route.TotalDistanceKm, 1e-9)
	assert.InDelta(t, 5.0, route.TotalDurationMin, 1e-9)
	require.NotEmpty(t, route.Geometry)
	assert.InDelta(t, 50.10228, route.Geometry[0].Lat, 1e-5)
	assert.InDelta(t, 8.69821, route.Geometry[0].Lon, 1e-5)
}

// Reference vector from the flexible-polyline format documentation
func TestDecodeFlexPolyline(t *testing.T) {
	points, err := decodeFlexPolyline("BFoz5xJ67i1B1B7PzIhaxL7Y")
	require.NoError(t, err)
	require.Len(t, points, 4)

	expected := []geo.Point{
		{Lat: 50.10228, Lon: 8.69821},
		{Lat: 50.10201, Lon: 8.69567},
		{Lat: 50.10063, Lon: 8.69150},
		{Lat: 50.09878, Lon: 8.68752},
	}
	for i, want := range expected {
		assert.InDelta(t, want.Lat, points[i].Lat, 1e-5, "point %d lat", i)
		assert.InDelta(t, want.Lon, points[i].Lon, 1e-5, "point %d lon", i)
	}
}

func TestDecodeFlexPolylineInvalid(t *testing.T) {
	_, err := decodeFlexPolyline("!!!")
	assert.Error(t, err)
}
