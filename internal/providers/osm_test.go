package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOSMProvider(t *testing.T, opts ...OSMOption) *OSMProvider {
	t.Helper()
	limiter := ratelimit.NewProviderLimiter()
	// High rate so tests don't sleep
	return NewOSMProvider(limiter, 1000, opts...)
}

func TestOSMGeocode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Belo Horizonte, MG", r.URL.Query().Get("q"))
		assert.Equal(t, "1", r.URL.Query().Get("addressdetails"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(`[{
			"lat": "-19.9191",
			"lon": "-43.9386",
			"display_name": "Belo Horizonte, Minas Gerais, Brasil",
			"address": {"city": "Belo Horizonte", "state": "Minas Gerais", "country": "Brasil"}
		}]`))
	}))
	defer server.Close()

	provider := newTestOSMProvider(t, WithNominatimURL(server.URL))
	location, err := provider.Geocode(context.Background(), "Belo Horizonte, MG")
	require.NoError(t, err)
	require.NotNil(t, location)
	assert.InDelta(t, -19.9191, location.Latitude, 1e-6)
	assert.InDelta(t, -43.9386, location.Longitude, 1e-6)
	assert.Equal(t, "Belo Horizonte", location.City)
	assert.Equal(t, "Minas Gerais", location.State)
}

func TestOSMGeocodeCityFallsBackToTown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{
			"lat": "-20.3155",
			"lon": "-43.5048",
			"address": {"town": "Ouro Preto", "state": "Minas Gerais"}
		}]`))
	}))
	defer server.Close()

	provider := newTestOSMProvider(t, WithNominatimURL(server.URL))
	location, err := provider.Geocode(context.Background(), "Ouro Preto")
	require.NoError(t, err)
	require.NotNil(t, location)
	assert.Equal(t, "Ouro Preto", location.City)
}

func TestOSMGeocodeNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	provider := newTestOSMProvider(t, WithNominatimURL(server.URL))
	location, err := provider.Geocode(context.Background(), "nowhere at all")
	require.NoError(t, err)
	assert.Nil(t, location)
}

func TestOSMCalculateRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/route/v1/driving/"))
		assert.Equal(t, "full", r.URL.Query().Get("overview"))
		assert.Equal(t, "geojson", r.URL.Query().Get("geometries"))
		w.Write([]byte(`{
			"code": "Ok",
			"routes": [{
				"distance": 300000,
				"duration": 10800,
				"geometry": {"coordinates": [[-43.9386,-19.9191],[-45.0,-21.0],[-46.6333,-23.5505]]},
				"legs": [{
					"steps": [
						{"distance": 150000, "duration": 5400, "name": "BR-381",
						 "geometry": {"coordinates": [[-43.9386,-19.9191],[-45.0,-21.0]]},
						 "maneuver": {"type": "depart"}},
						{"distance": 150000, "duration": 5400, "name": "BR-381",
						 "geometry": {"coordinates": [[-45.0,-21.0],[-46.6333,-23.5505]]},
						 "maneuver": {"type": "arrive"}}
					]
				}]
			}]
		}`))
	}))
	defer server.Close()

	provider := newTestOSMProvider(t, WithOSRMURL(server.URL))
	route, err := provider.CalculateRoute(context.Background(),
		geo.Point{Lat: -19.9191, Lon: -43.9386},
		geo.Point{Lat: -23.5505, Lon: -46.6333}, nil)
	require.NoError(t, err)
	require.NotNil(t, route)

	assert.InDelta(t, 300.0, route.TotalDistanceKm, 1e-9)
	assert.InDelta(t, 180.0, route.TotalDurationMin, 1e-9)
	require.Len(t, route.Steps, 2)
	assert.Equal(t, "BR-381", route.Steps[0].RoadName)
	assert.Equal(t, []string{"BR-381"}, route.RoadNames, "road names are deduplicated")

	// GeoJSON is lon,lat; the unified model is lat,lon
	require.Len(t, route.Geometry, 3)
	assert.InDelta(t, -19.9191, route.Geometry[0].Lat, 1e-6)
	assert.InDelta(t, -43.9386, route.Geometry[0].Lon, 1e-6)
}

func TestOSMCalculateRouteNoRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": "NoRoute", "routes": []}`))
	}))
	defer server.Close()

	provider := newTestOSMProvider(t, WithOSRMURL(server.URL))
	route, err := provider.CalculateRoute(context.Background(), geo.Point{}, geo.Point{Lat: 1, Lon: 1}, nil)
	require.NoError(t, err)
	assert.Nil(t, route)
}

const overpassFuelResponse = `{
	"elements": [
		{"type": "node", "id": 111, "lat": -20.0, "lon": -44.0,
		 "tags": {"amenity": "fuel", "name": "Posto Alfa", "brand": "Shell", "opening_hours": "24/7", "phone": "+55 31 1234"}},
		{"type": "way", "id": 222, "center": {"lat": -20.1, "lon": -44.1},
		 "tags": {"amenity": "fuel", "name": "Posto Beta"}},
		{"type": "node", "id": 333, "lat": -20.2, "lon": -44.2,
		 "tags": {"abandoned:amenity": "fuel", "name": "Posto Velho"}}
	]
}`

func TestOverpassSearchPOIs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		query := r.Form.Get("data")
		assert.Contains(t, query, `"amenity"="fuel"`)
		assert.Contains(t, query, "out center;")
		w.Write([]byte(overpassFuelResponse))
	}))
	defer server.Close()

	provider := newTestOSMProvider(t, WithOverpassEndpoints(server.URL))
	pois, err := provider.SearchPOIs(context.Background(),
		geo.Point{Lat: -20.0, Lon: -44.0}, 1000, []POICategory{CategoryGasStation}, 20)
	require.NoError(t, err)
	require.Len(t, pois, 3)

	assert.Equal(t, "node/111", pois[0].ProviderID)
	assert.Equal(t, CategoryGasStation, pois[0].Category)
	assert.Equal(t, "Shell", pois[0].Brand)
	assert.False(t, pois[0].IsAbandoned)

	// Way elements use the center coordinate
	assert.Equal(t, "way/222", pois[1].ProviderID)
	assert.InDelta(t, -20.1, pois[1].Latitude, 1e-9)

	assert.True(t, pois[2].IsAbandoned)
	assert.Contains(t, pois[2].QualityIssues, "abandoned")
}

func TestOverpassFailover(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	var goodCalls int
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodCalls++
		w.Write([]byte(overpassFuelResponse))
	}))
	defer good.Close()

	provider := newTestOSMProvider(t, WithOverpassEndpoints(bad.URL, good.URL))
	pois, err := provider.SearchPOIs(context.Background(),
		geo.Point{Lat: -20.0, Lon: -44.0}, 1000, []POICategory{CategoryGasStation}, 20)
	require.NoError(t, err)
	assert.Len(t, pois, 3)
	assert.Equal(t, 1, goodCalls)
}

func TestOverpassAllEndpointsFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	provider := newTestOSMProvider(t, WithOverpassEndpoints(bad.URL, bad.URL))
	_, err := provider.SearchPOIs(context.Background(),
		geo.Point{Lat: -20.0, Lon: -44.0}, 1000, []POICategory{CategoryGasStation}, 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all overpass endpoints failed")
}

func TestBuildOverpassQueryBBox(t *testing.T) {
	center := geo.Point{Lat: -20.0, Lon: -44.0}

	regular := buildOverpassQuery(center, 1110, []POICategory{CategoryGasStation})
	// 1110 m / 111000 = 0.01 degrees
	assert.Contains(t, regular, "-20.010000,-44.010000,-19.990000,-43.990000")

	// Settlement searches widen the bbox 5x
	place := buildOverpassQuery(center, 1110, []POICategory{CategoryCity})
	assert.Contains(t, place, "-20.050000,-44.050000,-19.950000,-43.950000")
	assert.Contains(t, place, `"place"="city"`)
}

func TestCategoryFromOSMTags(t *testing.T) {
	tests := []struct {
		tags     map[string]string
		expected POICategory
	}{
		{map[string]string{"amenity": "fuel"}, CategoryGasStation},
		{map[string]string{"amenity": "restaurant"}, CategoryRestaurant},
		{map[string]string{"tourism": "hotel"}, CategoryHotel},
		{map[string]string{"shop": "supermarket"}, CategorySupermarket},
		{map[string]string{"shop": "car_repair"}, CategoryMechanic},
		{map[string]string{"place": "town"}, CategoryTown},
		{map[string]string{"leisure": "park"}, CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, categoryFromOSMTags(tt.tags))
	}
}

func TestScorePOIQuality(t *testing.T) {
	full := &POI{
		Name:         "Posto Completo",
		Brand:        "Ipiranga",
		Phone:        "+55 31 0000",
		OpeningHours: "24/7",
		Website:      "https://example.com",
		Category:     CategoryGasStation,
		Tags:         map[string]string{"addr:street": "BR-381"},
	}
	score, issues := scorePOIQuality(full)
	assert.Equal(t, 1.0, score)
	assert.Empty(t, issues)

	bare := &POI{Category: CategoryGasStation, Tags: map[string]string{}}
	score, issues = scorePOIQuality(bare)
	assert.Less(t, score, 0.3)
	assert.Contains(t, issues, "missing_name")
	assert.Contains(t, issues, "missing_brand")
	assert.Contains(t, issues, "low_score")
}
