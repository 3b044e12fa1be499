package linearmap

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/mapalinear/mapalinear/internal/poi"
	"github.com/mapalinear/mapalinear/internal/providers"
	"github.com/mapalinear/mapalinear/internal/segments"
	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSegmentPOIStore struct {
	associations map[string][]segments.SegmentPOI
}

func (f *fakeSegmentPOIStore) GetSegmentPOIs(ctx context.Context, segmentID string) ([]segments.SegmentPOI, error) {
	return f.associations[segmentID], nil
}

type fakePOIStore struct {
	pois        map[uuid.UUID]*poi.POI
	cityUpdates map[uuid.UUID]string
}

func (f *fakePOIStore) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*poi.POI, error) {
	found := make(map[uuid.UUID]*poi.POI)
	for _, id := range ids {
		if p, ok := f.pois[id]; ok {
			found[id] = p
		}
	}
	return found, nil
}

func (f *fakePOIStore) UpdateCity(ctx context.Context, id uuid.UUID, city string) error {
	if f.cityUpdates == nil {
		f.cityUpdates = make(map[uuid.UUID]string)
	}
	f.cityUpdates[id] = city
	return nil
}

// geocoderStub answers every reverse geocode with a fixed city
type geocoderStub struct {
	routeStub
	city     string
	revCalls int
}

func (g *geocoderStub) ReverseGeocode(ctx context.Context, lat, lon float64, poiName string) (*providers.GeoLocation, error) {
	g.revCalls++
	if g.city == "" {
		return nil, nil
	}
	return &providers.GeoLocation{Latitude: lat, Longitude: lon, City: g.city}, nil
}

// testSegments cuts the route into n equal segments of segmentKm each,
// one search point at every kilometer
func testSegmentsAlong(route []geo.Point, n, segmentKm int) []*segments.RouteSegment {
	segs := make([]*segments.RouteSegment, n)
	for i := range segs {
		start := i * segmentKm
		var sps []segments.SearchPoint
		for k := 0; k <= segmentKm; k++ {
			sps = append(sps, segments.SearchPoint{
				Index:                      k,
				Lat:                        route[start+k].Lat,
				Lon:                        route[start+k].Lon,
				DistanceFromSegmentStartKm: float64(k),
			})
		}
		segs[i] = &segments.RouteSegment{
			ID:           uuid.New(),
			LengthKm:     float64(segmentKm),
			Geometry:     route[start : start+segmentKm+1],
			SearchPoints: sps,
		}
	}
	return segs
}

func newTestAssembler(segPOIs *fakeSegmentPOIStore, pois *fakePOIStore, geocoder providers.Provider, routing providers.Provider) *Assembler {
	return NewAssembler(segPOIs, pois, geocoder, NewJunctionCalculator(routing, 0))
}

func nearbyPOI(store *fakePOIStore, name, city string, route []geo.Point, atKm int) *poi.POI {
	p := &poi.POI{
		ID:           uuid.New(),
		Name:         name,
		Type:         providers.CategoryGasStation,
		Latitude:     route[atKm].Lat,
		Longitude:    route[atKm].Lon + lonOffsetKm(0.2),
		City:         city,
		QualityScore: 0.8,
	}
	store.pois[p.ID] = p
	return p
}

func associate(store *fakeSegmentPOIStore, segment *segments.RouteSegment, p *poi.POI, spIndex int, distanceM float64) {
	key := segment.ID.String()
	store.associations[key] = append(store.associations[key], segments.SegmentPOI{
		SegmentID:             segment.ID,
		POIID:                 p.ID,
		SearchPointIndex:      spIndex,
		StraightLineDistanceM: distanceM,
	})
}

func TestAssembleCumulativeDistances(t *testing.T) {
	route := southboundRoute(60)
	segs := testSegmentsAlong(route, 3, 20)
	segs[1].LengthKm = 20.0
	assembler := newTestAssembler(
		&fakeSegmentPOIStore{associations: map[string][]segments.SegmentPOI{}},
		&fakePOIStore{pois: map[uuid.UUID]*poi.POI{}},
		&geocoderStub{}, &routeStub{},
	)

	result, err := assembler.Assemble(context.Background(), uuid.New(), segs, route, 60, "", nil)
	require.NoError(t, err)

	require.Len(t, result.MapSegments, 3)
	for i, ms := range result.MapSegments {
		assert.Equal(t, i, ms.SequenceOrder)
	}
	assert.InDelta(t, 0.0, result.MapSegments[0].DistanceFromOriginKm, 1e-9)
	assert.InDelta(t, 20.0, result.MapSegments[1].DistanceFromOriginKm, 1e-9)
	assert.InDelta(t, 40.0, result.MapSegments[2].DistanceFromOriginKm, 1e-9)
}

func TestAssembleOriginCityFilter(t *testing.T) {
	route := southboundRoute(60)
	segs := testSegmentsAlong(route, 3, 20)
	segPOIs := &fakeSegmentPOIStore{associations: map[string][]segments.SegmentPOI{}}
	poiStore := &fakePOIStore{pois: map[uuid.UUID]*poi.POI{}}

	// Three survivors plus two POIs inside the origin city. The filtered
	// two are distant, so any junction computation for them would hit the
	// routing stub, which fails the test by proving the filter ran late.
	keep1 := nearbyPOI(poiStore, "Posto A", "Betim", route, 5)
	keep2 := nearbyPOI(poiStore, "Posto B", "Igarape", route, 25)
	keep3 := nearbyPOI(poiStore, "Posto C", "", route, 45)
	inOrigin1 := nearbyPOI(poiStore, "Posto D", "Belo Horizonte", route, 10)
	inOrigin2 := nearbyPOI(poiStore, "Posto E", "belo horizonte", route, 30)

	associate(segPOIs, segs[0], keep1, 5, 200)
	associate(segPOIs, segs[1], keep2, 5, 200)
	associate(segPOIs, segs[2], keep3, 5, 200)
	associate(segPOIs, segs[0], inOrigin1, 10, 2000)
	associate(segPOIs, segs[1], inOrigin2, 10, 2000)

	routing := &routeStub{err: errors.New("routing must not run for filtered pois")}
	assembler := newTestAssembler(segPOIs, poiStore, &geocoderStub{}, routing)

	result, err := assembler.Assemble(context.Background(), uuid.New(), segs, route, 60, "Belo Horizonte", nil)
	require.NoError(t, err)

	require.Len(t, result.MapPOIs, 3)
	assert.Equal(t, 0, routing.calls)
	for _, mp := range result.MapPOIs {
		assert.NotEqual(t, inOrigin1.ID, mp.POIID)
		assert.NotEqual(t, inOrigin2.ID, mp.POIID)
	}
}

func TestAssembleSkipsDisabledPOIs(t *testing.T) {
	route := southboundRoute(20)
	segs := testSegmentsAlong(route, 1, 20)
	segPOIs := &fakeSegmentPOIStore{associations: map[string][]segments.SegmentPOI{}}
	poiStore := &fakePOIStore{pois: map[uuid.UUID]*poi.POI{}}

	active := nearbyPOI(poiStore, "Posto Ativo", "Betim", route, 5)
	disabled := nearbyPOI(poiStore, "Posto Fechado", "Betim", route, 10)
	disabled.IsDisabled = true

	associate(segPOIs, segs[0], active, 5, 200)
	associate(segPOIs, segs[0], disabled, 10, 200)

	assembler := newTestAssembler(segPOIs, poiStore, &geocoderStub{}, &routeStub{})
	result, err := assembler.Assemble(context.Background(), uuid.New(), segs, route, 20, "", nil)
	require.NoError(t, err)

	require.Len(t, result.MapPOIs, 1)
	assert.Equal(t, active.ID, result.MapPOIs[0].POIID)
}

func TestAssembleDeduplicatesByPOI(t *testing.T) {
	route := southboundRoute(40)
	segs := testSegmentsAlong(route, 2, 20)
	segPOIs := &fakeSegmentPOIStore{associations: map[string][]segments.SegmentPOI{}}
	poiStore := &fakePOIStore{pois: map[uuid.UUID]*poi.POI{}}

	// The same station discovered from both segments; the second sighting
	// is closer
	p := nearbyPOI(poiStore, "Posto Compartilhado", "Betim", route, 20)
	associate(segPOIs, segs[0], p, 20, 450)
	associate(segPOIs, segs[1], p, 0, 180)

	assembler := newTestAssembler(segPOIs, poiStore, &geocoderStub{}, &routeStub{})
	result, err := assembler.Assemble(context.Background(), uuid.New(), segs, route, 40, "", nil)
	require.NoError(t, err)

	require.Len(t, result.MapPOIs, 1)
	mp := result.MapPOIs[0]
	assert.Equal(t, p.ID, mp.POIID)
	assert.InDelta(t, 180, mp.DistanceFromRoadMeters, 1e-6)
	assert.Equal(t, 1, mp.SegmentIndex)
}

func TestAssembleFillsMissingCityAndFilters(t *testing.T) {
	route := southboundRoute(20)
	segs := testSegmentsAlong(route, 1, 20)
	segPOIs := &fakeSegmentPOIStore{associations: map[string][]segments.SegmentPOI{}}
	poiStore := &fakePOIStore{pois: map[uuid.UUID]*poi.POI{}}

	unknownCity := nearbyPOI(poiStore, "Posto Sem Cidade", "", route, 8)
	associate(segPOIs, segs[0], unknownCity, 8, 200)

	geocoder := &geocoderStub{city: "Belo Horizonte"}
	assembler := newTestAssembler(segPOIs, poiStore, geocoder, &routeStub{})

	result, err := assembler.Assemble(context.Background(), uuid.New(), segs, route, 20, "Belo Horizonte", nil)
	require.NoError(t, err)

	// The reverse-geocoded city matches the origin, so the POI is filtered
	assert.Empty(t, result.MapPOIs)
	assert.Equal(t, 1, geocoder.revCalls)
	assert.Equal(t, "Belo Horizonte", poiStore.cityUpdates[unknownCity.ID])
}

func TestAssembleOrderedPOIs(t *testing.T) {
	route := southboundRoute(60)
	segs := testSegmentsAlong(route, 3, 20)
	segPOIs := &fakeSegmentPOIStore{associations: map[string][]segments.SegmentPOI{}}
	poiStore := &fakePOIStore{pois: map[uuid.UUID]*poi.POI{}}

	// POIs at 10, 30, and 50 km, matching the smoke scenario shape
	for _, km := range []int{10, 30, 50} {
		p := nearbyPOI(poiStore, "Posto", "Betim", route, km)
		// West of a southbound road is the driver's right
		p.Longitude = route[km].Lon - lonOffsetKm(0.2)
		segIdx := km / 20
		associate(segPOIs, segs[segIdx], p, km%20, 200)
	}

	assembler := newTestAssembler(segPOIs, poiStore, &geocoderStub{}, &routeStub{})
	result, err := assembler.Assemble(context.Background(), uuid.New(), segs, route, 60, "", nil)
	require.NoError(t, err)

	require.Len(t, result.MapPOIs, 3)
	previous := -1.0
	for _, mp := range result.MapPOIs {
		assert.Greater(t, mp.DistanceFromOriginKm, previous)
		previous = mp.DistanceFromOriginKm
		assert.Equal(t, SideRight, mp.Side)
		assert.False(t, mp.RequiresDetour)
	}
}

func TestAssembleDebugCollector(t *testing.T) {
	route := southboundRoute(20)
	segs := testSegmentsAlong(route, 1, 20)
	segPOIs := &fakeSegmentPOIStore{associations: map[string][]segments.SegmentPOI{}}
	poiStore := &fakePOIStore{pois: map[uuid.UUID]*poi.POI{}}

	p := nearbyPOI(poiStore, "Posto Debug", "Betim", route, 5)
	associate(segPOIs, segs[0], p, 5, 200)

	assembler := newTestAssembler(segPOIs, poiStore, &geocoderStub{}, &routeStub{})
	debug := &DebugCollector{}
	_, err := assembler.Assemble(context.Background(), uuid.New(), segs, route, 20, "", debug)
	require.NoError(t, err)

	require.Len(t, debug.Entries, 1)
	entry := debug.Entries[0]
	assert.Equal(t, p.ID, entry.POIID)
	assert.NotEmpty(t, entry.MainRouteWindow)
	assert.NotZero(t, entry.CrossProduct)
	assert.Equal(t, SideLeft, entry.Side)
}

func TestStatsSummarizesAssembly(t *testing.T) {
	result := &AssembleResult{
		MapSegments: make([]MapSegment, 3),
		MapPOIs: []MapPOI{
			{Side: SideLeft, POI: &poi.POI{Type: providers.CategoryGasStation}},
			{Side: SideRight, POI: &poi.POI{Type: providers.CategoryGasStation}},
			{Side: SideRight, POI: &poi.POI{Type: providers.CategoryRestaurant}},
		},
	}
	stats := Stats(result, 300)

	assert.Equal(t, 3, stats.TotalSegments)
	assert.Equal(t, 3, stats.TotalPOIs)
	assert.Equal(t, 2, stats.POIsByType["gas_station"])
	assert.Equal(t, 1, stats.POIsBySide[SideLeft])
	assert.Equal(t, 2, stats.POIsBySide[SideRight])
	assert.InDelta(t, 300.0, stats.TotalLengthKm, 1e-9)
}
