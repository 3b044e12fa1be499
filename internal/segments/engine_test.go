package segments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mapalinear/mapalinear/internal/providers"
	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStability(t *testing.T) {
	base := Hash(-19.91912, -43.93861, -20.50000, -44.10000, "")

	// Values that round to the same 4 decimals share the hash
	assert.Equal(t, base, Hash(-19.91910, -43.93859, -20.50002, -44.09998, ""))

	// Perturbations below 5e-5 never change the hash
	assert.Equal(t, base, Hash(-19.91912+4e-5, -43.93861, -20.5, -44.1, ""))

	// A change at the 4th decimal does
	assert.NotEqual(t, base, Hash(-19.9192, -43.93861, -20.5, -44.1, ""))
}

func TestHashVersionSuffix(t *testing.T) {
	plain := Hash(-19.9191, -43.9386, -20.5, -44.1, "")
	versioned := Hash(-19.9191, -43.9386, -20.5, -44.1, "1724500000")
	assert.NotEqual(t, plain, versioned)
	assert.Len(t, plain, 32)
}

// straightGeometry builds a north-south polyline of the given length
func straightGeometry(lengthKm float64, points int) []geo.Point {
	geometry := make([]geo.Point, points)
	// 1 degree of latitude is ~111.2 km under the Haversine radius we use
	degPerKm := 1.0 / 111.19492664455873
	for i := range geometry {
		frac := float64(i) / float64(points-1)
		geometry[i] = geo.Point{Lat: -20.0 + frac*lengthKm*degPerKm, Lon: -44.0}
	}
	return geometry
}

func TestGenerateSearchPointsShortSegment(t *testing.T) {
	geometry := straightGeometry(0.9, 5)
	assert.Empty(t, GenerateSearchPoints(geometry, 0.9))
	assert.Empty(t, GenerateSearchPoints(nil, 5.0))
}

func TestGenerateSearchPointsSpacing(t *testing.T) {
	geometry := straightGeometry(5.5, 100)
	points := GenerateSearchPoints(geometry, 5.5)

	// floor(5.5) + 1 points, indices 0..N-1
	require.Len(t, points, 6)
	for i, sp := range points {
		assert.Equal(t, i, sp.Index)
	}

	// Consecutive points are exactly 1 km apart in along-segment distance
	for i := 1; i < len(points); i++ {
		delta := points[i].DistanceFromSegmentStartKm - points[i-1].DistanceFromSegmentStartKm
		assert.InDelta(t, 1.0, delta, 1e-6)
	}

	// First point sits at the segment start
	assert.InDelta(t, geometry[0].Lat, points[0].Lat, 1e-9)

	// Physical spacing matches within a few meters
	gap := geo.Haversine(points[0].Lat, points[0].Lon, points[1].Lat, points[1].Lon)
	assert.InDelta(t, 1000, gap, 5)
}

func TestGenerateSearchPointsExactKilometers(t *testing.T) {
	geometry := straightGeometry(3.0, 50)
	points := GenerateSearchPoints(geometry, 3.0)
	// Targets 0,1,2,3 inclusive
	require.Len(t, points, 4)
	assert.InDelta(t, 3.0, points[3].DistanceFromSegmentStartKm, 1e-9)
}

// fakeSegmentStore is an in-memory Store for engine tests
type fakeSegmentStore struct {
	byHash     map[string]*RouteSegment
	increments map[string]int
	decrements map[string]int
	segPOIs    map[string][]SegmentPOI
	fetched    map[string]bool
}

func newFakeSegmentStore() *fakeSegmentStore {
	return &fakeSegmentStore{
		byHash:     make(map[string]*RouteSegment),
		increments: make(map[string]int),
		decrements: make(map[string]int),
		segPOIs:    make(map[string][]SegmentPOI),
		fetched:    make(map[string]bool),
	}
}

func (f *fakeSegmentStore) GetByHashes(ctx context.Context, hashes []string) (map[string]*RouteSegment, error) {
	found := make(map[string]*RouteSegment)
	for _, hash := range hashes {
		if segment, ok := f.byHash[hash]; ok {
			copied := *segment
			found[hash] = &copied
		}
	}
	return found, nil
}

func (f *fakeSegmentStore) Upsert(ctx context.Context, segment *RouteSegment) error {
	if existing, ok := f.byHash[segment.SegmentHash]; ok {
		existing.UsageCount++
		*segment = *existing
		return nil
	}
	segment.ID = uuid.New()
	segment.CreatedAt = time.Now()
	stored := *segment
	f.byHash[segment.SegmentHash] = &stored
	return nil
}

func (f *fakeSegmentStore) IncrementUsage(ctx context.Context, segmentIDs []string) error {
	for _, id := range segmentIDs {
		f.increments[id]++
		for _, segment := range f.byHash {
			if segment.ID.String() == id {
				segment.UsageCount++
			}
		}
	}
	return nil
}

func (f *fakeSegmentStore) DecrementUsage(ctx context.Context, segmentIDs []string) error {
	for _, id := range segmentIDs {
		f.decrements[id]++
		for _, segment := range f.byHash {
			if segment.ID.String() == id && segment.UsageCount > 0 {
				segment.UsageCount--
			}
		}
	}
	return nil
}

func (f *fakeSegmentStore) UpsertSegmentPOIs(ctx context.Context, associations []SegmentPOI) error {
	for _, assoc := range associations {
		key := assoc.SegmentID.String()
		replaced := false
		for i, existing := range f.segPOIs[key] {
			if existing.POIID == assoc.POIID {
				if assoc.StraightLineDistanceM < existing.StraightLineDistanceM {
					f.segPOIs[key][i] = assoc
				}
				replaced = true
			}
		}
		if !replaced {
			f.segPOIs[key] = append(f.segPOIs[key], assoc)
		}
	}
	return nil
}

func (f *fakeSegmentStore) MarkPOIsFetched(ctx context.Context, segmentID string) error {
	f.fetched[segmentID] = true
	return nil
}

func (f *fakeSegmentStore) GetSegmentPOIs(ctx context.Context, segmentID string) ([]SegmentPOI, error) {
	return f.segPOIs[segmentID], nil
}

func testSteps(n int) []providers.RouteStep {
	steps := make([]providers.RouteStep, n)
	for i := range steps {
		lat := -20.0 - float64(i)*0.1
		steps[i] = providers.RouteStep{
			DistanceM: 11000,
			DurationS: 600,
			RoadName:  "BR-381",
			Geometry: []geo.Point{
				{Lat: lat, Lon: -44.0},
				{Lat: lat - 0.05, Lon: -44.0},
				{Lat: lat - 0.1, Lon: -44.0},
			},
		}
	}
	return steps
}

func TestGetOrCreateSegmentsCreatesAll(t *testing.T) {
	store := newFakeSegmentStore()
	engine := NewEngine(store)

	result, err := engine.GetOrCreateSegments(context.Background(), testSteps(10), false, "")
	require.NoError(t, err)
	assert.Equal(t, 10, result.Created)
	assert.Equal(t, 0, result.Reused)
	require.Len(t, result.Segments, 10)

	for _, segment := range result.Segments {
		assert.Equal(t, 1, segment.UsageCount)
		assert.NotEmpty(t, segment.SearchPoints, "an 11 km step must get search points")
	}
}

func TestGetOrCreateSegmentsReusesByHash(t *testing.T) {
	store := newFakeSegmentStore()
	engine := NewEngine(store)
	ctx := context.Background()

	first, err := engine.GetOrCreateSegments(ctx, testSteps(10), false, "")
	require.NoError(t, err)
	require.Equal(t, 10, first.Created)

	// Overlapping request: 8 shared steps, 2 new ones
	steps := testSteps(8)
	extra := providers.RouteStep{
		DistanceM: 11000,
		Geometry: []geo.Point{
			{Lat: -25.0, Lon: -44.0}, {Lat: -25.1, Lon: -44.0},
		},
	}
	extra2 := providers.RouteStep{
		DistanceM: 11000,
		Geometry: []geo.Point{
			{Lat: -26.0, Lon: -44.0}, {Lat: -26.1, Lon: -44.0},
		},
	}
	steps = append(steps, extra, extra2)

	second, err := engine.GetOrCreateSegments(ctx, steps, false, "")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Created)
	assert.Equal(t, 8, second.Reused)

	// Reused segments carry an incremented usage count
	for i := 0; i < 8; i++ {
		assert.Equal(t, 2, second.Segments[i].UsageCount)
		assert.Equal(t, first.Segments[i].ID, second.Segments[i].ID)
	}
}

func TestGetOrCreateSegmentsForceNew(t *testing.T) {
	store := newFakeSegmentStore()
	engine := NewEngine(store)
	ctx := context.Background()

	first, err := engine.GetOrCreateSegments(ctx, testSteps(3), false, "")
	require.NoError(t, err)
	require.Equal(t, 3, first.Created)

	forced, err := engine.GetOrCreateSegments(ctx, testSteps(3), true, "1724500000")
	require.NoError(t, err)
	assert.Equal(t, 3, forced.Created)
	assert.Equal(t, 0, forced.Reused)
	for i := range forced.Segments {
		assert.NotEqual(t, first.Segments[i].ID, forced.Segments[i].ID)
	}
}

func TestBulkDecrementNeverGoesNegative(t *testing.T) {
	store := newFakeSegmentStore()
	engine := NewEngine(store)
	ctx := context.Background()

	result, err := engine.GetOrCreateSegments(ctx, testSteps(1), false, "")
	require.NoError(t, err)
	id := result.Segments[0].ID.String()

	require.NoError(t, engine.BulkDecrementUsage(ctx, []string{id}))
	require.NoError(t, engine.BulkDecrementUsage(ctx, []string{id}))

	segment := store.byHash[result.Segments[0].SegmentHash]
	assert.Equal(t, 0, segment.UsageCount)
}

func TestAssociatePOIsKeepsClosestDiscovery(t *testing.T) {
	store := newFakeSegmentStore()
	engine := NewEngine(store)
	ctx := context.Background()

	segmentID := uuid.New()
	poiID := uuid.New()

	err := engine.AssociatePOIs(ctx, segmentID.String(), []SegmentPOI{
		{SegmentID: segmentID, POIID: poiID, SearchPointIndex: 2, StraightLineDistanceM: 450},
		{SegmentID: segmentID, POIID: poiID, SearchPointIndex: 3, StraightLineDistanceM: 120},
	})
	require.NoError(t, err)
	assert.True(t, store.fetched[segmentID.String()])

	associations, err := store.GetSegmentPOIs(ctx, segmentID.String())
	require.NoError(t, err)
	require.Len(t, associations, 1)
	assert.Equal(t, 3, associations[0].SearchPointIndex)
	assert.InDelta(t, 120, associations[0].StraightLineDistanceM, 1e-9)
}
