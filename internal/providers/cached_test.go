package providers

import (
	"context"
	"testing"
	"time"

	"github.com/mapalinear/mapalinear/internal/geocache"
	"github.com/mapalinear/mapalinear/pkg/config"
	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory geocache.Store
type memStore struct {
	entries map[string]*geocache.Entry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*geocache.Entry)}
}

func (m *memStore) Get(ctx context.Context, key string) (*geocache.Entry, error) {
	entry, ok := m.entries[key]
	if !ok || entry.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	return entry, nil
}

func (m *memStore) ListLive(ctx context.Context, provider, operation string, limit int) ([]geocache.Entry, error) {
	var live []geocache.Entry
	for _, entry := range m.entries {
		if entry.Provider == provider && entry.Operation == operation && entry.ExpiresAt.After(time.Now()) {
			live = append(live, *entry)
		}
	}
	return live, nil
}

func (m *memStore) Upsert(ctx context.Context, entry *geocache.Entry) error {
	stored := *entry
	m.entries[entry.Key] = &stored
	return nil
}

func (m *memStore) IncrementHit(ctx context.Context, key string) error { return nil }

func (m *memStore) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	return 0, nil
}

func (m *memStore) DeleteAll(ctx context.Context) (int64, error) { return 0, nil }

func (m *memStore) DeleteExpired(ctx context.Context) (int64, error) { return 0, nil }

func (m *memStore) Stats(ctx context.Context) (*geocache.Stats, error) {
	return &geocache.Stats{ByOperation: map[string]int64{}}, nil
}

// countingProvider records upstream calls
type countingProvider struct {
	stubProvider
	geocodeCalls int
	searchCalls  int
}

func (c *countingProvider) Geocode(ctx context.Context, address string) (*GeoLocation, error) {
	c.geocodeCalls++
	return &GeoLocation{Latitude: -19.9191, Longitude: -43.9386, City: "Belo Horizonte"}, nil
}

func (c *countingProvider) SearchPOIs(ctx context.Context, center geo.Point, radiusM float64, categories []POICategory, limit int) ([]POI, error) {
	c.searchCalls++
	return []POI{{ProviderID: "node/1", Provider: "osm", Name: "Posto"}}, nil
}

func newCachedTestProvider() (*CachedProvider, *countingProvider) {
	inner := &countingProvider{stubProvider: stubProvider{name: "osm"}}
	ttls := config.CacheConfig{GeocodeTTL: 3600, RouteTTL: 3600, POISearchTTL: 3600, POIDetailsTTL: 3600}
	return NewCachedProvider(inner, geocache.New(newMemStore()), ttls), inner
}

func TestCachedGeocodeSkipsUpstreamOnHit(t *testing.T) {
	cached, inner := newCachedTestProvider()
	ctx := context.Background()

	first, err := cached.Geocode(ctx, "Belo Horizonte, MG")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, inner.geocodeCalls)

	second, err := cached.Geocode(ctx, "Belo Horizonte, MG")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.geocodeCalls, "second lookup must be served from cache")
}

func TestCachedGeocodeSemanticVariant(t *testing.T) {
	cached, inner := newCachedTestProvider()
	ctx := context.Background()

	_, err := cached.Geocode(ctx, "Avenida Paulista, São Paulo, SP")
	require.NoError(t, err)
	require.Equal(t, 1, inner.geocodeCalls)

	// Abbreviated variant of the same address hits via semantic fallback
	location, err := cached.Geocode(ctx, "Av. Paulista, Sao Paulo, SP")
	require.NoError(t, err)
	require.NotNil(t, location)
	assert.Equal(t, 1, inner.geocodeCalls, "no upstream call for semantic variant")
}

func TestCachedSearchPOIs(t *testing.T) {
	cached, inner := newCachedTestProvider()
	ctx := context.Background()
	center := geo.Point{Lat: -20.0, Lon: -44.0}

	first, err := cached.SearchPOIs(ctx, center, 1000, []POICategory{CategoryGasStation}, 20)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, inner.searchCalls)

	second, err := cached.SearchPOIs(ctx, center, 1000, []POICategory{CategoryGasStation}, 20)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.searchCalls)
}
