package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("mapalinear-test")
	require.NoError(t, err)

	assert.Equal(t, "osm", cfg.Providers.POIProvider)
	assert.False(t, cfg.Providers.HEREEnrichmentEnabled)
	assert.Equal(t, 604800, cfg.Cache.GeocodeTTL)
	assert.Equal(t, 21600, cfg.Cache.RouteTTL)
	assert.Equal(t, 86400, cfg.Cache.POISearchTTL)
	assert.Equal(t, 43200, cfg.Cache.POIDetailsTTL)
	assert.Equal(t, 2592000, cfg.Cache.GooglePlacesTTL)
	assert.Equal(t, 1.0, cfg.RateLimit.OSMPerSecond)
	assert.Equal(t, 5.0, cfg.RateLimit.HEREPerSecond)
	assert.Equal(t, 10, cfg.Tuning.LookbackMilestones)
	assert.Equal(t, 5.0, cfg.Tuning.DuplicateMapToleranceKm)
	assert.Equal(t, 0, cfg.Database.MinConns)
	assert.Equal(t, 50, cfg.Database.MaxConns)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("POI_PROVIDER", "google")
	_, err := Load("mapalinear-test")
	require.Error(t, err)
}

func TestLoadRequiresHEREKey(t *testing.T) {
	t.Setenv("POI_PROVIDER", "here")
	t.Setenv("HERE_API_KEY", "")
	_, err := Load("mapalinear-test")
	require.Error(t, err)

	t.Setenv("HERE_API_KEY", "test-key")
	cfg, err := Load("mapalinear-test")
	require.NoError(t, err)
	assert.Equal(t, "here", cfg.Providers.POIProvider)
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5433", User: "u", Password: "p", DBName: "maps", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=maps sslmode=disable", c.DSN())
}
