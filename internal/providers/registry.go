package providers

import (
	"fmt"
	"time"

	"github.com/mapalinear/mapalinear/pkg/config"
	"github.com/mapalinear/mapalinear/pkg/httpclient"
	"github.com/mapalinear/mapalinear/pkg/resilience"
)

// breakerResetTimeout is how long an endpoint breaker stays open before
// letting a trial request through
const breakerResetTimeout = 30 * time.Second

// endpointBreaker builds the circuit-breaker option shared by every
// provider endpoint client. Five consecutive exhausted-retry failures
// open the breaker for breakerResetTimeout.
func endpointBreaker(name string) httpclient.Option {
	return httpclient.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.Settings{
		Name:    name,
		Timeout: breakerResetTimeout,
	}, nil))
}

// Registry holds one instance per provider kind and resolves which one
// serves each capability. Routing always goes through OSM (OSRM); POI
// search is selected by configuration.
type Registry struct {
	providers         map[string]Provider
	poiProviderName   string
	enrichmentEnabled bool
}

// NewRegistry creates a registry from the provider configuration
func NewRegistry(cfg config.ProvidersConfig) *Registry {
	return &Registry{
		providers:         make(map[string]Provider),
		poiProviderName:   cfg.POIProvider,
		enrichmentEnabled: cfg.HEREEnrichmentEnabled,
	}
}

// Register adds a provider under its own name
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns a provider by name
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered", name)
	}
	return p, nil
}

// Routing returns the routing provider. Routing is always delegated to
// OSM's OSRM regardless of the configured POI provider.
func (r *Registry) Routing() (Provider, error) {
	return r.Get("osm")
}

// POISearch returns the configured POI search provider
func (r *Registry) POISearch() (Provider, error) {
	return r.Get(r.poiProviderName)
}

// Geocoding returns the provider used for geocode and reverse geocode.
// It follows the POI provider so cache keys and city naming stay
// consistent within a single map generation.
func (r *Registry) Geocoding() (Provider, error) {
	return r.POISearch()
}

// Enrichment returns the HERE provider when enrichment applies: the flag
// is on and the primary POI provider is OSM. The boolean is false when
// enrichment should be skipped.
func (r *Registry) Enrichment() (Provider, bool) {
	if !r.enrichmentEnabled || r.poiProviderName != "osm" {
		return nil, false
	}
	p, ok := r.providers["here"]
	return p, ok
}
