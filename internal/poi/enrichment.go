package poi

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/mapalinear/mapalinear/internal/geocache"
	"github.com/mapalinear/mapalinear/internal/providers"
	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/logger"
	"go.uber.org/zap"
)

const (
	// enrichmentSearchRadiusM bounds the HERE candidate search around a POI
	enrichmentSearchRadiusM = 500.0
	// nameMatchWeight and distanceMatchWeight combine into the match score
	nameMatchWeight     = 0.4
	distanceMatchWeight = 0.6
	// matchScoreThreshold accepts a candidate; so does being practically
	// colocated regardless of name
	matchScoreThreshold  = 0.3
	colocationDistanceM  = 50.0
	candidateSearchLimit = 10
)

// enrichableTypes are the POI types worth a second-pass HERE lookup
var enrichableTypes = map[providers.POICategory]bool{
	providers.CategoryGasStation:  true,
	providers.CategoryRestaurant:  true,
	providers.CategoryHotel:       true,
	providers.CategoryHospital:    true,
	providers.CategoryPharmacy:    true,
	providers.CategoryBank:        true,
	providers.CategoryATM:         true,
	providers.CategoryCafe:        true,
	providers.CategoryFastFood:    true,
	providers.CategorySupermarket: true,
	providers.CategoryMechanic:    true,
}

// Enrichment holds second-pass fields merged into a canonical POI
type Enrichment struct {
	Provider     string
	HEREID       string
	Phone        string
	Website      string
	OpeningHours string
}

// EnrichmentStore applies enrichment to persisted POIs
type EnrichmentStore interface {
	ApplyEnrichment(ctx context.Context, id uuid.UUID, e Enrichment) error
}

// Enricher augments OSM-sourced POIs with contact details from HERE,
// matched by proximity and name similarity
type Enricher struct {
	here providers.Provider
	repo EnrichmentStore
}

// NewEnricher creates an enricher using the given HERE provider
func NewEnricher(here providers.Provider, repo EnrichmentStore) *Enricher {
	return &Enricher{here: here, repo: repo}
}

// EnrichPOIs runs a best-match HERE lookup for every enrichable POI and
// merges the winner's contact fields. Failures are logged per POI and
// never abort the batch. Returns how many POIs were enriched.
func (e *Enricher) EnrichPOIs(ctx context.Context, pois []*POI) int {
	enriched := 0
	for _, p := range pois {
		if !enrichableTypes[p.Type] {
			continue
		}
		if ok := e.enrichOne(ctx, p); ok {
			enriched++
		}
	}
	logger.InfoContext(ctx, "here enrichment pass finished",
		zap.Int("candidates", len(pois)),
		zap.Int("enriched", enriched),
	)
	return enriched
}

func (e *Enricher) enrichOne(ctx context.Context, p *POI) bool {
	center := geo.Point{Lat: p.Latitude, Lon: p.Longitude}
	candidates, err := e.here.SearchPOIs(ctx, center, enrichmentSearchRadiusM,
		[]providers.POICategory{p.Type}, candidateSearchLimit)
	if err != nil {
		logger.DebugContext(ctx, "enrichment search failed, skipping poi",
			zap.String("poi_id", p.ID.String()), zap.Error(err))
		return false
	}

	match, ok := BestMatch(p.Name, p.Latitude, p.Longitude, candidates)
	if !ok {
		return false
	}

	enrichment := Enrichment{
		Provider:     "here",
		HEREID:       match.ProviderID,
		Phone:        match.Phone,
		Website:      match.Website,
		OpeningHours: match.OpeningHours,
	}
	if err := e.repo.ApplyEnrichment(ctx, p.ID, enrichment); err != nil {
		logger.WarnContext(ctx, "failed to persist enrichment",
			zap.String("poi_id", p.ID.String()), zap.Error(err))
		return false
	}

	// Mirror the merge in memory so callers see the enriched view
	if p.HEREID == nil && match.ProviderID != "" {
		hereID := match.ProviderID
		p.HEREID = &hereID
	}
	if p.Phone == "" {
		p.Phone = match.Phone
	}
	if p.Website == "" {
		p.Website = match.Website
	}
	if p.OpeningHours == "" {
		p.OpeningHours = match.OpeningHours
	}
	p.EnrichedBy = appendUnique(p.EnrichedBy, "here")
	return true
}

// BestMatch picks the candidate with the highest combined name/distance
// score. A candidate wins when its score clears the threshold or it sits
// within colocation distance.
func BestMatch(name string, lat, lon float64, candidates []providers.POI) (providers.POI, bool) {
	var best providers.POI
	bestScore := -1.0
	bestDistance := 0.0

	for _, candidate := range candidates {
		distance := geo.Haversine(lat, lon, candidate.Latitude, candidate.Longitude)
		distanceScore := 1 - distance/enrichmentSearchRadiusM
		if distanceScore < 0 {
			distanceScore = 0
		}
		score := nameMatchWeight*nameSimilarity(name, candidate.Name) + distanceMatchWeight*distanceScore
		if score > bestScore {
			best = candidate
			bestScore = score
			bestDistance = distance
		}
	}

	if bestScore < 0 {
		return providers.POI{}, false
	}
	if bestScore >= matchScoreThreshold || bestDistance < colocationDistanceM {
		return best, true
	}
	return providers.POI{}, false
}

func nameSimilarity(a, b string) float64 {
	return geocache.JaccardSimilarity(strings.ToLower(a), strings.ToLower(b))
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
