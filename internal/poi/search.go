package poi

import (
	"context"
	"fmt"

	"github.com/mapalinear/mapalinear/internal/providers"
	"github.com/mapalinear/mapalinear/internal/segments"
	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/logger"
	"go.uber.org/zap"
)

const (
	searchResultLimit = 20

	// Systemic failure thresholds: abort the generation when the provider
	// looks down instead of producing a silently empty map
	maxConsecutiveFailures = 5
	failureRateThreshold   = 0.9
	failureRateMinAttempts = 5
)

// ErrProviderUnavailable aborts a generation when POI search failures look
// systemic rather than transient
var ErrProviderUnavailable = fmt.Errorf("poi provider appears unavailable")

// Searcher queries the POI provider at each segment search point. One
// Searcher tracks failures for one map generation; create a fresh one per
// pipeline run.
type Searcher struct {
	provider providers.Provider

	attempts    int
	failures    int
	consecutive int
}

// NewSearcher creates a searcher bound to a POI provider
func NewSearcher(provider providers.Provider) *Searcher {
	return &Searcher{provider: provider}
}

// SearchForSegment queries every search point of the segment and returns
// deduplicated discoveries. Individual search point failures are logged
// and skipped; a systemic failure pattern aborts with
// ErrProviderUnavailable.
func (s *Searcher) SearchForSegment(ctx context.Context, segment *segments.RouteSegment, categories []providers.POICategory, maxDistanceM float64) ([]Discovery, error) {
	if len(segment.SearchPoints) == 0 {
		return nil, nil
	}

	// Keep the closest discovery per provider id
	best := make(map[string]Discovery)
	var order []string

	for _, sp := range segment.SearchPoints {
		center := geo.Point{Lat: sp.Lat, Lon: sp.Lon}
		pois, err := s.provider.SearchPOIs(ctx, center, maxDistanceM, categories, searchResultLimit)

		s.attempts++
		if err != nil {
			s.failures++
			s.consecutive++
			logger.WarnContext(ctx, "poi search failed at search point, continuing",
				zap.String("segment_id", segment.ID.String()),
				zap.Int("search_point", sp.Index),
				zap.Error(err),
			)
			if systemic := s.checkSystemicFailure(); systemic != nil {
				return nil, systemic
			}
			continue
		}
		s.consecutive = 0

		for _, p := range pois {
			if p.IsAbandoned {
				continue
			}
			distance := geo.Haversine(sp.Lat, sp.Lon, p.Latitude, p.Longitude)
			if existing, ok := best[p.ProviderID]; ok {
				if distance < existing.StraightLineDistanceM {
					best[p.ProviderID] = Discovery{POI: p, SearchPointIndex: sp.Index, StraightLineDistanceM: distance}
				}
				continue
			}
			best[p.ProviderID] = Discovery{POI: p, SearchPointIndex: sp.Index, StraightLineDistanceM: distance}
			order = append(order, p.ProviderID)
		}
	}

	discoveries := make([]Discovery, 0, len(best))
	for _, providerID := range order {
		discoveries = append(discoveries, best[providerID])
	}
	return discoveries, nil
}

func (s *Searcher) checkSystemicFailure() error {
	if s.consecutive >= maxConsecutiveFailures {
		return fmt.Errorf("%w: %d consecutive search failures", ErrProviderUnavailable, s.consecutive)
	}
	if s.attempts >= failureRateMinAttempts {
		rate := float64(s.failures) / float64(s.attempts)
		if rate > failureRateThreshold {
			return fmt.Errorf("%w: %.0f%% of %d searches failed", ErrProviderUnavailable, rate*100, s.attempts)
		}
	}
	return nil
}
