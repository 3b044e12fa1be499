package linearmap

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mapalinear/mapalinear/internal/poi"
	"github.com/mapalinear/mapalinear/internal/providers"
	"github.com/mapalinear/mapalinear/internal/segments"
	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/logger"
	"go.uber.org/zap"
)

// debugWindowPoints bounds the main-route window recorded per POI when a
// debug collector is attached
const debugWindowPoints = 50

// SegmentPOIStore loads the POI associations of a segment
type SegmentPOIStore interface {
	GetSegmentPOIs(ctx context.Context, segmentID string) ([]segments.SegmentPOI, error)
}

// POIStore loads and touches canonical POIs during assembly
type POIStore interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*poi.POI, error)
	UpdateCity(ctx context.Context, id uuid.UUID, city string) error
}

// Assembler turns a set of route segments plus their discovered POIs into
// the ordered MapSegments and MapPOIs of one linear map
type Assembler struct {
	segmentPOIs SegmentPOIStore
	pois        POIStore
	geocoder    providers.Provider
	junctions   *JunctionCalculator
}

// NewAssembler creates an assembler. The geocoder fills missing POI cities
// by reverse geocoding before the origin-city filter runs.
func NewAssembler(segmentPOIs SegmentPOIStore, pois POIStore, geocoder providers.Provider, junctions *JunctionCalculator) *Assembler {
	return &Assembler{
		segmentPOIs: segmentPOIs,
		pois:        pois,
		geocoder:    geocoder,
		junctions:   junctions,
	}
}

// AssembleResult is the in-memory outcome of map assembly, persisted by
// the repository in one transaction
type AssembleResult struct {
	MapSegments []MapSegment
	MapPOIs     []MapPOI
}

type poiCandidate struct {
	segPOI     segments.SegmentPOI
	mapSegment *MapSegment
	poi        *poi.POI
}

// Assemble builds MapSegments in route order and computes a MapPOI for
// every surviving POI discovery. originCity filters out POIs inside the
// origin city; debug may be nil.
func (a *Assembler) Assemble(ctx context.Context, mapID uuid.UUID, segs []*segments.RouteSegment, routeGeometry []geo.Point, routeTotalKm float64, originCity string, debug *DebugCollector) (*AssembleResult, error) {
	mapSegments := buildMapSegments(mapID, segs)
	globalSPs := BuildGlobalSearchPoints(mapSegments)

	candidates, err := a.collectCandidates(ctx, mapSegments)
	if err != nil {
		return nil, err
	}

	a.fillMissingCities(ctx, candidates)
	candidates = filterCandidates(ctx, candidates, originCity)

	mapPOIs := a.computeMapPOIs(ctx, mapID, candidates, routeGeometry, routeTotalKm, globalSPs, debug)

	logger.InfoContext(ctx, "map assembled",
		zap.String("map_id", mapID.String()),
		zap.Int("segments", len(mapSegments)),
		zap.Int("pois", len(mapPOIs)),
	)
	return &AssembleResult{MapSegments: mapSegments, MapPOIs: mapPOIs}, nil
}

// buildMapSegments assigns dense sequence orders and cumulative distances
func buildMapSegments(mapID uuid.UUID, segs []*segments.RouteSegment) []MapSegment {
	mapSegments := make([]MapSegment, 0, len(segs))
	cumulative := 0.0
	for i, segment := range segs {
		mapSegments = append(mapSegments, MapSegment{
			ID:                   uuid.New(),
			MapID:                mapID,
			SegmentID:            segment.ID,
			SequenceOrder:        i,
			DistanceFromOriginKm: cumulative,
			Segment:              segment,
		})
		cumulative += segment.LengthKm
	}
	return mapSegments
}

// collectCandidates loads every segment's POI associations with POI data
func (a *Assembler) collectCandidates(ctx context.Context, mapSegments []MapSegment) ([]poiCandidate, error) {
	var candidates []poiCandidate
	idSet := make(map[uuid.UUID]bool)

	for i := range mapSegments {
		ms := &mapSegments[i]
		associations, err := a.segmentPOIs.GetSegmentPOIs(ctx, ms.SegmentID.String())
		if err != nil {
			return nil, fmt.Errorf("failed to load segment pois: %w", err)
		}
		for _, assoc := range associations {
			candidates = append(candidates, poiCandidate{segPOI: assoc, mapSegment: ms})
			idSet[assoc.POIID] = true
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	pois, err := a.pois.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load pois: %w", err)
	}

	withData := candidates[:0]
	for _, candidate := range candidates {
		p, ok := pois[candidate.segPOI.POIID]
		if !ok {
			continue
		}
		candidate.poi = p
		withData = append(withData, candidate)
	}
	return withData, nil
}

// fillMissingCities reverse geocodes POIs lacking a city so the origin
// filter can see them. Failures are logged and the POI keeps its empty
// city.
func (a *Assembler) fillMissingCities(ctx context.Context, candidates []poiCandidate) {
	resolved := make(map[uuid.UUID]bool)
	for _, candidate := range candidates {
		p := candidate.poi
		if p.City != "" || resolved[p.ID] {
			continue
		}
		resolved[p.ID] = true

		location, err := a.geocoder.ReverseGeocode(ctx, p.Latitude, p.Longitude, p.Name)
		if err != nil || location == nil || location.City == "" {
			if err != nil {
				logger.DebugContext(ctx, "reverse geocode failed for poi city",
					zap.String("poi_id", p.ID.String()), zap.Error(err))
			}
			continue
		}
		p.City = location.City
		if err := a.pois.UpdateCity(ctx, p.ID, location.City); err != nil {
			logger.WarnContext(ctx, "failed to persist poi city",
				zap.String("poi_id", p.ID.String()), zap.Error(err))
		}
	}
}

// filterCandidates drops disabled POIs and POIs inside the origin city
// before any routing work happens
func filterCandidates(ctx context.Context, candidates []poiCandidate, originCity string) []poiCandidate {
	origin := strings.ToLower(strings.TrimSpace(originCity))
	kept := candidates[:0]
	dropped := 0
	for _, candidate := range candidates {
		if candidate.poi.IsDisabled {
			dropped++
			continue
		}
		if origin != "" && strings.ToLower(strings.TrimSpace(candidate.poi.City)) == origin {
			dropped++
			continue
		}
		kept = append(kept, candidate)
	}
	if dropped > 0 {
		logger.DebugContext(ctx, "filtered pois before junction calculation",
			zap.Int("dropped", dropped), zap.Int("kept", len(kept)))
	}
	return kept
}

// computeMapPOIs runs the junction calculation per candidate and keeps,
// per POI, the result with the smallest access distance
func (a *Assembler) computeMapPOIs(ctx context.Context, mapID uuid.UUID, candidates []poiCandidate, routeGeometry []geo.Point, routeTotalKm float64, globalSPs []GlobalSearchPoint, debug *DebugCollector) []MapPOI {
	type winner struct {
		candidate poiCandidate
		result    *JunctionResult
	}
	best := make(map[uuid.UUID]winner)
	var order []uuid.UUID

	for _, candidate := range candidates {
		result, err := a.junctions.Compute(ctx, JunctionInput{
			POILat:                candidate.poi.Latitude,
			POILon:                candidate.poi.Longitude,
			StraightLineDistanceM: candidate.segPOI.StraightLineDistanceM,
			SearchPointIndex:      candidate.segPOI.SearchPointIndex,
			MapSegment:            candidate.mapSegment,
			Segment:               candidate.mapSegment.Segment,
			RouteGeometry:         routeGeometry,
			RouteTotalKm:          routeTotalKm,
			GlobalSearchPoints:    globalSPs,
		})
		if err != nil {
			logger.WarnContext(ctx, "junction calculation failed, skipping poi",
				zap.String("poi_id", candidate.poi.ID.String()), zap.Error(err))
			debug.record(POIDebugEntry{POIID: candidate.poi.ID, POIName: candidate.poi.Name, Skipped: true, SkipReason: err.Error()})
			continue
		}
		if result == nil {
			debug.record(POIDebugEntry{POIID: candidate.poi.ID, POIName: candidate.poi.Name, Skipped: true, SkipReason: "access route unavailable"})
			continue
		}

		debug.record(a.debugEntry(candidate, result, routeGeometry))

		id := candidate.poi.ID
		if existing, ok := best[id]; ok {
			if result.AccessDistanceKm < existing.result.AccessDistanceKm {
				best[id] = winner{candidate: candidate, result: result}
			}
			continue
		}
		best[id] = winner{candidate: candidate, result: result}
		order = append(order, id)
	}

	mapPOIs := make([]MapPOI, 0, len(best))
	for _, id := range order {
		w := best[id]
		mapPOIs = append(mapPOIs, MapPOI{
			ID:                     uuid.New(),
			MapID:                  mapID,
			POIID:                  id,
			SegmentIndex:           w.candidate.mapSegment.SequenceOrder,
			DistanceFromOriginKm:   w.result.JunctionDistanceKm,
			DistanceFromRoadMeters: w.result.AccessDistanceKm * 1000,
			Side:                   w.result.Side,
			JunctionLat:            w.result.JunctionLat,
			JunctionLon:            w.result.JunctionLon,
			JunctionDistanceKm:     w.result.JunctionDistanceKm,
			RequiresDetour:         w.result.RequiresDetour,
			QualityScore:           w.candidate.poi.QualityScore,
			POI:                    w.candidate.poi,
		})
	}
	return mapPOIs
}

func (a *Assembler) debugEntry(candidate poiCandidate, result *JunctionResult, routeGeometry []geo.Point) POIDebugEntry {
	junctionIdx := geo.ClosestPointIndex(routeGeometry, result.JunctionLat, result.JunctionLon)
	side, cross := SideOfRoute(routeGeometry, junctionIdx, candidate.poi.Latitude, candidate.poi.Longitude)

	lo := junctionIdx - debugWindowPoints
	if lo < 0 {
		lo = 0
	}
	hi := junctionIdx + debugWindowPoints
	if hi > len(routeGeometry) {
		hi = len(routeGeometry)
	}

	prev := junctionIdx - 1
	next := junctionIdx + 1
	if prev < 0 {
		prev = 0
	}
	if next >= len(routeGeometry) {
		next = len(routeGeometry) - 1
	}
	junction := routeGeometry[junctionIdx]

	return POIDebugEntry{
		POIID:               candidate.poi.ID,
		POIName:             candidate.poi.Name,
		MainRouteWindow:     routeGeometry[lo:hi],
		AccessRouteGeometry: result.AccessRouteGeometry,
		DirectionDx:         routeGeometry[next].Lon - routeGeometry[prev].Lon,
		DirectionDy:         routeGeometry[next].Lat - routeGeometry[prev].Lat,
		POIVectorPx:         candidate.poi.Longitude - junction.Lon,
		POIVectorPy:         candidate.poi.Latitude - junction.Lat,
		CrossProduct:        cross,
		Side:                side,
		RemainingRouteKm:    geo.DistanceFromPointToEnd(routeGeometry, junction.Lat, junction.Lon),
	}
}

// Stats summarizes an assembled map
func Stats(result *AssembleResult, totalLengthKm float64) MapStats {
	stats := MapStats{
		TotalSegments: len(result.MapSegments),
		TotalPOIs:     len(result.MapPOIs),
		POIsByType:    make(map[string]int),
		POIsBySide:    make(map[Side]int),
		TotalLengthKm: totalLengthKm,
	}
	for _, mp := range result.MapPOIs {
		if mp.POI != nil {
			stats.POIsByType[string(mp.POI.Type)]++
		}
		stats.POIsBySide[mp.Side]++
	}
	return stats
}
