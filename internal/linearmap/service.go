package linearmap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mapalinear/mapalinear/internal/operations"
	"github.com/mapalinear/mapalinear/internal/poi"
	"github.com/mapalinear/mapalinear/internal/providers"
	"github.com/mapalinear/mapalinear/internal/segments"
	"github.com/mapalinear/mapalinear/pkg/async"
	"github.com/mapalinear/mapalinear/pkg/config"
	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/logger"
	"github.com/mapalinear/mapalinear/pkg/metrics"
	"go.uber.org/zap"
)

const (
	// generationTimeout bounds one background map generation
	generationTimeout = 30 * time.Minute
	// statusWriteTimeout bounds the terminal operation update once
	// generation finishes
	statusWriteTimeout = 10 * time.Second
)

// MapStore persists maps; satisfied by *Repository
type MapStore interface {
	CreateMap(ctx context.Context, m *Map, result *AssembleResult) error
	GetMap(ctx context.Context, id uuid.UUID) (*Map, error)
	ListMaps(ctx context.Context, userID *uuid.UUID, limit, offset int) ([]Map, error)
	FindDuplicateMap(ctx context.Context, origin, destination geo.Point, toleranceKm float64) (*Map, error)
	SegmentIDsForMap(ctx context.Context, mapID uuid.UUID) ([]string, error)
	DeleteMap(ctx context.Context, mapID uuid.UUID) (bool, error)
	TouchMap(ctx context.Context, mapID uuid.UUID, now time.Time) error
}

// POIWriter persists canonical POIs during generation
type POIWriter interface {
	UpsertFromProvider(ctx context.Context, p providers.POI) (*poi.POI, error)
	MarkReferenced(ctx context.Context, ids []uuid.UUID, referenced bool) error
}

// Service runs the map-generation pipeline end to end
type Service struct {
	registry  *providers.Registry
	engine    *segments.Engine
	pois      POIWriter
	enricher  *poi.Enricher
	assembler *Assembler
	maps      MapStore
	ops       operations.Store
	tuning    config.TuningConfig
}

// NewService wires the pipeline. enricher may be nil when HERE enrichment
// is disabled.
func NewService(registry *providers.Registry, engine *segments.Engine, pois POIWriter, enricher *poi.Enricher, assembler *Assembler, maps MapStore, ops operations.Store, tuning config.TuningConfig) *Service {
	return &Service{
		registry:  registry,
		engine:    engine,
		pois:      pois,
		enricher:  enricher,
		assembler: assembler,
		maps:      maps,
		ops:       ops,
		tuning:    tuning,
	}
}

// GenerateRequest is one map-generation order
type GenerateRequest struct {
	Origin       string                  `json:"origin" binding:"required"`
	Destination  string                  `json:"destination" binding:"required"`
	Categories   []providers.POICategory `json:"categories,omitempty"`
	MaxDistanceM float64                 `json:"max_distance_m,omitempty"`
	ForceRefresh bool                    `json:"force_refresh,omitempty"`
	Debug        bool                    `json:"debug,omitempty"`
	UserID       *uuid.UUID              `json:"-"`
}

// GenerateResult summarizes a finished generation, stored as the
// operation result
type GenerateResult struct {
	MapID           uuid.UUID `json:"map_id"`
	TotalLengthKm   float64   `json:"total_length_km"`
	SegmentsCreated int       `json:"segments_created"`
	SegmentsReused  int       `json:"segments_reused"`
	TotalPOIs       int       `json:"total_pois"`
	ReusedExisting  bool      `json:"reused_existing,omitempty"`

	// Debug carries per-POI junction traces when the request asked for them
	Debug *DebugCollector `json:"debug,omitempty"`
}

// defaultCategories is what a map searches for when the request does not
// narrow it
var defaultCategories = []providers.POICategory{
	providers.CategoryGasStation,
	providers.CategoryRestaurant,
	providers.CategoryHotel,
	providers.CategoryTollBooth,
	providers.CategoryCity,
	providers.CategoryTown,
	providers.CategoryVillage,
}

const defaultMaxDistanceM = 1000.0

// StartGeneration creates the tracking operation and runs the pipeline in
// the background. Returns the operation id immediately.
func (s *Service) StartGeneration(ctx context.Context, req GenerateRequest) (*operations.Operation, error) {
	estimated := time.Now().Add(5 * time.Minute)
	op, err := s.ops.Create(ctx, "map_generation", req.UserID, &estimated)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation: %w", err)
	}

	metrics.IncActiveOperations()
	async.GoWithTimeout(ctx, "map_generation", generationTimeout, func(taskCtx context.Context) {
		s.runGeneration(taskCtx, op.ID, req)
	})

	return op, nil
}

// runGeneration drives one background generation and records its terminal
// state. The task context dies at the generation deadline, so the terminal
// write happens on a context that survives cancellation: a timed-out
// generation must still transition its operation to failed.
func (s *Service) runGeneration(taskCtx context.Context, opID uuid.UUID, req GenerateRequest) {
	defer metrics.DecActiveOperations()
	started := time.Now()

	result, err := s.Generate(taskCtx, req, func(percent int) {
		if err := s.ops.UpdateProgress(taskCtx, opID, percent, nil); err != nil {
			logger.WarnContext(taskCtx, "failed to update operation progress",
				zap.String("operation_id", opID.String()), zap.Error(err))
		}
	})

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(taskCtx), statusWriteTimeout)
	defer cancel()

	if err != nil {
		metrics.RecordMapGenerated("failed", time.Since(started))
		if failErr := s.ops.Fail(recordCtx, opID, err.Error()); failErr != nil {
			logger.ErrorContext(recordCtx, "failed to mark operation failed",
				zap.String("operation_id", opID.String()), zap.Error(failErr))
		}
		return
	}

	metrics.RecordMapGenerated("completed", time.Since(started))
	payload, _ := json.Marshal(result)
	if completeErr := s.ops.Complete(recordCtx, opID, payload); completeErr != nil {
		logger.ErrorContext(recordCtx, "failed to mark operation completed",
			zap.String("operation_id", opID.String()), zap.Error(completeErr))
	}
}

// Generate runs the full pipeline synchronously. progress may be nil.
func (s *Service) Generate(ctx context.Context, req GenerateRequest, progress func(percent int)) (*GenerateResult, error) {
	report := func(percent int) {
		if progress != nil {
			progress(percent)
		}
	}

	categories := req.Categories
	if len(categories) == 0 {
		categories = defaultCategories
	}
	maxDistanceM := req.MaxDistanceM
	if maxDistanceM <= 0 {
		maxDistanceM = defaultMaxDistanceM
	}

	originCity := originCityOf(req.Origin)

	// Stage 1: geocode both ends
	geocoder, err := s.registry.Geocoding()
	if err != nil {
		return nil, err
	}
	originLoc, err := geocoder.Geocode(ctx, req.Origin)
	if err != nil {
		return nil, fmt.Errorf("failed to geocode origin: %w", err)
	}
	if originLoc == nil {
		return nil, fmt.Errorf("origin %q could not be geocoded", req.Origin)
	}
	destinationLoc, err := geocoder.Geocode(ctx, req.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to geocode destination: %w", err)
	}
	if destinationLoc == nil {
		return nil, fmt.Errorf("destination %q could not be geocoded", req.Destination)
	}
	report(10)

	originPt := geo.Point{Lat: originLoc.Latitude, Lon: originLoc.Longitude}
	destinationPt := geo.Point{Lat: destinationLoc.Latitude, Lon: destinationLoc.Longitude}

	// A recent map for practically the same endpoints is returned as-is
	if !req.ForceRefresh {
		existing, err := s.maps.FindDuplicateMap(ctx, originPt, destinationPt, s.tuning.DuplicateMapToleranceKm)
		if err != nil {
			logger.WarnContext(ctx, "duplicate map lookup failed, generating anew", zap.Error(err))
		} else if existing != nil {
			logger.InfoContext(ctx, "reusing existing map",
				zap.String("map_id", existing.ID.String()))
			if err := s.maps.TouchMap(ctx, existing.ID, time.Now()); err != nil {
				logger.WarnContext(ctx, "failed to touch reused map",
					zap.String("map_id", existing.ID.String()), zap.Error(err))
			}
			report(100)
			return &GenerateResult{
				MapID:          existing.ID,
				TotalLengthKm:  existing.TotalLengthKm,
				ReusedExisting: true,
			}, nil
		}
	}

	// Stage 2: route
	routing, err := s.registry.Routing()
	if err != nil {
		return nil, err
	}
	route, err := routing.CalculateRoute(ctx, originPt, destinationPt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate route: %w", err)
	}
	if route == nil || len(route.Steps) == 0 {
		return nil, fmt.Errorf("no route found between %q and %q", req.Origin, req.Destination)
	}
	report(20)

	// Stage 3: segments
	versionSuffix := ""
	if req.ForceRefresh {
		versionSuffix = fmt.Sprintf("%d", time.Now().Unix())
	}
	segResult, err := s.engine.GetOrCreateSegments(ctx, route.Steps, req.ForceRefresh, versionSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to build segments: %w", err)
	}
	report(30)

	// Stage 4: POI discovery for segments not yet searched
	discovered, err := s.discoverPOIs(ctx, segResult.Segments, categories, maxDistanceM, func(done, total int) {
		if total > 0 {
			report(30 + 40*done/total)
		}
	})
	if err != nil {
		return nil, err
	}
	report(70)

	// Stage 5: optional HERE enrichment
	if s.enricher != nil && len(discovered) > 0 {
		if _, ok := s.registry.Enrichment(); ok {
			s.enricher.EnrichPOIs(ctx, discovered)
		}
	}
	report(80)

	// Stage 6: assemble and persist
	m := &Map{
		ID:              uuid.New(),
		Origin:          req.Origin,
		Destination:     req.Destination,
		OriginLat:       originPt.Lat,
		OriginLon:       originPt.Lon,
		DestinationLat:  destinationPt.Lat,
		DestinationLon:  destinationPt.Lon,
		TotalLengthKm:   route.TotalDistanceKm,
		RoadID:          mainRoadOf(route),
		CreatedByUserID: req.UserID,
	}

	var debug *DebugCollector
	if req.Debug {
		debug = &DebugCollector{}
	}
	assembly, err := s.assembler.Assemble(ctx, m.ID, segResult.Segments, route.Geometry, route.TotalDistanceKm, originCity, debug)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble map: %w", err)
	}
	if err := s.maps.CreateMap(ctx, m, assembly); err != nil {
		return nil, fmt.Errorf("failed to persist map: %w", err)
	}
	report(95)

	poiIDs := make([]uuid.UUID, 0, len(assembly.MapPOIs))
	for _, mp := range assembly.MapPOIs {
		poiIDs = append(poiIDs, mp.POIID)
	}
	if err := s.pois.MarkReferenced(ctx, poiIDs, true); err != nil {
		logger.WarnContext(ctx, "failed to mark pois referenced", zap.Error(err))
	}
	report(100)

	logger.InfoContext(ctx, "linear map generated",
		zap.String("map_id", m.ID.String()),
		zap.Float64("total_length_km", m.TotalLengthKm),
		zap.Int("segments", len(assembly.MapSegments)),
		zap.Int("pois", len(assembly.MapPOIs)),
	)
	return &GenerateResult{
		MapID:           m.ID,
		TotalLengthKm:   m.TotalLengthKm,
		SegmentsCreated: segResult.Created,
		SegmentsReused:  segResult.Reused,
		TotalPOIs:       len(assembly.MapPOIs),
		Debug:           debug,
	}, nil
}

// discoverPOIs searches, persists, and associates POIs for every segment
// whose POIs were never fetched. Returns the upserted POIs for the
// enrichment pass.
func (s *Service) discoverPOIs(ctx context.Context, segs []*segments.RouteSegment, categories []providers.POICategory, maxDistanceM float64, progress func(done, total int)) ([]*poi.POI, error) {
	poiProvider, err := s.registry.POISearch()
	if err != nil {
		return nil, err
	}
	searcher := poi.NewSearcher(poiProvider)

	var pending []*segments.RouteSegment
	for _, segment := range segs {
		if segment.POIsFetchedAt == nil {
			pending = append(pending, segment)
		}
	}

	var upserted []*poi.POI
	for i, segment := range pending {
		discoveries, err := searcher.SearchForSegment(ctx, segment, categories, maxDistanceM)
		if err != nil {
			return nil, fmt.Errorf("poi discovery aborted: %w", err)
		}

		associations := make([]segments.SegmentPOI, 0, len(discoveries))
		for _, discovery := range discoveries {
			stored, err := s.pois.UpsertFromProvider(ctx, discovery.POI)
			if err != nil {
				logger.WarnContext(ctx, "failed to persist poi, skipping",
					zap.String("provider_id", discovery.POI.ProviderID), zap.Error(err))
				continue
			}
			upserted = append(upserted, stored)
			associations = append(associations, segments.SegmentPOI{
				SegmentID:             segment.ID,
				POIID:                 stored.ID,
				SearchPointIndex:      discovery.SearchPointIndex,
				StraightLineDistanceM: discovery.StraightLineDistanceM,
			})
		}

		if err := s.engine.AssociatePOIs(ctx, segment.ID.String(), associations); err != nil {
			return nil, fmt.Errorf("failed to associate pois: %w", err)
		}
		progress(i+1, len(pending))
	}
	return upserted, nil
}

// Regenerate deletes the map and rebuilds it from the same origin and
// destination in the background
func (s *Service) Regenerate(ctx context.Context, mapID uuid.UUID, userID *uuid.UUID) (*operations.Operation, error) {
	existing, err := s.maps.GetMap(ctx, mapID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	if err := s.Delete(ctx, mapID); err != nil {
		return nil, err
	}

	return s.StartGeneration(ctx, GenerateRequest{
		Origin:       existing.Origin,
		Destination:  existing.Destination,
		ForceRefresh: true,
		UserID:       userID,
	})
}

// Delete removes a map and releases its segment usage counts
func (s *Service) Delete(ctx context.Context, mapID uuid.UUID) error {
	segmentIDs, err := s.maps.SegmentIDsForMap(ctx, mapID)
	if err != nil {
		return err
	}
	deleted, err := s.maps.DeleteMap(ctx, mapID)
	if err != nil {
		return err
	}
	if deleted && len(segmentIDs) > 0 {
		if err := s.engine.BulkDecrementUsage(ctx, segmentIDs); err != nil {
			logger.WarnContext(ctx, "failed to release segment usage",
				zap.String("map_id", mapID.String()), zap.Error(err))
		}
	}
	return nil
}

// originCityOf extracts the city from a free-text origin, the part before
// the first comma
func originCityOf(origin string) string {
	if idx := strings.Index(origin, ","); idx >= 0 {
		return strings.TrimSpace(origin[:idx])
	}
	return strings.TrimSpace(origin)
}

// mainRoadOf picks the dominant road name of a route
func mainRoadOf(route *providers.Route) string {
	if len(route.RoadNames) > 0 {
		return route.RoadNames[0]
	}
	return ""
}
