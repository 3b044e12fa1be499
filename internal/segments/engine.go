package segments

import (
	"context"
	"crypto/md5"
	"fmt"
	"math"

	"github.com/mapalinear/mapalinear/internal/providers"
	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/logger"
	"github.com/mapalinear/mapalinear/pkg/metrics"
	"go.uber.org/zap"
)

// searchPointIntervalKm is the spacing between POI search points. Segments
// shorter than one interval get no search points.
const searchPointIntervalKm = 1.0

// Hash returns the content address of a segment: the MD5 of its endpoint
// coordinates rounded to 4 decimals (~11 m). A version suffix forces a
// distinct hash when a caller needs a brand-new segment.
func Hash(startLat, startLon, endLat, endLon float64, versionSuffix string) string {
	key := fmt.Sprintf("%.4f,%.4f|%.4f,%.4f", startLat, startLon, endLat, endLon)
	if versionSuffix != "" {
		key += "|" + versionSuffix
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(key)))
}

// GenerateSearchPoints samples the geometry at 1 km intervals from 0 up to
// lengthKm inclusive. Segments under 1 km yield none.
func GenerateSearchPoints(geometry []geo.Point, lengthKm float64) []SearchPoint {
	if lengthKm < searchPointIntervalKm || len(geometry) == 0 {
		return nil
	}

	count := int(math.Floor(lengthKm)) + 1
	points := make([]SearchPoint, 0, count)
	for i := 0; i < count; i++ {
		target := float64(i) * searchPointIntervalKm
		lat, lon := geo.InterpolateAtDistance(geometry, target, lengthKm)
		points = append(points, SearchPoint{
			Index:                      i,
			Lat:                        lat,
			Lon:                        lon,
			DistanceFromSegmentStartKm: target,
		})
	}
	return points
}

// Engine produces or reuses RouteSegments for route steps and maintains
// their reference counts
type Engine struct {
	repo Store
}

// NewEngine creates a segment engine on top of the given store
func NewEngine(repo Store) *Engine {
	return &Engine{repo: repo}
}

// GetOrCreateResult reports what GetOrCreateSegments did per batch
type GetOrCreateResult struct {
	Segments []*RouteSegment
	Created  int
	Reused   int
}

// GetOrCreateSegments resolves one RouteSegment per step, in step order.
// Existing segments (same hash) get their usage count incremented; missing
// ones are created. With forceNew, lookup is skipped and every step becomes
// a new segment hashed with versionSuffix.
//
// Concurrent callers may race on the same hash; the unique constraint on
// segment_hash makes the insert an atomic increment for the loser, so both
// end up sharing one row.
func (e *Engine) GetOrCreateSegments(ctx context.Context, steps []providers.RouteStep, forceNew bool, versionSuffix string) (*GetOrCreateResult, error) {
	if len(steps) == 0 {
		return &GetOrCreateResult{}, nil
	}

	hashes := make([]string, len(steps))
	for i, step := range steps {
		suffix := ""
		if forceNew {
			suffix = versionSuffix
		}
		start, end := stepEndpoints(step)
		hashes[i] = Hash(start.Lat, start.Lon, end.Lat, end.Lon, suffix)
	}

	existing := make(map[string]*RouteSegment)
	if !forceNew {
		loaded, err := e.repo.GetByHashes(ctx, hashes)
		if err != nil {
			return nil, fmt.Errorf("failed to load segments by hash: %w", err)
		}
		existing = loaded
	}

	result := &GetOrCreateResult{Segments: make([]*RouteSegment, len(steps))}
	var reusedIDs []string

	for i, step := range steps {
		if segment, ok := existing[hashes[i]]; ok {
			segment.UsageCount++
			result.Segments[i] = segment
			result.Reused++
			reusedIDs = append(reusedIDs, segment.ID.String())
			metrics.RecordSegmentReused()
			continue
		}

		segment := buildSegment(step, hashes[i])
		if err := e.repo.Upsert(ctx, segment); err != nil {
			return nil, fmt.Errorf("failed to create segment: %w", err)
		}
		result.Segments[i] = segment
		if segment.UsageCount > 1 {
			// Lost a create race; the existing row absorbed the increment
			result.Reused++
			metrics.RecordSegmentReused()
		} else {
			result.Created++
			metrics.RecordSegmentCreated()
		}
	}

	if len(reusedIDs) > 0 {
		if err := e.repo.IncrementUsage(ctx, reusedIDs); err != nil {
			return nil, fmt.Errorf("failed to increment segment usage: %w", err)
		}
	}

	logger.DebugContext(ctx, "resolved route segments",
		zap.Int("total", len(steps)),
		zap.Int("created", result.Created),
		zap.Int("reused", result.Reused),
	)
	return result, nil
}

// BulkDecrementUsage releases references held by a deleted map. Counts
// never go below zero.
func (e *Engine) BulkDecrementUsage(ctx context.Context, segmentIDs []string) error {
	if len(segmentIDs) == 0 {
		return nil
	}
	return e.repo.DecrementUsage(ctx, segmentIDs)
}

// AssociatePOIs records which POIs each search point discovered and stamps
// the segment as fetched
func (e *Engine) AssociatePOIs(ctx context.Context, segmentID string, associations []SegmentPOI) error {
	if len(associations) > 0 {
		if err := e.repo.UpsertSegmentPOIs(ctx, associations); err != nil {
			return fmt.Errorf("failed to associate segment POIs: %w", err)
		}
	}
	if err := e.repo.MarkPOIsFetched(ctx, segmentID); err != nil {
		return fmt.Errorf("failed to mark segment POIs fetched: %w", err)
	}
	return nil
}

func stepEndpoints(step providers.RouteStep) (geo.Point, geo.Point) {
	if len(step.Geometry) == 0 {
		return geo.Point{}, geo.Point{}
	}
	return step.Geometry[0], step.Geometry[len(step.Geometry)-1]
}

func buildSegment(step providers.RouteStep, hash string) *RouteSegment {
	start, end := stepEndpoints(step)
	lengthKm := step.DistanceM / 1000

	return &RouteSegment{
		SegmentHash:  hash,
		StartLat:     start.Lat,
		StartLon:     start.Lon,
		EndLat:       end.Lat,
		EndLon:       end.Lon,
		LengthKm:     lengthKm,
		RoadName:     step.RoadName,
		Geometry:     step.Geometry,
		SearchPoints: GenerateSearchPoints(step.Geometry, lengthKm),
		UsageCount:   1,
	}
}
