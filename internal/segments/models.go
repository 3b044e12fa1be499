package segments

import (
	"time"

	"github.com/google/uuid"
	"github.com/mapalinear/mapalinear/pkg/geo"
)

// SearchPoint is a sampled location along a segment, used as a POI query
// center. Points sit at 1 km intervals from the segment start.
type SearchPoint struct {
	Index                      int     `json:"index"`
	Lat                        float64 `json:"lat"`
	Lon                        float64 `json:"lon"`
	DistanceFromSegmentStartKm float64 `json:"distance_from_segment_start_km"`
}

// RouteSegment is a content-addressed, reusable piece of a route. Identity
// is the hash of its rounded endpoint coordinates, so near-identical steps
// from different map requests resolve to the same row.
type RouteSegment struct {
	ID            uuid.UUID     `json:"id"`
	SegmentHash   string        `json:"segment_hash"`
	StartLat      float64       `json:"start_lat"`
	StartLon      float64       `json:"start_lon"`
	EndLat        float64       `json:"end_lat"`
	EndLon        float64       `json:"end_lon"`
	LengthKm      float64       `json:"length_km"`
	RoadName      string        `json:"road_name,omitempty"`
	Geometry      []geo.Point   `json:"geometry"`
	SearchPoints  []SearchPoint `json:"search_points"`
	UsageCount    int           `json:"usage_count"`
	POIsFetchedAt *time.Time    `json:"pois_fetched_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SegmentPOI binds a discovered POI to the segment and search point that
// found it
type SegmentPOI struct {
	SegmentID             uuid.UUID `json:"segment_id"`
	POIID                 uuid.UUID `json:"poi_id"`
	SearchPointIndex      int       `json:"search_point_index"`
	StraightLineDistanceM float64   `json:"straight_line_distance_m"`
	CreatedAt             time.Time `json:"created_at"`
}
