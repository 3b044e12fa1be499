package linearmap

import (
	"time"

	"github.com/google/uuid"
	"github.com/mapalinear/mapalinear/internal/poi"
	"github.com/mapalinear/mapalinear/internal/segments"
	"github.com/mapalinear/mapalinear/pkg/geo"
)

// Side is which side of the direction of travel a POI lies on
type Side string

const (
	SideLeft   Side = "left"
	SideRight  Side = "right"
	SideCenter Side = "center"
)

// Map is a user-visible linear map of a route
type Map struct {
	ID              uuid.UUID      `json:"id"`
	Origin          string         `json:"origin"`
	Destination     string         `json:"destination"`
	OriginLat       float64        `json:"origin_lat"`
	OriginLon       float64        `json:"origin_lon"`
	DestinationLat  float64        `json:"destination_lat"`
	DestinationLon  float64        `json:"destination_lon"`
	TotalLengthKm   float64        `json:"total_length_km"`
	RoadID          string         `json:"road_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedByUserID *uuid.UUID     `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Segments        []MapSegment   `json:"segments,omitempty"`
	POIs            []MapPOI       `json:"pois,omitempty"`
}

// MapSegment binds a route segment to a map at a position
type MapSegment struct {
	ID                   uuid.UUID `json:"id"`
	MapID                uuid.UUID `json:"map_id"`
	SegmentID            uuid.UUID `json:"segment_id"`
	SequenceOrder        int       `json:"sequence_order"`
	DistanceFromOriginKm float64   `json:"distance_from_origin_km"`
	CreatedAt            time.Time `json:"created_at"`

	// Segment is the eager-loaded route segment; nil on list views
	Segment *segments.RouteSegment `json:"segment,omitempty"`
}

// MapPOI binds a POI to a map with its junction calculations
type MapPOI struct {
	ID                     uuid.UUID `json:"id"`
	MapID                  uuid.UUID `json:"map_id"`
	POIID                  uuid.UUID `json:"poi_id"`
	SegmentIndex           int       `json:"segment_index"`
	DistanceFromOriginKm   float64   `json:"distance_from_origin_km"`
	DistanceFromRoadMeters float64   `json:"distance_from_road_meters"`
	Side                   Side      `json:"side"`
	JunctionLat            float64   `json:"junction_lat"`
	JunctionLon            float64   `json:"junction_lon"`
	JunctionDistanceKm     float64   `json:"junction_distance_km"`
	RequiresDetour         bool      `json:"requires_detour"`
	QualityScore           float64   `json:"quality_score"`
	CreatedAt              time.Time `json:"created_at"`

	// POI is the eager-loaded canonical POI; nil on list views
	POI *poi.POI `json:"poi,omitempty"`
}

// GlobalSearchPoint is a segment search point promoted to map coordinates
type GlobalSearchPoint struct {
	Lat                     float64
	Lon                     float64
	DistanceFromMapOriginKm float64
	SegmentSequence         int
	SearchPointIndex        int
}

// JunctionResult is the outcome of the junction calculation for one POI
type JunctionResult struct {
	JunctionLat         float64
	JunctionLon         float64
	JunctionDistanceKm  float64
	Side                Side
	AccessDistanceKm    float64
	RequiresDetour      bool
	AccessRouteGeometry []geo.Point
}

// MapStats summarizes an assembled map
type MapStats struct {
	TotalSegments int            `json:"total_segments"`
	TotalPOIs     int            `json:"total_pois"`
	POIsByType    map[string]int `json:"pois_by_type"`
	POIsBySide    map[Side]int   `json:"pois_by_side"`
	TotalLengthKm float64        `json:"total_length_km"`
}

// POIDebugEntry records the calculation details for one POI when a debug
// collector is attached to assembly
type POIDebugEntry struct {
	POIID               uuid.UUID   `json:"poi_id"`
	POIName             string      `json:"poi_name"`
	MainRouteWindow     []geo.Point `json:"main_route_window,omitempty"`
	AccessRouteGeometry []geo.Point `json:"access_route_geometry,omitempty"`
	LookbackLat         float64     `json:"lookback_lat,omitempty"`
	LookbackLon         float64     `json:"lookback_lon,omitempty"`
	DirectionDx         float64     `json:"direction_dx"`
	DirectionDy         float64     `json:"direction_dy"`
	POIVectorPx         float64     `json:"poi_vector_px"`
	POIVectorPy         float64     `json:"poi_vector_py"`
	CrossProduct        float64     `json:"cross_product"`
	Side                Side        `json:"side"`
	RemainingRouteKm    float64     `json:"remaining_route_km"`
	Skipped             bool        `json:"skipped,omitempty"`
	SkipReason          string      `json:"skip_reason,omitempty"`
}

// DebugCollector accumulates per-POI calculation details during assembly
type DebugCollector struct {
	Entries []POIDebugEntry `json:"entries"`
}

func (d *DebugCollector) record(entry POIDebugEntry) {
	if d == nil {
		return
	}
	d.Entries = append(d.Entries, entry)
}
