package poi

import (
	"time"

	"github.com/google/uuid"
	"github.com/mapalinear/mapalinear/internal/providers"
)

// POI is the canonical, provider-agnostic point of interest row. At most
// one POI exists per provider id; provider data drift updates in place.
type POI struct {
	ID            uuid.UUID             `json:"id"`
	OSMID         *string               `json:"osm_id,omitempty"`
	HEREID        *string               `json:"here_id,omitempty"`
	GooglePlaceID *string               `json:"google_place_id,omitempty"`
	Name          string                `json:"name"`
	Type          providers.POICategory `json:"type"`
	Latitude      float64               `json:"latitude"`
	Longitude     float64               `json:"longitude"`
	City          string                `json:"city,omitempty"`
	Operator      string                `json:"operator,omitempty"`
	Brand         string                `json:"brand,omitempty"`
	OpeningHours  string                `json:"opening_hours,omitempty"`
	Phone         string                `json:"phone,omitempty"`
	Website       string                `json:"website,omitempty"`
	Cuisine       string                `json:"cuisine,omitempty"`
	Amenities     []string              `json:"amenities,omitempty"`
	Tags          map[string]string     `json:"tags,omitempty"`
	QualityScore  float64               `json:"quality_score"`
	QualityIssues []string              `json:"quality_issues,omitempty"`
	IsLowQuality  bool                  `json:"is_low_quality"`
	IsDisabled    bool                  `json:"is_disabled"`
	IsReferenced  bool                  `json:"is_referenced"`
	EnrichedBy    []string              `json:"enriched_by,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Discovery is a POI found at a segment search point
type Discovery struct {
	POI                   providers.POI
	SearchPointIndex      int
	StraightLineDistanceM float64
}
