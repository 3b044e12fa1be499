package providers

import "github.com/mapalinear/mapalinear/pkg/geo"

// POICategory classifies a point of interest across providers
type POICategory string

const (
	CategoryGasStation  POICategory = "gas_station"
	CategoryRestaurant  POICategory = "restaurant"
	CategoryHotel       POICategory = "hotel"
	CategoryHospital    POICategory = "hospital"
	CategoryPharmacy    POICategory = "pharmacy"
	CategoryBank        POICategory = "bank"
	CategoryATM         POICategory = "atm"
	CategoryCafe        POICategory = "cafe"
	CategoryFastFood    POICategory = "fast_food"
	CategorySupermarket POICategory = "supermarket"
	CategoryMechanic    POICategory = "mechanic"
	CategoryTollBooth   POICategory = "toll_booth"
	CategoryCity        POICategory = "city"
	CategoryTown        POICategory = "town"
	CategoryVillage     POICategory = "village"
	CategoryOther       POICategory = "other"
)

// placeCategories get a widened Overpass bbox since settlements are sparse
var placeCategories = map[POICategory]bool{
	CategoryCity:    true,
	CategoryTown:    true,
	CategoryVillage: true,
}

// GeoLocation is a normalized geocoding result
type GeoLocation struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name,omitempty"`
	City        string  `json:"city,omitempty"`
	State       string  `json:"state,omitempty"`
	Country     string  `json:"country,omitempty"`
}

// RouteStep is a single maneuver-to-maneuver leg of a route
type RouteStep struct {
	DistanceM    float64     `json:"distance_m"`
	DurationS    float64     `json:"duration_s"`
	Geometry     []geo.Point `json:"geometry"`
	RoadName     string      `json:"road_name,omitempty"`
	ManeuverType string      `json:"maneuver_type,omitempty"`
}

// Route is a normalized routing result
type Route struct {
	TotalDistanceKm  float64     `json:"total_distance_km"`
	TotalDurationMin float64     `json:"total_duration_min"`
	Geometry         []geo.Point `json:"geometry"`
	Steps            []RouteStep `json:"steps"`
	RoadNames        []string    `json:"road_names,omitempty"`
}

// RouteOptions carries optional routing parameters
type RouteOptions struct {
	Waypoints []geo.Point `json:"waypoints,omitempty"`
	Avoid     []string    `json:"avoid,omitempty"`
}

// POI is a provider-level point of interest, before canonical persistence
type POI struct {
	ProviderID    string            `json:"provider_id"`
	Provider      string            `json:"provider"`
	Name          string            `json:"name"`
	Category      POICategory       `json:"category"`
	Latitude      float64           `json:"latitude"`
	Longitude     float64           `json:"longitude"`
	City          string            `json:"city,omitempty"`
	Operator      string            `json:"operator,omitempty"`
	Brand         string            `json:"brand,omitempty"`
	OpeningHours  string            `json:"opening_hours,omitempty"`
	Phone         string            `json:"phone,omitempty"`
	Website       string            `json:"website,omitempty"`
	Cuisine       string            `json:"cuisine,omitempty"`
	Amenities     []string          `json:"amenities,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	QualityScore  float64           `json:"quality_score"`
	QualityIssues []string          `json:"quality_issues,omitempty"`
	IsAbandoned   bool              `json:"is_abandoned,omitempty"`
}
