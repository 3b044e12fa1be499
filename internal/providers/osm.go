package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/httpclient"
	"github.com/mapalinear/mapalinear/pkg/logger"
	"github.com/mapalinear/mapalinear/pkg/ratelimit"
	"github.com/mapalinear/mapalinear/pkg/resilience"
	"go.uber.org/zap"
)

const (
	nominatimBaseURL = "https://nominatim.openstreetmap.org"
	osrmBaseURL      = "http://router.project-osrm.org"

	// Nominatim and Overpass usage policies require an identifying agent
	osmUserAgent = "mapalinear/1.0 (https://github.com/mapalinear/mapalinear)"

	overpassTimeoutS = 25
)

// defaultOverpassEndpoints are tried round-robin; the next endpoint is used
// when one times out or returns a server error
var defaultOverpassEndpoints = []string{
	"https://overpass-api.de/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
	"https://maps.mail.ru/osm/tools/overpass/api/interpreter",
}

// OSMProvider adapts Nominatim (geocoding), OSRM (routing) and Overpass
// (POI search) into the unified provider interface
type OSMProvider struct {
	nominatimClient *httpclient.Client
	osrmClient      *httpclient.Client
	overpassClients []*httpclient.Client
	overpassIdx     atomic.Uint32

	limiter   *ratelimit.ProviderLimiter
	perSecond float64
}

// OSMOption configures the OSM provider
type OSMOption func(*osmEndpoints)

type osmEndpoints struct {
	nominatim string
	osrm      string
	overpass  []string
}

// WithNominatimURL overrides the Nominatim base URL
func WithNominatimURL(u string) OSMOption {
	return func(e *osmEndpoints) { e.nominatim = u }
}

// WithOSRMURL overrides the OSRM base URL
func WithOSRMURL(u string) OSMOption {
	return func(e *osmEndpoints) { e.osrm = u }
}

// WithOverpassEndpoints overrides the Overpass endpoint list
func WithOverpassEndpoints(urls ...string) OSMOption {
	return func(e *osmEndpoints) { e.overpass = urls }
}

// NewOSMProvider creates the OSM adapter and registers its rate limit
func NewOSMProvider(limiter *ratelimit.ProviderLimiter, perSecond float64, opts ...OSMOption) *OSMProvider {
	endpoints := &osmEndpoints{
		nominatim: nominatimBaseURL,
		osrm:      osrmBaseURL,
		overpass:  defaultOverpassEndpoints,
	}
	for _, opt := range opts {
		opt(endpoints)
	}

	limiter.Register("osm", perSecond)

	timeout := 30 * time.Second
	overpassClients := make([]*httpclient.Client, len(endpoints.overpass))
	for i, endpoint := range endpoints.overpass {
		// Per-endpoint breakers so one dead Overpass mirror does not block
		// the round-robin failover
		overpassClients[i] = httpclient.NewClient(endpoint, timeout,
			httpclient.WithUserAgent(osmUserAgent),
			endpointBreaker(fmt.Sprintf("osm-overpass-%d", i)))
	}

	return &OSMProvider{
		nominatimClient: httpclient.NewClient(endpoints.nominatim, timeout,
			httpclient.WithUserAgent(osmUserAgent), httpclient.WithDefaultRetry(),
			endpointBreaker("osm-nominatim")),
		osrmClient: httpclient.NewClient(endpoints.osrm, timeout,
			httpclient.WithUserAgent(osmUserAgent), httpclient.WithDefaultRetry(),
			endpointBreaker("osm-osrm")),
		overpassClients: overpassClients,
		limiter:         limiter,
		perSecond:       perSecond,
	}
}

// Name returns the provider name
func (o *OSMProvider) Name() string { return "osm" }

// SupportsOfflineExport reports whether results may be redistributed offline
func (o *OSMProvider) SupportsOfflineExport() bool { return true }

// RateLimitPerSecond returns the configured request rate
func (o *OSMProvider) RateLimitPerSecond() float64 { return o.perSecond }

// nominatimResult is a single Nominatim search/reverse result
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		County       string `json:"county"`
		State        string `json:"state"`
		Country      string `json:"country"`
	} `json:"address"`
}

// cityFromAddress extracts the settlement name from Nominatim's structured
// address fields, in decreasing specificity. Free-text parsing of
// display_name is deliberately avoided.
func cityFromAddress(r *nominatimResult) string {
	for _, candidate := range []string{
		r.Address.City, r.Address.Town, r.Address.Village,
		r.Address.Municipality, r.Address.County,
	} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func (r *nominatimResult) toGeoLocation() (*GeoLocation, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q: %w", r.Lon, err)
	}
	return &GeoLocation{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: r.DisplayName,
		City:        cityFromAddress(r),
		State:       r.Address.State,
		Country:     r.Address.Country,
	}, nil
}

// Geocode resolves a free-text address via Nominatim
func (o *OSMProvider) Geocode(ctx context.Context, address string) (*GeoLocation, error) {
	if err := o.limiter.Wait(ctx, "osm"); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", address)
	params.Set("format", "json")
	params.Set("addressdetails", "1")
	params.Set("limit", "1")

	resp, err := o.nominatimClient.Get(ctx, "/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("nominatim search failed: %w", err)
	}

	var results []nominatimResult
	if err := json.Unmarshal(resp, &results); err != nil {
		return nil, fmt.Errorf("failed to parse nominatim response: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0].toGeoLocation()
}

// ReverseGeocode resolves coordinates via Nominatim. poiName only
// differentiates cache keys and is not sent upstream.
func (o *OSMProvider) ReverseGeocode(ctx context.Context, lat, lon float64, poiName string) (*GeoLocation, error) {
	if err := o.limiter.Wait(ctx, "osm"); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	params.Set("format", "json")
	params.Set("addressdetails", "1")

	resp, err := o.nominatimClient.Get(ctx, "/reverse?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("nominatim reverse failed: %w", err)
	}

	var result nominatimResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to parse nominatim reverse response: %w", err)
	}
	if result.Lat == "" {
		return nil, nil
	}
	return result.toGeoLocation()
}

// osrmResponse mirrors the OSRM /route/v1 response shape
type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Legs []struct {
			Steps []struct {
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
				Name     string  `json:"name"`
				Geometry struct {
					Coordinates [][]float64 `json:"coordinates"`
				} `json:"geometry"`
				Maneuver struct {
					Type string `json:"type"`
				} `json:"maneuver"`
			} `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// CalculateRoute computes a driving route via OSRM
func (o *OSMProvider) CalculateRoute(ctx context.Context, origin, destination geo.Point, opts *RouteOptions) (*Route, error) {
	if err := o.limiter.Wait(ctx, "osm"); err != nil {
		return nil, err
	}

	// OSRM expects lon,lat pairs separated by semicolons
	var coords strings.Builder
	writeCoord := func(p geo.Point) {
		if coords.Len() > 0 {
			coords.WriteString(";")
		}
		fmt.Fprintf(&coords, "%.6f,%.6f", p.Lon, p.Lat)
	}
	writeCoord(origin)
	if opts != nil {
		for _, wp := range opts.Waypoints {
			writeCoord(wp)
		}
	}
	writeCoord(destination)

	params := url.Values{}
	params.Set("overview", "full")
	params.Set("geometries", "geojson")
	params.Set("steps", "true")

	path := fmt.Sprintf("/route/v1/driving/%s?%s", coords.String(), params.Encode())
	resp, err := o.osrmClient.Get(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("osrm routing failed: %w", err)
	}

	var osrm osrmResponse
	if err := json.Unmarshal(resp, &osrm); err != nil {
		return nil, fmt.Errorf("failed to parse osrm response: %w", err)
	}
	if osrm.Code != "Ok" || len(osrm.Routes) == 0 {
		return nil, nil
	}

	best := osrm.Routes[0]
	route := &Route{
		TotalDistanceKm:  best.Distance / 1000,
		TotalDurationMin: best.Duration / 60,
		Geometry:         geoJSONToPoints(best.Geometry.Coordinates),
	}

	seenRoads := make(map[string]bool)
	for _, leg := range best.Legs {
		for _, step := range leg.Steps {
			route.Steps = append(route.Steps, RouteStep{
				DistanceM:    step.Distance,
				DurationS:    step.Duration,
				Geometry:     geoJSONToPoints(step.Geometry.Coordinates),
				RoadName:     step.Name,
				ManeuverType: step.Maneuver.Type,
			})
			if step.Name != "" && !seenRoads[step.Name] {
				seenRoads[step.Name] = true
				route.RoadNames = append(route.RoadNames, step.Name)
			}
		}
	}
	return route, nil
}

func geoJSONToPoints(coords [][]float64) []geo.Point {
	points := make([]geo.Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		points = append(points, geo.Point{Lat: c[1], Lon: c[0]})
	}
	return points
}

// overpassSelectors maps each category to its Overpass tag filters
var overpassSelectors = map[POICategory][]string{
	CategoryGasStation:  {`"amenity"="fuel"`},
	CategoryRestaurant:  {`"amenity"="restaurant"`},
	CategoryHotel:       {`"tourism"="hotel"`, `"tourism"="motel"`},
	CategoryHospital:    {`"amenity"="hospital"`},
	CategoryPharmacy:    {`"amenity"="pharmacy"`},
	CategoryBank:        {`"amenity"="bank"`},
	CategoryATM:         {`"amenity"="atm"`},
	CategoryCafe:        {`"amenity"="cafe"`},
	CategoryFastFood:    {`"amenity"="fast_food"`},
	CategorySupermarket: {`"shop"="supermarket"`},
	CategoryMechanic:    {`"shop"="car_repair"`},
	CategoryTollBooth:   {`"barrier"="toll_booth"`},
	CategoryCity:        {`"place"="city"`},
	CategoryTown:        {`"place"="town"`},
	CategoryVillage:     {`"place"="village"`},
}

// buildOverpassQuery assembles an Overpass QL query for the given center,
// radius and categories. Settlement categories use a 5x wider bbox since
// place nodes are sparse.
func buildOverpassQuery(center geo.Point, radiusM float64, categories []POICategory) string {
	delta := radiusM / 111000.0
	for _, c := range categories {
		if placeCategories[c] {
			delta = delta * 5
			break
		}
	}
	bbox := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f",
		center.Lat-delta, center.Lon-delta, center.Lat+delta, center.Lon+delta)

	var selectors strings.Builder
	for _, category := range categories {
		for _, selector := range overpassSelectors[category] {
			fmt.Fprintf(&selectors, "node[%s](%s);way[%s](%s);", selector, bbox, selector, bbox)
		}
	}
	return fmt.Sprintf("[out:json][timeout:%d];(%s);out center;", overpassTimeoutS, selectors.String())
}

// overpassResponse mirrors the Overpass JSON output
type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type   string  `json:"type"`
	ID     int64   `json:"id"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
	Tags map[string]string `json:"tags"`
}

// SearchPOIs queries Overpass for POIs around a center, failing over
// across endpoints on timeouts and server errors
func (o *OSMProvider) SearchPOIs(ctx context.Context, center geo.Point, radiusM float64, categories []POICategory, limit int) ([]POI, error) {
	query := buildOverpassQuery(center, radiusM, categories)
	elements, err := o.executeOverpass(ctx, query)
	if err != nil {
		return nil, err
	}

	pois := make([]POI, 0, len(elements))
	for _, element := range elements {
		poi, ok := o.elementToPOI(element)
		if !ok {
			continue
		}
		pois = append(pois, poi)
		if limit > 0 && len(pois) >= limit {
			break
		}
	}
	return pois, nil
}

// GetPOIDetails fetches a single element by its OSM id ("node/123" or
// "way/456"; a bare number is treated as a node)
func (o *OSMProvider) GetPOIDetails(ctx context.Context, id string) (*POI, error) {
	elementType := "node"
	elementID := id
	if parts := strings.SplitN(id, "/", 2); len(parts) == 2 {
		elementType = parts[0]
		elementID = parts[1]
	}

	query := fmt.Sprintf("[out:json];%s(%s);out center;", elementType, elementID)
	elements, err := o.executeOverpass(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, nil
	}
	poi, ok := o.elementToPOI(elements[0])
	if !ok {
		return nil, nil
	}
	return &poi, nil
}

// executeOverpass posts the query to the current endpoint and rotates to
// the next one on retryable failures
func (o *OSMProvider) executeOverpass(ctx context.Context, query string) ([]overpassElement, error) {
	body := []byte("data=" + url.QueryEscape(query))
	headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	var lastErr error
	start := int(o.overpassIdx.Add(1)) - 1
	for attempt := 0; attempt < len(o.overpassClients); attempt++ {
		if err := o.limiter.Wait(ctx, "osm"); err != nil {
			return nil, err
		}

		client := o.overpassClients[(start+attempt)%len(o.overpassClients)]
		resp, err := client.Post(ctx, "", body, headers)
		if err != nil {
			if !overpassRetryable(err) {
				return nil, fmt.Errorf("overpass query failed: %w", err)
			}
			logger.WarnContext(ctx, "overpass endpoint failed, rotating",
				zap.Int("endpoint", (start+attempt)%len(o.overpassClients)),
				zap.Error(err))
			lastErr = err
			continue
		}

		var result overpassResponse
		if err := json.Unmarshal(resp, &result); err != nil {
			return nil, fmt.Errorf("failed to parse overpass response: %w", err)
		}
		return result.Elements, nil
	}
	return nil, fmt.Errorf("all overpass endpoints failed: %w", lastErr)
}

func overpassRetryable(err error) bool {
	if httpErr, ok := err.(*httpclient.HTTPError); ok {
		return resilience.IsRetryableHTTPStatus(httpErr.StatusCode)
	}
	// Network errors and timeouts rotate to the next endpoint
	return true
}

// elementToPOI converts an Overpass element to the unified POI model.
// Returns false for unusable elements (no coordinates).
func (o *OSMProvider) elementToPOI(element overpassElement) (POI, bool) {
	lat, lon := element.Lat, element.Lon
	if element.Center != nil {
		lat, lon = element.Center.Lat, element.Center.Lon
	}
	if lat == 0 && lon == 0 {
		return POI{}, false
	}

	tags := element.Tags
	poi := POI{
		ProviderID:   fmt.Sprintf("%s/%d", element.Type, element.ID),
		Provider:     "osm",
		Name:         tags["name"],
		Category:     categoryFromOSMTags(tags),
		Latitude:     lat,
		Longitude:    lon,
		City:         firstTag(tags, "addr:city"),
		Operator:     tags["operator"],
		Brand:        tags["brand"],
		OpeningHours: tags["opening_hours"],
		Phone:        firstTag(tags, "phone", "contact:phone"),
		Website:      firstTag(tags, "website", "contact:website"),
		Cuisine:      tags["cuisine"],
		Tags:         tags,
		IsAbandoned:  isAbandoned(tags),
	}
	poi.Amenities = amenitiesFromTags(tags)
	poi.QualityScore, poi.QualityIssues = scorePOIQuality(&poi)
	return poi, true
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := tags[key]; v != "" {
			return v
		}
	}
	return ""
}

// categoryFromOSMTags reverse-maps OSM tags to the unified category
func categoryFromOSMTags(tags map[string]string) POICategory {
	switch tags["amenity"] {
	case "fuel":
		return CategoryGasStation
	case "restaurant":
		return CategoryRestaurant
	case "hospital":
		return CategoryHospital
	case "pharmacy":
		return CategoryPharmacy
	case "bank":
		return CategoryBank
	case "atm":
		return CategoryATM
	case "cafe":
		return CategoryCafe
	case "fast_food":
		return CategoryFastFood
	}
	switch tags["tourism"] {
	case "hotel", "motel":
		return CategoryHotel
	}
	switch tags["shop"] {
	case "supermarket":
		return CategorySupermarket
	case "car_repair":
		return CategoryMechanic
	}
	if tags["barrier"] == "toll_booth" {
		return CategoryTollBooth
	}
	switch tags["place"] {
	case "city":
		return CategoryCity
	case "town":
		return CategoryTown
	case "village":
		return CategoryVillage
	}
	return CategoryOther
}

func isAbandoned(tags map[string]string) bool {
	if tags["abandoned"] == "yes" || tags["disused"] == "yes" {
		return true
	}
	for key := range tags {
		if strings.HasPrefix(key, "abandoned:") || strings.HasPrefix(key, "disused:") {
			return true
		}
	}
	return false
}

func amenitiesFromTags(tags map[string]string) []string {
	var amenities []string
	for _, key := range []string{"fuel:diesel", "fuel:ethanol", "compressed_air", "car_wash", "shop", "toilets", "internet_access", "wheelchair"} {
		if tags[key] == "yes" || (key == "shop" && tags[key] != "") {
			amenities = append(amenities, key)
		}
	}
	return amenities
}

// scorePOIQuality computes a 0..1 completeness score with issue labels
func scorePOIQuality(poi *POI) (float64, []string) {
	var issues []string
	met, total := 0, 0

	check := func(ok bool, issue string) {
		total++
		if ok {
			met++
		} else if issue != "" {
			issues = append(issues, issue)
		}
	}

	check(poi.Name != "", "missing_name")
	check(poi.Operator != "" || poi.Brand != "", "missing_brand")
	check(poi.Phone != "", "missing_contact")
	check(poi.OpeningHours != "", "missing_hours")
	check(poi.Website != "", "")
	if poi.Category == CategoryRestaurant {
		check(poi.Cuisine != "", "")
	}
	check(poi.Tags["addr:street"] != "" || poi.Tags["addr:city"] != "", "")

	score := float64(met) / float64(total)
	if score < 0.3 {
		issues = append(issues, "low_score")
	}
	if poi.IsAbandoned {
		issues = append(issues, "abandoned")
	}
	return score, issues
}
