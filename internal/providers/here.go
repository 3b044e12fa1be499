package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mapalinear/mapalinear/pkg/geo"
	"github.com/mapalinear/mapalinear/pkg/httpclient"
	"github.com/mapalinear/mapalinear/pkg/ratelimit"
)

const (
	hereGeocodeBaseURL    = "https://geocode.search.hereapi.com/v1"
	hereRevGeocodeBaseURL = "https://revgeocode.search.hereapi.com/v1"
	hereRouterBaseURL     = "https://router.hereapi.com/v8"
	hereBrowseBaseURL     = "https://browse.search.hereapi.com/v1"
	hereLookupBaseURL     = "https://lookup.search.hereapi.com/v1"
)

// hereCategoryIDs maps unified categories to HERE Places category IDs.
// Settlement categories have no browse equivalent and are not mapped.
var hereCategoryIDs = map[POICategory]string{
	CategoryGasStation:  "700-7600-0116",
	CategoryRestaurant:  "100-1000-0000",
	CategoryHotel:       "500-5000-0053",
	CategoryHospital:    "800-8000-0159",
	CategoryPharmacy:    "600-6400-0000",
	CategoryBank:        "700-7000-0107",
	CategoryATM:         "700-7010-0108",
	CategoryCafe:        "100-1100-0010",
	CategoryFastFood:    "100-1000-0009",
	CategorySupermarket: "600-6300-0066",
	CategoryMechanic:    "700-7850-0000",
}

// HEREProvider adapts the HERE geocoding, routing and places APIs
type HEREProvider struct {
	apiKey           string
	geocodeClient    *httpclient.Client
	revGeocodeClient *httpclient.Client
	routerClient     *httpclient.Client
	browseClient     *httpclient.Client
	lookupClient     *httpclient.Client

	limiter   *ratelimit.ProviderLimiter
	perSecond float64
}

// HEREOption configures the HERE provider
type HEREOption func(*hereEndpoints)

type hereEndpoints struct {
	geocode    string
	revGeocode string
	router     string
	browse     string
	lookup     string
}

// WithHEREBaseURL points every HERE client at one base URL, for tests
func WithHEREBaseURL(u string) HEREOption {
	return func(e *hereEndpoints) {
		e.geocode, e.revGeocode, e.router, e.browse, e.lookup = u, u, u, u, u
	}
}

// NewHEREProvider creates the HERE adapter and registers its rate limit
func NewHEREProvider(apiKey string, limiter *ratelimit.ProviderLimiter, perSecond float64, opts ...HEREOption) *HEREProvider {
	endpoints := &hereEndpoints{
		geocode:    hereGeocodeBaseURL,
		revGeocode: hereRevGeocodeBaseURL,
		router:     hereRouterBaseURL,
		browse:     hereBrowseBaseURL,
		lookup:     hereLookupBaseURL,
	}
	for _, opt := range opts {
		opt(endpoints)
	}

	limiter.Register("here", perSecond)

	timeout := 30 * time.Second
	return &HEREProvider{
		apiKey: apiKey,
		geocodeClient: httpclient.NewClient(endpoints.geocode, timeout,
			httpclient.WithDefaultRetry(), endpointBreaker("here-geocode")),
		revGeocodeClient: httpclient.NewClient(endpoints.revGeocode, timeout,
			httpclient.WithDefaultRetry(), endpointBreaker("here-revgeocode")),
		routerClient: httpclient.NewClient(endpoints.router, timeout,
			httpclient.WithDefaultRetry(), endpointBreaker("here-router")),
		browseClient: httpclient.NewClient(endpoints.browse, timeout,
			httpclient.WithDefaultRetry(), endpointBreaker("here-browse")),
		lookupClient: httpclient.NewClient(endpoints.lookup, timeout,
			httpclient.WithDefaultRetry(), endpointBreaker("here-lookup")),
		limiter:   limiter,
		perSecond: perSecond,
	}
}

// Name returns the provider name
func (h *HEREProvider) Name() string { return "here" }

// SupportsOfflineExport reports whether results may be redistributed offline
func (h *HEREProvider) SupportsOfflineExport() bool { return false }

// RateLimitPerSecond returns the configured request rate
func (h *HEREProvider) RateLimitPerSecond() float64 { return h.perSecond }

// hereItem is a geocode/browse/lookup result item
type hereItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Position struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"position"`
	Address struct {
		Label       string `json:"label"`
		City        string `json:"city"`
		State       string `json:"state"`
		CountryName string `json:"countryName"`
	} `json:"address"`
	Categories []struct {
		ID      string `json:"id"`
		Primary bool   `json:"primary"`
	} `json:"categories"`
	Contacts []struct {
		Phone []struct {
			Value string `json:"value"`
		} `json:"phone"`
		WWW []struct {
			Value string `json:"value"`
		} `json:"www"`
	} `json:"contacts"`
	OpeningHours []struct {
		Text []string `json:"text"`
	} `json:"openingHours"`
}

type hereItemsResponse struct {
	Items []hereItem `json:"items"`
}

// Geocode resolves a free-text address
func (h *HEREProvider) Geocode(ctx context.Context, address string) (*GeoLocation, error) {
	if err := h.limiter.Wait(ctx, "here"); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("apiKey", h.apiKey)
	params.Set("q", address)
	params.Set("limit", "1")

	resp, err := h.geocodeClient.Get(ctx, "/geocode?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("here geocode failed: %w", err)
	}

	var result hereItemsResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to parse here geocode response: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, nil
	}
	return hereItemToLocation(&result.Items[0]), nil
}

// ReverseGeocode resolves coordinates to an address. poiName only
// differentiates cache keys.
func (h *HEREProvider) ReverseGeocode(ctx context.Context, lat, lon float64, poiName string) (*GeoLocation, error) {
	if err := h.limiter.Wait(ctx, "here"); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("apiKey", h.apiKey)
	params.Set("at", fmt.Sprintf("%.6f,%.6f", lat, lon))
	params.Set("limit", "1")

	resp, err := h.revGeocodeClient.Get(ctx, "/revgeocode?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("here reverse geocode failed: %w", err)
	}

	var result hereItemsResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to parse here revgeocode response: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, nil
	}
	return hereItemToLocation(&result.Items[0]), nil
}

func hereItemToLocation(item *hereItem) *GeoLocation {
	return &GeoLocation{
		Latitude:    item.Position.Lat,
		Longitude:   item.Position.Lng,
		DisplayName: item.Address.Label,
		City:        item.Address.City,
		State:       item.Address.State,
		Country:     item.Address.CountryName,
	}
}

// hereRouteResponse mirrors the HERE router v8 response
type hereRouteResponse struct {
	Routes []struct {
		Sections []struct {
			Polyline string `json:"polyline"`
			Summary  struct {
				Length   float64 `json:"length"`
				Duration float64 `json:"duration"`
			} `json:"summary"`
		} `json:"sections"`
	} `json:"routes"`
}

// CalculateRoute computes a car route via the HERE router
func (h *HEREProvider) CalculateRoute(ctx context.Context, origin, destination geo.Point, opts *RouteOptions) (*Route, error) {
	if err := h.limiter.Wait(ctx, "here"); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("apiKey", h.apiKey)
	params.Set("transportMode", "car")
	params.Set("origin", fmt.Sprintf("%.6f,%.6f", origin.Lat, origin.Lon))
	params.Set("destination", fmt.Sprintf("%.6f,%.6f", destination.Lat, destination.Lon))
	params.Set("return", "polyline,summary")
	if opts != nil {
		for i, wp := range opts.Waypoints {
			params.Add(fmt.Sprintf("via%d", i), fmt.Sprintf("%.6f,%.6f", wp.Lat, wp.Lon))
		}
		if len(opts.Avoid) > 0 {
			params.Set("avoid[features]", strings.Join(opts.Avoid, ","))
		}
	}

	resp, err := h.routerClient.Get(ctx, "/routes?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("here routing failed: %w", err)
	}

	var result hereRouteResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to parse here routing response: %w", err)
	}
	if len(result.Routes) == 0 {
		return nil, nil
	}

	route := &Route{}
	for _, section := range result.Routes[0].Sections {
		route.TotalDistanceKm += section.Summary.Length / 1000
		route.TotalDurationMin += section.Summary.Duration / 60

		geometry, err := decodeFlexPolyline(section.Polyline)
		if err != nil {
			return nil, fmt.Errorf("failed to decode here polyline: %w", err)
		}
		route.Geometry = append(route.Geometry, geometry...)
		route.Steps = append(route.Steps, RouteStep{
			DistanceM: section.Summary.Length,
			DurationS: section.Summary.Duration,
			Geometry:  geometry,
		})
	}
	return route, nil
}

// SearchPOIs browses HERE places around a center
func (h *HEREProvider) SearchPOIs(ctx context.Context, center geo.Point, radiusM float64, categories []POICategory, limit int) ([]POI, error) {
	ids := make([]string, 0, len(categories))
	for _, category := range categories {
		if id, ok := hereCategoryIDs[category]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := h.limiter.Wait(ctx, "here"); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 20
	}
	params := url.Values{}
	params.Set("apiKey", h.apiKey)
	params.Set("at", fmt.Sprintf("%.6f,%.6f", center.Lat, center.Lon))
	params.Set("in", fmt.Sprintf("circle:%.6f,%.6f;r=%d", center.Lat, center.Lon, int(radiusM)))
	params.Set("categories", strings.Join(ids, ","))
	params.Set("limit", strconv.Itoa(limit))

	resp, err := h.browseClient.Get(ctx, "/browse?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("here browse failed: %w", err)
	}

	var result hereItemsResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to parse here browse response: %w", err)
	}

	pois := make([]POI, 0, len(result.Items))
	for i := range result.Items {
		pois = append(pois, hereItemToPOI(&result.Items[i]))
	}
	return pois, nil
}

// GetPOIDetails looks up a place by its HERE id
func (h *HEREProvider) GetPOIDetails(ctx context.Context, id string) (*POI, error) {
	if err := h.limiter.Wait(ctx, "here"); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("apiKey", h.apiKey)
	params.Set("id", id)

	resp, err := h.lookupClient.Get(ctx, "/lookup?"+params.Encode(), nil)
	if err != nil {
		if httpErr, ok := err.(*httpclient.HTTPError); ok && httpErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("here lookup failed: %w", err)
	}

	var item hereItem
	if err := json.Unmarshal(resp, &item); err != nil {
		return nil, fmt.Errorf("failed to parse here lookup response: %w", err)
	}
	if item.ID == "" {
		return nil, nil
	}
	poi := hereItemToPOI(&item)
	return &poi, nil
}

func hereItemToPOI(item *hereItem) POI {
	poi := POI{
		ProviderID: item.ID,
		Provider:   "here",
		Name:       item.Title,
		Category:   categoryFromHEREItem(item),
		Latitude:   item.Position.Lat,
		Longitude:  item.Position.Lng,
		City:       item.Address.City,
	}
	for _, contact := range item.Contacts {
		if poi.Phone == "" && len(contact.Phone) > 0 {
			poi.Phone = contact.Phone[0].Value
		}
		if poi.Website == "" && len(contact.WWW) > 0 {
			poi.Website = contact.WWW[0].Value
		}
	}
	if len(item.OpeningHours) > 0 {
		poi.OpeningHours = strings.Join(item.OpeningHours[0].Text, "; ")
	}
	return poi
}

// categoryFromHEREItem reverse-maps by the first two dash groups of the
// primary category id
func categoryFromHEREItem(item *hereItem) POICategory {
	var primaryID string
	for _, c := range item.Categories {
		if c.Primary {
			primaryID = c.ID
			break
		}
	}
	if primaryID == "" && len(item.Categories) > 0 {
		primaryID = item.Categories[0].ID
	}
	if primaryID == "" {
		return CategoryOther
	}

	prefix := categoryIDPrefix(primaryID)
	for category, id := range hereCategoryIDs {
		if categoryIDPrefix(id) == prefix {
			return category
		}
	}
	return CategoryOther
}

func categoryIDPrefix(id string) string {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) < 2 {
		return id
	}
	return parts[0] + "-" + parts[1]
}

// flexPolylineChars is the HERE flexible polyline alphabet
const flexPolylineChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

var flexPolylineValues = func() [128]int8 {
	var table [128]int8
	for i := range table {
		table[i] = -1
	}
	for i, c := range flexPolylineChars {
		table[c] = int8(i)
	}
	return table
}()

// decodeFlexPolyline decodes HERE's flexible polyline format into points.
// Third-dimension values, when present, are decoded and discarded.
func decodeFlexPolyline(encoded string) ([]geo.Point, error) {
	pos := 0
	readUnsigned := func() (uint64, error) {
		var result uint64
		shift := uint(0)
		for {
			if pos >= len(encoded) {
				return 0, fmt.Errorf("truncated polyline")
			}
			c := encoded[pos]
			if c >= 128 || flexPolylineValues[c] < 0 {
				return 0, fmt.Errorf("invalid polyline character %q", c)
			}
			value := uint64(flexPolylineValues[c])
			pos++
			result |= (value & 0x1F) << shift
			if value&0x20 == 0 {
				return result, nil
			}
			shift += 5
		}
	}
	readSigned := func() (int64, error) {
		u, err := readUnsigned()
		if err != nil {
			return 0, err
		}
		// zigzag decode
		if u&1 != 0 {
			return ^int64(u >> 1), nil
		}
		return int64(u >> 1), nil
	}

	version, err := readUnsigned()
	if err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, fmt.Errorf("unsupported polyline version %d", version)
	}

	header, err := readUnsigned()
	if err != nil {
		return nil, err
	}
	precision := header & 0x0F
	thirdDimType := (header >> 4) & 0x07

	scale := 1.0
	for i := uint64(0); i < precision; i++ {
		scale *= 10
	}

	var points []geo.Point
	var lat, lon int64
	for pos < len(encoded) {
		dLat, err := readSigned()
		if err != nil {
			return nil, err
		}
		dLon, err := readSigned()
		if err != nil {
			return nil, err
		}
		lat += dLat
		lon += dLon
		if thirdDimType != 0 {
			if _, err := readSigned(); err != nil {
				return nil, err
			}
		}
		points = append(points, geo.Point{
			Lat: float64(lat) / scale,
			Lon: float64(lon) / scale,
		})
	}
	return points, nil
}
