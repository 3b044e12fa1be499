package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Providers ProvidersConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Tuning    TuningConfig
	Sentry    SentryConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MinConns int
	MaxConns int
}

// ProvidersConfig selects external geo providers and their credentials
type ProvidersConfig struct {
	POIProvider           string // "osm" or "here"
	HEREEnrichmentEnabled bool
	HEREAPIKey            string
	GooglePlacesAPIKey    string
	GooglePlacesEnabled   bool
}

// CacheConfig holds TTLs (seconds) for the unified geo cache
type CacheConfig struct {
	GeocodeTTL      int
	RouteTTL        int
	POISearchTTL    int
	POIDetailsTTL   int
	GooglePlacesTTL int
}

// RateLimitConfig holds per-provider request rates (requests per second)
type RateLimitConfig struct {
	OSMPerSecond  float64
	HEREPerSecond float64
}

// TuningConfig holds pipeline tuning knobs
type TuningConfig struct {
	LookbackMilestones      int
	DuplicateMapToleranceKm float64
}

// SentryConfig holds error tracking configuration
type SentryConfig struct {
	DSN string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:   getEnv("POSTGRES_DATABASE", "mapalinear"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MinConns: getEnvAsInt("POSTGRES_POOL_MIN_SIZE", 0),
			MaxConns: getEnvAsInt("POSTGRES_POOL_MAX_SIZE", 50),
		},
		Providers: ProvidersConfig{
			POIProvider:           getEnv("POI_PROVIDER", "osm"),
			HEREEnrichmentEnabled: getEnvAsBool("HERE_ENRICHMENT_ENABLED", false),
			HEREAPIKey:            getEnv("HERE_API_KEY", ""),
			GooglePlacesAPIKey:    getEnv("GOOGLE_PLACES_API_KEY", ""),
			GooglePlacesEnabled:   getEnvAsBool("GOOGLE_PLACES_ENABLED", false),
		},
		Cache: CacheConfig{
			GeocodeTTL:      getEnvAsInt("GEO_CACHE_TTL_GEOCODE", 604800),
			RouteTTL:        getEnvAsInt("GEO_CACHE_TTL_ROUTE", 21600),
			POISearchTTL:    getEnvAsInt("GEO_CACHE_TTL_POI", 86400),
			POIDetailsTTL:   getEnvAsInt("GEO_CACHE_TTL_POI_DETAILS", 43200),
			GooglePlacesTTL: getEnvAsInt("GOOGLE_PLACES_CACHE_TTL", 2592000),
		},
		RateLimit: RateLimitConfig{
			OSMPerSecond:  getEnvAsFloat("GEO_RATE_LIMIT_OSM", 1.0),
			HEREPerSecond: getEnvAsFloat("GEO_RATE_LIMIT_HERE", 5.0),
		},
		Tuning: TuningConfig{
			LookbackMilestones:      getEnvAsInt("LOOKBACK_MILESTONES_COUNT", 10),
			DuplicateMapToleranceKm: getEnvAsFloat("DUPLICATE_MAP_TOLERANCE_KM", 5.0),
		},
		Sentry: SentryConfig{
			DSN: getEnv("SENTRY_DSN", ""),
		},
	}

	if cfg.Providers.POIProvider != "osm" && cfg.Providers.POIProvider != "here" {
		return nil, fmt.Errorf("invalid POI_PROVIDER %q: must be osm or here", cfg.Providers.POIProvider)
	}
	if cfg.Providers.POIProvider == "here" && cfg.Providers.HEREAPIKey == "" {
		return nil, fmt.Errorf("HERE_API_KEY is required when POI_PROVIDER=here")
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
