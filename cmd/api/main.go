package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mapalinear/mapalinear/internal/geocache"
	"github.com/mapalinear/mapalinear/internal/linearmap"
	"github.com/mapalinear/mapalinear/internal/maintenance"
	"github.com/mapalinear/mapalinear/internal/operations"
	"github.com/mapalinear/mapalinear/internal/poi"
	"github.com/mapalinear/mapalinear/internal/providers"
	"github.com/mapalinear/mapalinear/internal/segments"
	"github.com/mapalinear/mapalinear/pkg/common"
	"github.com/mapalinear/mapalinear/pkg/config"
	"github.com/mapalinear/mapalinear/pkg/database"
	"github.com/mapalinear/mapalinear/pkg/errors"
	"github.com/mapalinear/mapalinear/pkg/logger"
	"github.com/mapalinear/mapalinear/pkg/middleware"
	"github.com/mapalinear/mapalinear/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	serviceName = "mapalinear-api"
	version     = "1.0.0"

	maintenanceInterval = 6 * time.Hour
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting MapaLinear API",
		zap.String("service", serviceName),
		zap.String("version", version),
	)

	sentryConfig := errors.DefaultSentryConfig()
	sentryConfig.ServerName = serviceName
	sentryConfig.Release = version
	if err := errors.InitSentry(sentryConfig); err != nil {
		logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
	}

	pool, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer database.Close(pool)
	logger.Info("Connected to PostgreSQL", zap.String("database", cfg.Database.DBName))

	// Unified geo cache in front of every provider call
	cache := geocache.New(geocache.NewRepository(pool))

	// Provider constructors register their own rate limits on the limiter
	limiter := ratelimit.NewProviderLimiter()

	registry := providers.NewRegistry(cfg.Providers)
	osm := providers.NewOSMProvider(limiter, cfg.RateLimit.OSMPerSecond)
	registry.Register(providers.NewCachedProvider(osm, cache, cfg.Cache))
	if cfg.Providers.HEREAPIKey != "" {
		here := providers.NewHEREProvider(cfg.Providers.HEREAPIKey, limiter, cfg.RateLimit.HEREPerSecond)
		registry.Register(providers.NewCachedProvider(here, cache, cfg.Cache))
		logger.Info("HERE provider registered",
			zap.Bool("enrichment_enabled", cfg.Providers.HEREEnrichmentEnabled))
	}

	segmentRepo := segments.NewRepository(pool)
	poiRepo := poi.NewRepository(pool)
	mapRepo := linearmap.NewRepository(pool)
	opsRepo := operations.NewRepository(pool)

	engine := segments.NewEngine(segmentRepo)

	routing, err := registry.Routing()
	if err != nil {
		logger.Fatal("Routing provider unavailable", zap.Error(err))
	}
	geocoder, err := registry.Geocoding()
	if err != nil {
		logger.Fatal("Geocoding provider unavailable", zap.Error(err))
	}

	var enricher *poi.Enricher
	if hereProvider, ok := registry.Enrichment(); ok {
		enricher = poi.NewEnricher(hereProvider, poiRepo)
		logger.Info("HERE enrichment enabled")
	}

	junctions := linearmap.NewJunctionCalculator(routing, float64(cfg.Tuning.LookbackMilestones))
	assembler := linearmap.NewAssembler(segmentRepo, poiRepo, geocoder, junctions)
	mapService := linearmap.NewService(registry, engine, poiRepo, enricher, assembler, mapRepo, opsRepo, cfg.Tuning)

	maintenanceService := maintenance.NewService(poiRepo, segmentRepo, opsRepo, cache)

	rootCtx, stopMaintenance := context.WithCancel(context.Background())
	defer stopMaintenance()
	go maintenanceService.RunPeriodic(rootCtx, maintenanceInterval)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoRoute(common.NoRouteHandler())
	router.NoMethod(common.NoMethodHandler())
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS())
	router.Use(middleware.SanitizeRequest())
	router.Use(middleware.RequestTimeout(30 * time.Second))
	router.Use(middleware.ErrorHandler())

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, map[string]func() error{
		"postgres": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(ctx)
		},
	}))
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	linearmap.NewHandler(mapService).RegisterRoutes(api)
	operations.NewHandler(opsRepo).RegisterRoutes(api)

	admin := router.Group("/api/v1/admin")
	maintenance.NewHandler(maintenanceService, cache).RegisterRoutes(admin)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopMaintenance()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}
