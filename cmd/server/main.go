package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lukgber-glitch/operate-sub002/internal/application/mapping"
	migrationapp "github.com/lukgber-glitch/operate-sub002/internal/application/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/auth"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/cache"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/config"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/event"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/fetch"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/filter"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/logger"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/pagination"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/persistence"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/telemetry"
	"github.com/lukgber-glitch/operate-sub002/internal/interfaces/http/handler"
	"github.com/lukgber-glitch/operate-sub002/internal/interfaces/http/middleware"
	"github.com/lukgber-glitch/operate-sub002/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	if cfg.App.InstanceID == "" {
		cfg.App.InstanceID, _ = os.Hostname()
	}

	log, err := logger.New(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		Service:  cfg.App.Name,
		Instance: cfg.App.InstanceID,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting migration service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("instance", cfg.App.InstanceID),
		zap.String("version", version),
	)

	ctx := context.Background()

	tel, err := setupTelemetry(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer tel.shutdown(log)
	log = tel.logger

	if cfg.Database.MigrateOnStart {
		if err := migrateSchema(&cfg.Database, log); err != nil {
			log.Fatal("Failed to apply database schema", zap.Error(err))
		}
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := tel.instrumentDB(ctx, db); err != nil {
		log.Fatal("Failed to instrument database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	coord, err := cache.NewCoordination(ctx, cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!cfg.Redis.Enabled || cfg.App.Env != "production"),
	)
	if err != nil {
		log.Fatal("Failed to set up job coordination", zap.Error(err))
	}
	defer func() {
		if err := coord.Close(); err != nil {
			log.Error("Error closing coordination", zap.Error(err))
		}
	}()

	credentials, err := newCredentialProvider(cfg, coord)
	if err != nil {
		log.Fatal("Failed to set up platform credentials", zap.Error(err))
	}
	registry, err := newPlatformRegistry(cfg, credentials, log)
	if err != nil {
		log.Fatal("Failed to configure accounting platforms", zap.Error(err))
	}
	for _, p := range registry.ListPlatforms() {
		log.Info("Accounting platform enabled", zap.String("platform", p.PlatformCode().String()))
	}

	limiter, err := newRateWindow(cfg, coord)
	if err != nil {
		log.Fatal("Invalid outbound rate window", zap.Error(err))
	}
	client := fetch.NewClient(limiter, fetch.RetryConfig{
		MaxAttempts:       cfg.Migration.MaxRetries + 1,
		InitialBackoff:    cfg.Migration.RetryBaseDelay,
		MaxBackoff:        cfg.Migration.RetryMaxDelay,
		MaxServerDelay:    cfg.Migration.RetryMaxServerDelay,
		BackoffMultiplier: 2.0,
	}, log)

	filters, err := filter.NewCompiler()
	if err != nil {
		log.Fatal("Failed to create filter compiler", zap.Error(err))
	}

	// Repositories
	jobRepo := persistence.NewGormMigrationJobRepository(db.DB)
	mappingRepo := persistence.NewGormExternalIDMappingRepository(db.DB)
	uow := persistence.NewGormUnitOfWork(db.DB)

	// Events
	busOpts := []event.BusOption{}
	if cfg.Event.AsyncDispatch {
		busOpts = append(busOpts, event.WithAsyncDispatch(cfg.Event.QueueSize))
	}
	eventBus := event.NewInMemoryEventBus(log, busOpts...)

	archive, locator, err := newReportArchive(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to set up report archive", zap.Error(err))
	}
	reportHandler := migrationapp.NewReportHandler(jobRepo, mappingRepo, archive, cfg.Storage.ReportPrefix, log)
	idemConfig := shared.DefaultIdempotencyConfig()
	idemConfig.TTL = cfg.Event.IdempotencyTTL
	eventBus.Subscribe(
		event.NewIdempotentHandler(reportHandler, coord.Idempotency, log, event.WithIdempotencyConfig(idemConfig)),
		reportHandler.EventTypes()...,
	)
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	var metrics migrationapp.Metrics
	if tel.meters.IsEnabled() {
		mm, err := telemetry.NewMigrationMetrics(tel.meters.Meter("operate-migrations/migration"))
		if err != nil {
			log.Fatal("Failed to create migration metrics", zap.Error(err))
		}
		metrics = mm
	}

	engine := migrationapp.NewEngine(migrationapp.EngineConfig{
		Jobs:      jobRepo,
		Registry:  registry,
		Collector: pagination.NewCollector(client, log),
		Mapper:    mapping.NewMapper(mappingRepo, uow, nil, log),
		Filters:   filters,
		Publisher: eventBus,
		Metrics:   metrics,
		Logger:    log,
	})
	service := migrationapp.NewService(jobRepo, mappingRepo, registry, engine, filters, coord.Lease, eventBus,
		migrationapp.ServiceConfig{
			Owner:                   cfg.App.InstanceID,
			LeaseTTL:                cfg.Migration.LeaseTTL,
			ReconcilePolicy:         migration.ReconcilePolicy(cfg.Migration.ReconcilePolicy),
			DefaultBatchSize:        cfg.Migration.DefaultBatchSize,
			DefaultParallelRequests: cfg.Migration.DefaultParallelRequests,
			DefaultMaxErrors:        cfg.Migration.MaxErrors,
		}, log)

	if err := service.ReconcileOnStartup(ctx); err != nil {
		log.Fatal("Failed to reconcile interrupted jobs", zap.Error(err))
	}

	var reports handler.ReportLinker
	if locator != nil {
		reports = migrationapp.NewReportLinks(jobRepo, locator, cfg.Storage.ReportPrefix, cfg.Storage.PresignExpiration)
	}
	systemHandler := handler.NewSystemHandler(db, service, version)

	httpEngine, err := router.NewEngine(router.EngineDeps{
		Config:        cfg.HTTP,
		Telemetry:     cfg.Telemetry,
		Logger:        log,
		Validator:     auth.NewJWTService(cfg.JWT),
		MeterProvider: tel.meters,
		Gatherer:      prometheus.DefaultGatherer,
		RateLimiter:   middleware.NewTenantRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst),
		Profiling:     cfg.Telemetry.ProfilingEnabled,
		Health:        systemHandler.Health,
	},
		handler.NewMigrationHandler(service, reports),
		router.RouteFunc(func(rg *gin.RouterGroup) {
			rg.GET("/system/info", systemHandler.GetSystemInfo)
		}),
	)
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        httpEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	httpCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Running jobs are paused at their next batch boundary. Jobs still running at
	// the deadline stay in_progress and are reconciled by the next instance.
	jobsCtx, cancelJobs := context.WithTimeout(context.Background(), cfg.Migration.ShutdownTimeout)
	defer cancelJobs()
	if err := service.Shutdown(jobsCtx); err != nil {
		log.Warn("Migration jobs did not stop in time", zap.Error(err))
	}
	busCtx, cancelBus := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelBus()
	if err := eventBus.Stop(busCtx); err != nil {
		log.Warn("Event bus did not drain", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
