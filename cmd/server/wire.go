package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	migrationapp "github.com/lukgber-glitch/operate-sub002/internal/application/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/accounting"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/cache"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/config"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/logger"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/persistence"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/ratelimit"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/schema"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/storage"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/telemetry"
	"github.com/lukgber-glitch/operate-sub002/migrations"
)

// telemetryStack holds the OpenTelemetry providers and the profiler
type telemetryStack struct {
	tracer   *telemetry.TracerProvider
	meters   *telemetry.MeterProvider
	logs     *telemetry.LoggerProvider
	profiler *telemetry.Profiler
	db       *telemetry.DBInstrumentation
	cfg      config.TelemetryConfig
	// logger is the application logger, teed into OTLP when log export is on
	logger *zap.Logger
}

func setupTelemetry(ctx context.Context, cfg *config.Config, log *zap.Logger) (*telemetryStack, error) {
	tc := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
		LogsEnabled:       cfg.Telemetry.LogsEnabled,
	}
	s := &telemetryStack{cfg: cfg.Telemetry, logger: log}

	var err error
	if s.tracer, err = telemetry.NewTracerProvider(ctx, tc, log); err != nil {
		return nil, err
	}
	if s.meters, err = telemetry.NewMeterProvider(ctx, tc, log); err != nil {
		return nil, err
	}
	if s.logs, err = telemetry.NewLoggerProvider(ctx, tc, log); err != nil {
		return nil, err
	}
	s.logger = s.logs.Bridge(log, tc.ServiceName, logger.ParseLevel(cfg.Log.Level))

	if s.profiler, err = telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingServer,
		ApplicationName: cfg.Telemetry.ServiceName,
	}, log); err != nil {
		return nil, err
	}
	if s.profiler.IsEnabled() && s.tracer.IsEnabled() {
		s.tracer.EnableSpanProfiles()
	}
	return s, nil
}

// instrumentDB installs query tracing and timing and starts pool sampling
func (s *telemetryStack) instrumentDB(ctx context.Context, db *persistence.Database) error {
	inst, err := telemetry.NewDBInstrumentation(s.meters, telemetry.DBConfig{
		TraceEnabled:    s.cfg.Enabled && s.cfg.DBTraceEnabled,
		LogFullSQL:      s.cfg.DBLogFullSQL,
		SlowQueryThresh: s.cfg.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, s.logger)
	if err != nil {
		return err
	}
	if err := inst.Register(db.DB); err != nil {
		return err
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	inst.StartPoolStats(ctx, sqlDB)
	s.db = inst
	return nil
}

func (s *telemetryStack) shutdown(log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if s.db != nil {
		s.db.Stop()
	}
	if err := s.profiler.Stop(); err != nil {
		log.Warn("Profiler stop failed", zap.Error(err))
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		log.Warn("Tracer shutdown failed", zap.Error(err))
	}
	if err := s.meters.Shutdown(ctx); err != nil {
		log.Warn("Meter shutdown failed", zap.Error(err))
	}
	if err := s.logs.Shutdown(ctx); err != nil {
		log.Warn("Log exporter shutdown failed", zap.Error(err))
	}
}

// newCredentialProvider selects where access tokens come from
func newCredentialProvider(cfg *config.Config, coord *cache.Coordination) (integration.CredentialProvider, error) {
	switch cfg.Migration.CredentialSource {
	case "redis":
		if !coord.Distributed() {
			return nil, fmt.Errorf("credential source redis needs a reachable redis")
		}
		return accounting.NewRedisCredentialProvider(coord.Client, ""), nil
	default:
		tokens := map[integration.PlatformCode]string{}
		if cfg.Xero.AccessToken != "" {
			tokens[integration.PlatformCodeXero] = cfg.Xero.AccessToken
		}
		if cfg.Freee.AccessToken != "" {
			tokens[integration.PlatformCodeFreee] = cfg.Freee.AccessToken
		}
		return accounting.NewStaticCredentialProvider(tokens), nil
	}
}

// newPlatformRegistry builds the adapters of every enabled platform
func newPlatformRegistry(cfg *config.Config, credentials integration.CredentialProvider, log *zap.Logger) (*accounting.Registry, error) {
	var platforms []integration.AccountingPlatform
	if cfg.Xero.Enabled {
		xero, err := accounting.NewXeroAdapter(platformConfig(accounting.NewXeroConfig(), cfg.Xero), credentials, log)
		if err != nil {
			return nil, fmt.Errorf("xero: %w", err)
		}
		platforms = append(platforms, xero)
	}
	if cfg.Freee.Enabled {
		freee, err := accounting.NewFreeeAdapter(platformConfig(accounting.NewFreeeConfig(), cfg.Freee), credentials, log)
		if err != nil {
			return nil, fmt.Errorf("freee: %w", err)
		}
		platforms = append(platforms, freee)
	}
	if len(platforms) == 0 {
		log.Warn("No accounting platform enabled; every migration request will be rejected")
	}
	return accounting.NewRegistry(platforms...), nil
}

func platformConfig(base *accounting.Config, pc config.PlatformConfig) *accounting.Config {
	if pc.BaseURL != "" {
		base.BaseURL = pc.BaseURL
	}
	if pc.PageSize > 0 {
		base.PageSize = pc.PageSize
	}
	if pc.Timeout > 0 {
		base.Timeout = pc.Timeout
	}
	if pc.UserAgent != "" {
		base.UserAgent = pc.UserAgent
	}
	return base
}

// newRateWindow returns the per-tenant outbound window, shared through Redis when configured
func newRateWindow(cfg *config.Config, coord *cache.Coordination) (ratelimit.Limiter, error) {
	rc := ratelimit.Config{
		Limit:  cfg.Migration.RateLimitRequests,
		Window: cfg.Migration.RateLimitWindow,
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if cfg.Migration.SharedRateWindow && coord.Distributed() {
		return ratelimit.NewRedisWindow(coord.Client, rc, ""), nil
	}
	return ratelimit.NewSlidingWindow(rc), nil
}

// newReportArchive returns the S3 archive when storage is enabled, otherwise an
// in-process archive whose reports cannot be downloaded
func newReportArchive(ctx context.Context, cfg *config.Config, log *zap.Logger) (migrationapp.ReportArchive, migrationapp.ReportLocator, error) {
	if !cfg.Storage.Enabled {
		log.Info("Report storage disabled, keeping reports in memory")
		return storage.NewMemoryReportArchive(), nil, nil
	}
	archive, err := storage.NewS3ReportArchive(ctx, &cfg.Storage,
		storage.WithLogger(log),
		storage.WithPresignExpiration(cfg.Storage.PresignExpiration),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := archive.EnsureBucket(ctx); err != nil {
		return nil, nil, err
	}
	return archive, archive, nil
}

// migrateSchema applies the embedded schema over a dedicated connection, since
// closing the migrator also closes the connection it was given
func migrateSchema(cfg *config.DatabaseConfig, log *zap.Logger) error {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return err
	}
	m, err := schema.New(db, migrations.FS, log)
	if err != nil {
		return errors.Join(err, db.Close())
	}
	return errors.Join(m.Up(), m.Close())
}
