// Package migrationapp runs migration jobs and exposes their lifecycle operations.
package migrationapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lukgber-glitch/operate-sub002/internal/application/mapping"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/filter"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/logger"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/pagination"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ErrJobFailed wraps the reason of an orchestration-level failure
var ErrJobFailed = errors.New("migration job failed")

// errStopRequested unwinds a type at a batch boundary after pause or cancel
var errStopRequested = errors.New("stop requested")

// EngineConfig holds the dependencies of an Engine
type EngineConfig struct {
	Jobs      migration.JobRepository
	Registry  integration.PlatformRegistry
	Collector *pagination.Collector
	Mapper    *mapping.Mapper
	Filters   *filter.Compiler
	Publisher shared.EventPublisher
	Metrics   Metrics
	Logger    *zap.Logger
}

// Engine executes one migration job at a time per goroutine. Entity types run
// in dependency order, records are mapped in batches and the job is
// checkpointed to the progress store after every batch.
type Engine struct {
	jobs      migration.JobRepository
	registry  integration.PlatformRegistry
	collector *pagination.Collector
	mapper    *mapping.Mapper
	filters   *filter.Compiler
	publisher shared.EventPublisher
	metrics   Metrics
	logger    *zap.Logger
}

// NewEngine creates a new Engine
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		jobs:      cfg.Jobs,
		registry:  cfg.Registry,
		collector: cfg.Collector,
		mapper:    cfg.Mapper,
		filters:   cfg.Filters,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("migration_engine")
	return e
}

// Run drives a pending or in-progress job until it completes, fails, or a stop
// signal is honored at a batch or type boundary. When ctx is cancelled the job
// is left at its last checkpoint for startup reconciliation.
func (e *Engine) Run(ctx context.Context, job *migration.MigrationJob, signals Signals) error {
	ctx, log := logger.WithJobID(ctx, e.logger.With(
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("platform", job.Platform.String()),
	), job.ID.String())
	ctx, span := telemetry.StartServiceSpan(ctx, "migration", "run",
		telemetry.WithAttribute(telemetry.SpanAttrJobID, job.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrPlatform, job.Platform.String()))
	defer span.End()

	platform, err := e.registry.GetPlatform(job.Platform)
	if err != nil {
		telemetry.RecordError(span, err)
		return e.fail(ctx, log, job, fmt.Sprintf("platform unavailable: %v", err))
	}

	if job.Status == migration.JobStatusPending {
		e.disableUnsupported(job, platform)
		if err := job.Start(); err != nil {
			return err
		}
		if err := e.checkpoint(ctx, job); err != nil {
			return e.fail(ctx, log, job, fmt.Sprintf("progress store unavailable: %v", err))
		}
		log.Info("Migration started", zap.Int("entity_types", len(job.Progress)))
	}
	if job.Status != migration.JobStatusInProgress {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot run migration job in status %s", job.Status))
	}
	e.metrics.JobStarted(ctx, job.Platform.String())
	defer func() { e.metrics.JobFinished(ctx, job.Platform.String(), job.Status.String()) }()

	for _, t := range job.NextEntityTypes() {
		if stopped, err := e.honor(ctx, log, job, signals); stopped || err != nil {
			return err
		}
		var err error
		telemetry.WithProfilingLabels(ctx, telemetry.MigrationLabels(job.Platform.String(), t.String()), func(ctx context.Context) {
			err = e.runEntityType(ctx, log, job, platform, t, signals)
		})
		if err == nil {
			continue
		}
		if errors.Is(err, errStopRequested) {
			_, err := e.honor(ctx, log, job, signals)
			return err
		}
		if ctx.Err() != nil {
			log.Warn("Migration interrupted", zap.String("entity_type", t.String()))
			return ctx.Err()
		}
		telemetry.RecordError(span, err)
		return e.fail(ctx, log, job, err.Error())
	}

	if err := job.Complete(); err != nil {
		return e.fail(ctx, log, job, err.Error())
	}
	if err := e.checkpoint(ctx, job); err != nil {
		return e.fail(ctx, log, job, fmt.Sprintf("progress store unavailable: %v", err))
	}
	totals := job.Totals()
	log.Info("Migration completed",
		zap.Int("succeeded", totals.Succeeded),
		zap.Int("failed", totals.Failed),
		zap.Int("skipped", totals.Skipped),
		zap.Duration("duration", job.Duration()))
	telemetry.SetOK(span)
	return nil
}

// runEntityType fetches, filters and maps one entity type
func (e *Engine) runEntityType(
	ctx context.Context,
	log *zap.Logger,
	job *migration.MigrationJob,
	platform integration.AccountingPlatform,
	t ledger.EntityType,
	signals Signals,
) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "migration", "entity_type",
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, t.String()))
	defer span.End()
	log = log.With(zap.String("entity_type", t.String()))

	cfg, ok := job.EntityTypeConfig(t)
	if !ok {
		return shared.NewDomainError("ENTITY_TYPE_NOT_ENABLED", fmt.Sprintf("Entity type %s is not enabled", t))
	}
	if err := job.BeginEntityType(t); err != nil {
		return err
	}
	if err := e.checkpoint(ctx, job); err != nil {
		return fmt.Errorf("checkpoint %s: %w", t, err)
	}

	program, err := e.filters.Compile(cfg.Filter)
	if err != nil {
		if err := job.FailEntityType(t, err); err != nil {
			return err
		}
		return e.checkpoint(ctx, job)
	}

	records, err := e.collector.FetchAll(ctx, platform, pagination.FetchRequest{
		TenantID:         job.TenantID,
		ExternalTenantID: job.ExternalTenantID,
		EntityType:       t,
		Since:            job.Config.StartDate,
		ParallelRequests: job.Config.ParallelRequests,
	}, func(fetched, _ int) {
		log.Debug("Fetched page", zap.Int("fetched", fetched))
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Entity type fetch failed", zap.Error(err))
		telemetry.RecordError(span, err)
		if err := job.FailEntityType(t, err); err != nil {
			return err
		}
		return e.checkpoint(ctx, job)
	}

	selected, rejected := applyFilter(program, t, records)
	if err := job.SetEntityTotal(t, len(selected)+len(rejected)); err != nil {
		return err
	}
	for i := range rejected {
		if err := job.RecordResult(t, migration.RecordStatusFailed, &rejected[i]); err != nil {
			return err
		}
	}
	log.Info("Entity type collected",
		zap.Int("fetched", len(records)),
		zap.Int("selected", len(selected)),
		zap.Int("filter_errors", len(rejected)))

	batchSize := job.Config.BatchSize
	for start := 0; start < len(selected); start += batchSize {
		end := min(start+batchSize, len(selected))
		if err := e.runBatch(ctx, job, cfg, selected[start:end]); err != nil {
			return err
		}
		if err := e.checkpoint(ctx, job); err != nil {
			return fmt.Errorf("checkpoint %s: %w", t, err)
		}
		if end < len(selected) && signals.Requested() != SignalNone {
			return errStopRequested
		}
	}

	if err := job.CompleteEntityType(t); err != nil {
		return err
	}
	if err := e.checkpoint(ctx, job); err != nil {
		return fmt.Errorf("checkpoint %s: %w", t, err)
	}
	if p, ok := job.EntityProgress(t); ok {
		log.Info("Entity type completed",
			zap.Int("succeeded", p.Succeeded),
			zap.Int("failed", p.Failed),
			zap.Int("skipped", p.Skipped))
	}
	telemetry.SetOK(span)
	return nil
}

// runBatch maps every record of a batch and tallies the outcomes
func (e *Engine) runBatch(ctx context.Context, job *migration.MigrationJob, cfg migration.EntityTypeConfig, batch []integration.ExternalRecord) error {
	began := time.Now()
	t := cfg.EntityType
	for _, rec := range batch {
		if rec.EntityType == "" {
			rec.EntityType = t
		}
		res := e.mapper.Map(ctx, mapping.Request{
			TenantID: job.TenantID,
			JobID:    &job.ID,
			Platform: job.Platform,
			Record:   rec,
			Config:   cfg,
		})
		var recErr *migration.RecordError
		if res.Status == migration.RecordStatusFailed {
			recErr = &migration.RecordError{
				ExternalID: rec.ExternalID,
				Code:       res.ErrorCode(),
				Message:    res.Err.Error(),
			}
		}
		if err := job.RecordResult(t, res.Status, recErr); err != nil {
			return err
		}
		e.metrics.RecordProcessed(ctx, job.Platform.String(), t.String(), string(res.Status))
	}
	// a cancelled context turns the remaining records into failures; keep the previous checkpoint
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := job.MarkBatchProcessed(t, len(batch)); err != nil {
		return err
	}
	e.metrics.RecordBatch(ctx, job.Platform.String(), t.String(), len(batch), time.Since(began))
	return nil
}

// honor applies a pending stop signal. It reports whether the run must end.
func (e *Engine) honor(ctx context.Context, log *zap.Logger, job *migration.MigrationJob, signals Signals) (bool, error) {
	switch signals.Requested() {
	case SignalPause:
		if err := job.Pause(); err != nil {
			return true, err
		}
		if err := e.checkpoint(ctx, job); err != nil {
			return true, e.fail(ctx, log, job, fmt.Sprintf("progress store unavailable: %v", err))
		}
		log.Info("Migration paused", zap.String("entity_type", job.CurrentEntityType.String()))
		return true, nil
	case SignalCancel:
		if err := job.Cancel(); err != nil {
			return true, err
		}
		if err := e.checkpoint(ctx, job); err != nil {
			log.Error("Failed to persist cancellation", zap.Error(err))
			return true, err
		}
		log.Info("Migration cancelled")
		return true, nil
	case SignalAbort:
		log.Warn("Migration aborted at checkpoint")
		return true, nil
	}
	return false, nil
}

// fail marks the job failed and publishes the failure even if it cannot be persisted
func (e *Engine) fail(ctx context.Context, log *zap.Logger, job *migration.MigrationJob, reason string) error {
	if err := job.Fail(reason); err != nil {
		return err
	}
	if err := e.jobs.Save(ctx, job); err != nil {
		log.Error("Failed to persist job failure", zap.Error(err))
	}
	e.publish(ctx, job)
	log.Error("Migration failed", zap.String("reason", reason))
	return fmt.Errorf("%w: %s", ErrJobFailed, reason)
}

// checkpoint saves the job snapshot and publishes the events it queued
func (e *Engine) checkpoint(ctx context.Context, job *migration.MigrationJob) error {
	if err := e.jobs.Save(ctx, job); err != nil {
		return err
	}
	e.publish(ctx, job)
	return nil
}

func (e *Engine) publish(ctx context.Context, job *migration.MigrationJob) {
	events := job.PullDomainEvents()
	if len(events) == 0 || e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, events...); err != nil {
		e.logger.Warn("Failed to publish migration events",
			zap.String("job_id", job.ID.String()),
			zap.Int("events", len(events)),
			zap.Error(err))
	}
}

// disableUnsupported removes the entity types the platform does not expose
func (e *Engine) disableUnsupported(job *migration.MigrationJob, platform integration.AccountingPlatform) {
	var unsupported []ledger.EntityType
	for _, et := range job.Config.EnabledEntityTypes() {
		if !platform.Supports(et.EntityType) {
			unsupported = append(unsupported, et.EntityType)
		}
	}
	for _, t := range unsupported {
		job.DisableEntityType(t, fmt.Sprintf("%s does not expose %s; entity type skipped",
			job.Platform.DisplayName(), t))
	}
}

// applyFilter splits records into selected ones and filter evaluation failures
func applyFilter(program *filter.Program, t ledger.EntityType, records []integration.ExternalRecord) ([]integration.ExternalRecord, []migration.RecordError) {
	if program == nil {
		return records, nil
	}
	selected := make([]integration.ExternalRecord, 0, len(records))
	var rejected []migration.RecordError
	for _, rec := range records {
		ok, err := program.Match(rec)
		if err != nil {
			rejected = append(rejected, migration.RecordError{
				EntityType: t,
				ExternalID: rec.ExternalID,
				Code:       "FILTER_ERROR",
				Message:    err.Error(),
			})
			continue
		}
		if ok {
			selected = append(selected, rec)
		}
	}
	return selected, rejected
}
