package migrationapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/filter"
	"go.uber.org/zap"
)

// DefaultLeaseTTL is used when ServiceConfig.LeaseTTL is not set
const DefaultLeaseTTL = 30 * time.Second

// ErrServiceClosed is returned once Shutdown has been called
var ErrServiceClosed = shared.NewDomainError("SERVICE_UNAVAILABLE", "Migration service is shutting down")

// ServiceConfig holds the runtime settings of the migration service
type ServiceConfig struct {
	// Owner identifies this instance in job leases
	Owner           string
	LeaseTTL        time.Duration
	ReconcilePolicy migration.ReconcilePolicy
	// Defaults applied to requests that leave the value unset
	DefaultBatchSize        int
	DefaultParallelRequests int
	DefaultMaxErrors        int
}

// Service is the application service for migration jobs. It owns the
// goroutine of every job running on this instance.
type Service struct {
	jobs      migration.JobRepository
	mappings  migration.MappingRepository
	registry  integration.PlatformRegistry
	engine    *Engine
	filters   *filter.Compiler
	lease     migration.JobLease
	publisher shared.EventPublisher
	cfg       ServiceConfig
	logger    *zap.Logger

	mu     sync.Mutex
	runs   map[uuid.UUID]*runControl
	closed bool
	wg     sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// NewService creates a new migration Service
func NewService(
	jobs migration.JobRepository,
	mappings migration.MappingRepository,
	registry integration.PlatformRegistry,
	engine *Engine,
	filters *filter.Compiler,
	lease migration.JobLease,
	publisher shared.EventPublisher,
	cfg ServiceConfig,
	logger *zap.Logger,
) *Service {
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.LeaseTTL < migration.MinLeaseTTL {
		cfg.LeaseTTL = migration.MinLeaseTTL
	}
	if !cfg.ReconcilePolicy.IsValid() {
		cfg.ReconcilePolicy = migration.ReconcilePolicyPause
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		jobs:       jobs,
		mappings:   mappings,
		registry:   registry,
		engine:     engine,
		filters:    filters,
		lease:      lease,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.Named("migration_service"),
		runs:       make(map[uuid.UUID]*runControl),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// StartMigration validates the request, persists a pending job and starts it
func (s *Service) StartMigration(ctx context.Context, tenantID uuid.UUID, req StartMigrationRequest) (uuid.UUID, error) {
	if s.isClosed() {
		return uuid.Nil, ErrServiceClosed
	}
	platform := integration.PlatformCode(strings.ToLower(strings.TrimSpace(req.Platform)))
	if !platform.IsValid() {
		return uuid.Nil, shared.NewDomainError("INVALID_PLATFORM", fmt.Sprintf("Invalid platform: %s", req.Platform))
	}
	if _, err := s.registry.GetPlatform(platform); err != nil {
		return uuid.Nil, shared.NewDomainError("PLATFORM_NOT_CONFIGURED",
			fmt.Sprintf("Platform %s is not configured", platform.DisplayName()))
	}

	cfg := req.ToConfig()
	s.applyDefaults(&cfg)
	for _, et := range cfg.EnabledEntityTypes() {
		if _, err := s.filters.Compile(et.Filter); err != nil {
			return uuid.Nil, err
		}
	}

	active, err := s.jobs.ExistsActive(ctx, tenantID, platform, req.ExternalTenantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to check active migrations: %w", err)
	}
	if active {
		return uuid.Nil, migration.ErrJobAlreadyActive
	}

	job, err := migration.NewMigrationJob(tenantID, platform, req.ExternalTenantID, cfg, req.RequestedBy)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to save migration job: %w", err)
	}
	s.logger.Info("Migration created",
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("platform", platform.String()),
		zap.String("external_tenant_id", job.ExternalTenantID))

	acquired, err := s.lease.Acquire(ctx, job.ID, s.cfg.Owner, s.cfg.LeaseTTL)
	if err != nil || !acquired {
		// the job stays pending and is picked up by the next reconcile
		s.logger.Warn("Could not lease new migration job",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return job.ID, nil
	}
	s.launch(job)
	return job.ID, nil
}

// GetStatus returns the current snapshot of a tenant's job
func (s *Service) GetStatus(ctx context.Context, tenantID, jobID uuid.UUID) (*JobResponse, error) {
	job, err := s.jobs.FindByIDForTenant(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	return ToJobResponse(job), nil
}

// ListJobs returns a page of the tenant's jobs
func (s *Service) ListJobs(ctx context.Context, tenantID uuid.UUID, f ListJobsFilter) (*JobListResponse, error) {
	jf := migration.JobFilter{
		Filter: shared.Filter{
			Page:     f.Page,
			PageSize: f.PageSize,
			OrderBy:  f.OrderBy,
			OrderDir: f.OrderDir,
		}.Normalize(20, 100),
	}
	for _, st := range f.Statuses {
		status := migration.JobStatus(st)
		if !status.IsValid() {
			return nil, shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Invalid status: %s", st))
		}
		jf.Statuses = append(jf.Statuses, status)
	}
	if f.Platform != "" {
		p := integration.PlatformCode(f.Platform)
		if !p.IsValid() {
			return nil, shared.NewDomainError("INVALID_PLATFORM", fmt.Sprintf("Invalid platform: %s", f.Platform))
		}
		jf.Platform = &p
	}

	page, err := s.jobs.FindForTenant(ctx, tenantID, jf)
	if err != nil {
		return nil, err
	}
	items := make([]JobListItem, len(page.Items))
	for i, job := range page.Items {
		items[i] = ToJobListItem(job)
	}
	return &JobListResponse{
		Items:      items,
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
	}, nil
}

// GetMapping looks up where an external record was migrated to
func (s *Service) GetMapping(ctx context.Context, tenantID uuid.UUID, entityType, externalID string) (*MappingResponse, error) {
	t := ledger.EntityType(entityType)
	if !t.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTITY_TYPE", fmt.Sprintf("Invalid entity type: %s", entityType))
	}
	m, err := s.mappings.FindByKey(ctx, migration.MappingKey{TenantID: tenantID, EntityType: t, ExternalID: externalID})
	if err != nil {
		return nil, err
	}
	return ToMappingResponse(m), nil
}

// Pause asks a running job to stop at its next batch boundary
func (s *Service) Pause(ctx context.Context, tenantID, jobID uuid.UUID) error {
	job, err := s.jobs.FindByIDForTenant(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status != migration.JobStatusInProgress {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot pause migration job in status %s", job.Status))
	}
	if ctl := s.run(jobID); ctl != nil {
		ctl.request(SignalPause)
		s.logger.Info("Pause requested", zap.String("job_id", jobID.String()))
		return nil
	}
	return s.withLease(ctx, jobID, func() error {
		return s.transition(ctx, tenantID, jobID, (*migration.MigrationJob).Pause)
	})
}

// Resume continues a paused job from its first unfinished entity type
func (s *Service) Resume(ctx context.Context, tenantID, jobID uuid.UUID) error {
	if s.isClosed() {
		return ErrServiceClosed
	}
	job, err := s.jobs.FindByIDForTenant(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status != migration.JobStatusPaused {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot resume migration job in status %s", job.Status))
	}
	// a run that just paused may still be unwinding
	if ctl := s.run(jobID); ctl != nil {
		select {
		case <-ctl.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	acquired, err := s.lease.Acquire(ctx, jobID, s.cfg.Owner, s.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire job lease: %w", err)
	}
	if !acquired {
		return migration.ErrJobLocked
	}
	job, err = s.jobs.FindByIDForTenant(ctx, tenantID, jobID)
	if err == nil {
		err = job.Resume()
	}
	if err == nil {
		err = s.save(ctx, job)
	}
	if err != nil {
		s.releaseLease(jobID)
		return err
	}
	s.logger.Info("Migration resumed", zap.String("job_id", jobID.String()))
	s.launch(job)
	return nil
}

// Cancel stops a job from any non-terminal state. A running job stops at its
// next batch boundary; records already migrated are kept.
func (s *Service) Cancel(ctx context.Context, tenantID, jobID uuid.UUID) error {
	job, err := s.jobs.FindByIDForTenant(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot cancel migration job in status %s", job.Status))
	}
	if ctl := s.run(jobID); ctl != nil {
		if job.Status != migration.JobStatusPaused {
			ctl.request(SignalCancel)
			s.logger.Info("Cancel requested", zap.String("job_id", jobID.String()))
			return nil
		}
		select {
		case <-ctl.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.withLease(ctx, jobID, func() error {
		return s.transition(ctx, tenantID, jobID, (*migration.MigrationJob).Cancel)
	})
}

// ReconcileOnStartup settles jobs left behind by a previous process. Jobs found
// in_progress are paused or failed per the reconcile policy, never resumed.
// Pending jobs are started.
func (s *Service) ReconcileOnStartup(ctx context.Context) error {
	stale, err := s.jobs.FindByStatuses(ctx, migration.JobStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to load interrupted jobs: %w", err)
	}
	var settled int
	for _, job := range stale {
		if s.run(job.ID) != nil {
			continue
		}
		err := s.withLease(ctx, job.ID, func() error {
			if s.cfg.ReconcilePolicy == migration.ReconcilePolicyFail {
				if err := job.Fail("interrupted by service restart"); err != nil {
					return err
				}
			} else if err := job.Pause(); err != nil {
				return err
			}
			return s.save(ctx, job)
		})
		if errors.Is(err, migration.ErrJobLocked) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to reconcile job %s: %w", job.ID, err)
		}
		settled++
		s.logger.Warn("Interrupted migration reconciled",
			zap.String("job_id", job.ID.String()),
			zap.String("status", job.Status.String()),
			zap.String("entity_type", job.CurrentEntityType.String()))
	}

	pending, err := s.jobs.FindByStatuses(ctx, migration.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to load pending jobs: %w", err)
	}
	var launched int
	for _, job := range pending {
		if s.run(job.ID) != nil {
			continue
		}
		acquired, err := s.lease.Acquire(ctx, job.ID, s.cfg.Owner, s.cfg.LeaseTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire job lease: %w", err)
		}
		if !acquired {
			continue
		}
		s.launch(job)
		launched++
	}
	s.logger.Info("Startup reconcile finished",
		zap.Int("reconciled", settled),
		zap.Int("launched", launched),
		zap.String("policy", string(s.cfg.ReconcilePolicy)))
	return nil
}

// Shutdown pauses every running job at its next batch boundary and waits for
// them. If ctx expires first the runs are interrupted and left for reconcile.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, ctl := range s.runs {
		ctl.request(SignalPause)
	}
	running := len(s.runs)
	s.mu.Unlock()
	s.logger.Info("Shutting down migration service", zap.Int("running", running))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.rootCancel()
		return nil
	case <-ctx.Done():
		s.rootCancel()
		<-done
		return ctx.Err()
	}
}

// Running returns the ids of jobs executing on this instance
func (s *Service) Running() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	return ids
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// launch runs a leased job in its own goroutine
func (s *Service) launch(job *migration.MigrationJob) {
	ctl := newRunControl(job.ID)
	s.mu.Lock()
	s.runs[job.ID] = ctl
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(ctl.done)
		defer s.forget(job.ID)
		defer s.releaseLease(job.ID)

		renewCtx, stopRenew := context.WithCancel(s.rootCtx)
		defer stopRenew()
		go s.keepLease(renewCtx, ctl)

		if err := s.engine.Run(s.rootCtx, job, ctl); err != nil {
			s.logger.Warn("Migration run ended with error",
				zap.String("job_id", job.ID.String()),
				zap.String("status", job.Status.String()),
				zap.Error(err))
		}
	}()
}

// keepLease renews the job lease until ctx ends. Losing the lease aborts the run.
func (s *Service) keepLease(ctx context.Context, ctl *runControl) {
	ticker := time.NewTicker(s.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	lastRenewed := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := s.lease.Renew(ctx, ctl.jobID, s.cfg.Owner, s.cfg.LeaseTTL)
			if err != nil {
				s.logger.Warn("Job lease renewal failed", zap.String("job_id", ctl.jobID.String()), zap.Error(err))
				if time.Since(lastRenewed) < s.cfg.LeaseTTL {
					continue
				}
			}
			if err != nil || !ok {
				s.logger.Error("Job lease lost; aborting run", zap.String("job_id", ctl.jobID.String()))
				ctl.request(SignalAbort)
				return
			}
			lastRenewed = time.Now()
		}
	}
}

// withLease runs fn while holding the job lease, or returns ErrJobLocked
func (s *Service) withLease(ctx context.Context, jobID uuid.UUID, fn func() error) error {
	acquired, err := s.lease.Acquire(ctx, jobID, s.cfg.Owner, s.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire job lease: %w", err)
	}
	if !acquired {
		return migration.ErrJobLocked
	}
	defer s.releaseLease(jobID)
	return fn()
}

// transition reloads the job, applies a state change and persists it
func (s *Service) transition(ctx context.Context, tenantID, jobID uuid.UUID, apply func(*migration.MigrationJob) error) error {
	job, err := s.jobs.FindByIDForTenant(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if err := apply(job); err != nil {
		return err
	}
	if err := s.save(ctx, job); err != nil {
		return err
	}
	s.logger.Info("Migration status changed",
		zap.String("job_id", jobID.String()),
		zap.String("status", job.Status.String()))
	return nil
}

func (s *Service) save(ctx context.Context, job *migration.MigrationJob) error {
	if err := s.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to save migration job: %w", err)
	}
	events := job.PullDomainEvents()
	if len(events) > 0 && s.publisher != nil {
		if err := s.publisher.Publish(ctx, events...); err != nil {
			s.logger.Warn("Failed to publish migration events", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) releaseLease(jobID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.lease.Release(ctx, jobID, s.cfg.Owner); err != nil {
		s.logger.Warn("Failed to release job lease", zap.String("job_id", jobID.String()), zap.Error(err))
	}
}

func (s *Service) run(jobID uuid.UUID) *runControl {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[jobID]
}

func (s *Service) forget(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, jobID)
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Service) applyDefaults(cfg *migration.JobConfig) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = s.cfg.DefaultBatchSize
	}
	if cfg.ParallelRequests == 0 {
		cfg.ParallelRequests = s.cfg.DefaultParallelRequests
	}
	if cfg.MaxErrors == 0 {
		cfg.MaxErrors = s.cfg.DefaultMaxErrors
	}
}
