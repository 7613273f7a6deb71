package migration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
)

// AggregateTypeMigrationJob is the aggregate type name used in events
const AggregateTypeMigrationJob = "MigrationJob"

// MigrationJob is a full import of one external accounting tenant into an internal tenant.
// It owns the state machine pending -> in_progress <-> paused -> completed | failed | cancelled
// and the per-entity-type progress used as the resumability checkpoint.
type MigrationJob struct {
	shared.TenantAggregateRoot
	ExternalTenantID    string                   `json:"external_tenant_id"`
	Platform            integration.PlatformCode `json:"platform"`
	Config              JobConfig                `json:"config"`
	Status              JobStatus                `json:"status"`
	Progress            []EntityProgress         `json:"progress"`
	CurrentEntityType   ledger.EntityType        `json:"current_entity_type,omitempty"`
	Errors              []RecordError            `json:"errors,omitempty"`
	ErrorCount          int                      `json:"error_count"`
	Warnings            []string                 `json:"warnings,omitempty"`
	FailureReason       string                   `json:"failure_reason,omitempty"`
	StartedAt           *time.Time               `json:"started_at,omitempty"`
	PausedAt            *time.Time               `json:"paused_at,omitempty"`
	CompletedAt         *time.Time               `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time               `json:"estimated_completion,omitempty"`
}

// NewMigrationJob creates a pending job with one progress entry per enabled entity type
func NewMigrationJob(
	tenantID uuid.UUID,
	platform integration.PlatformCode,
	externalTenantID string,
	config JobConfig,
	requestedBy *uuid.UUID,
) (*MigrationJob, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !platform.IsValid() {
		return nil, shared.NewDomainError("INVALID_PLATFORM", fmt.Sprintf("Invalid platform: %s", platform))
	}
	if externalTenantID == "" {
		return nil, shared.NewDomainError("INVALID_EXTERNAL_TENANT", "External tenant ID cannot be empty")
	}
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	job := &MigrationJob{
		TenantAggregateRoot: shared.NewTenantAggregateRootWithCreator(tenantID, requestedBy),
		ExternalTenantID:    externalTenantID,
		Platform:            platform,
		Config:              config,
		Status:              JobStatusPending,
		Errors:              make([]RecordError, 0),
		Warnings:            make([]string, 0),
	}
	for _, et := range config.EnabledEntityTypes() {
		job.Progress = append(job.Progress, newEntityProgress(et.EntityType))
	}
	return job, nil
}

// ---------------------------------------------------------------------------
// State transitions
// ---------------------------------------------------------------------------

// Start moves a pending job to in_progress
func (j *MigrationJob) Start() error {
	if j.Status != JobStatusPending {
		return j.invalidTransition("start")
	}
	now := time.Now()
	j.Status = JobStatusInProgress
	j.StartedAt = &now
	j.touch(now)
	j.AddDomainEvent(NewMigrationStartedEvent(j))
	return nil
}

// Pause moves an in_progress job to paused. Called at a batch boundary.
func (j *MigrationJob) Pause() error {
	if j.Status != JobStatusInProgress {
		return j.invalidTransition("pause")
	}
	now := time.Now()
	j.Status = JobStatusPaused
	j.PausedAt = &now
	j.EstimatedCompletion = nil
	j.touch(now)
	j.AddDomainEvent(NewMigrationPausedEvent(j))
	return nil
}

// Resume moves a paused job back to in_progress
func (j *MigrationJob) Resume() error {
	if j.Status != JobStatusPaused {
		return j.invalidTransition("resume")
	}
	now := time.Now()
	j.Status = JobStatusInProgress
	j.PausedAt = nil
	j.touch(now)
	j.AddDomainEvent(NewMigrationResumedEvent(j))
	return nil
}

// Complete marks the job completed once every enabled entity type was attempted
func (j *MigrationJob) Complete() error {
	if j.Status != JobStatusInProgress {
		return j.invalidTransition("complete")
	}
	for _, p := range j.Progress {
		if !p.IsFinished() {
			return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Entity type %s has not finished", p.EntityType))
		}
	}
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.EstimatedCompletion = nil
	j.CurrentEntityType = ""
	j.touch(now)
	j.AddDomainEvent(NewMigrationCompletedEvent(j))
	return nil
}

// Fail marks the job failed after an orchestration-level fault
func (j *MigrationJob) Fail(reason string) error {
	if j.Status.IsTerminal() {
		return j.invalidTransition("fail")
	}
	now := time.Now()
	j.Status = JobStatusFailed
	j.FailureReason = reason
	j.CompletedAt = &now
	j.EstimatedCompletion = nil
	j.touch(now)
	j.AddDomainEvent(NewMigrationFailedEvent(j, reason))
	return nil
}

// Cancel stops the job from any non-terminal state
func (j *MigrationJob) Cancel() error {
	if j.Status.IsTerminal() {
		return j.invalidTransition("cancel")
	}
	now := time.Now()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.EstimatedCompletion = nil
	j.touch(now)
	j.AddDomainEvent(NewMigrationCancelledEvent(j))
	return nil
}

// ---------------------------------------------------------------------------
// Entity type progress
// ---------------------------------------------------------------------------

// NextEntityTypes returns the unfinished entity types in processing order.
// A type interrupted by a pause or crash is included and restarts from its beginning.
func (j *MigrationJob) NextEntityTypes() []ledger.EntityType {
	result := make([]ledger.EntityType, 0, len(j.Progress))
	for _, p := range j.Progress {
		if !p.IsFinished() {
			result = append(result, p.EntityType)
		}
	}
	return result
}

// EntityProgress returns the progress entry of an entity type
func (j *MigrationJob) EntityProgress(t ledger.EntityType) (*EntityProgress, bool) {
	for i := range j.Progress {
		if j.Progress[i].EntityType == t {
			return &j.Progress[i], true
		}
	}
	return nil, false
}

// BeginEntityType starts (or restarts) processing of an entity type
func (j *MigrationJob) BeginEntityType(t ledger.EntityType) error {
	if j.Status != JobStatusInProgress {
		return j.invalidTransition("begin entity type")
	}
	p, err := j.mustProgress(t)
	if err != nil {
		return err
	}
	if p.IsFinished() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Entity type %s already finished", t))
	}
	now := time.Now()
	p.reset()
	p.Status = JobStatusInProgress
	p.StartedAt = &now
	j.CurrentEntityType = t
	j.touch(now)
	return nil
}

// SetEntityTotal records how many records survived fetch and filtering
func (j *MigrationJob) SetEntityTotal(t ledger.EntityType, total int) error {
	p, err := j.mustProgress(t)
	if err != nil {
		return err
	}
	if total < 0 {
		return shared.NewDomainError("INVALID_TOTAL", "Total cannot be negative")
	}
	p.Total = total
	return nil
}

// RecordResult tallies the outcome of one record.
// recErr is kept for failed records; the job error list is capped at Config.MaxErrors.
func (j *MigrationJob) RecordResult(t ledger.EntityType, status RecordStatus, recErr *RecordError) error {
	p, err := j.mustProgress(t)
	if err != nil {
		return err
	}
	if p.Status != JobStatusInProgress {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Entity type %s is not in progress", t))
	}
	if recErr != nil {
		recErr.EntityType = t
		if recErr.OccurredAt.IsZero() {
			recErr.OccurredAt = time.Now()
		}
	}
	p.tally(status, recErr)
	if status == RecordStatusFailed && recErr != nil {
		j.appendError(*recErr)
	}
	return nil
}

// MarkBatchProcessed records a checkpoint after a batch and queues a progress event
func (j *MigrationJob) MarkBatchProcessed(t ledger.EntityType, batchSize int) error {
	p, err := j.mustProgress(t)
	if err != nil {
		return err
	}
	p.Batches++
	now := time.Now()
	j.UpdateEstimate(now)
	j.touch(now)
	j.AddDomainEvent(NewMigrationProgressEvent(j, t, p.Batches, batchSize))
	return nil
}

// CompleteEntityType marks a type completed, regardless of its failed record count
func (j *MigrationJob) CompleteEntityType(t ledger.EntityType) error {
	p, err := j.mustProgress(t)
	if err != nil {
		return err
	}
	if p.Status != JobStatusInProgress {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Entity type %s is not in progress", t))
	}
	now := time.Now()
	p.Status = JobStatusCompleted
	p.CompletedAt = &now
	j.CurrentEntityType = ""
	j.UpdateEstimate(now)
	j.touch(now)
	j.AddDomainEvent(NewEntityTypeCompletedEvent(j, p))
	return nil
}

// FailEntityType marks a type failed because its collection could not be fetched.
// The job itself keeps running.
func (j *MigrationJob) FailEntityType(t ledger.EntityType, cause error) error {
	p, err := j.mustProgress(t)
	if err != nil {
		return err
	}
	if p.IsFinished() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Entity type %s already finished", t))
	}
	now := time.Now()
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	p.Status = JobStatusFailed
	p.FetchError = msg
	p.CompletedAt = &now
	j.CurrentEntityType = ""
	j.appendError(RecordError{
		EntityType: t,
		Code:       "FETCH_FAILED",
		Message:    msg,
		OccurredAt: now,
	})
	j.UpdateEstimate(now)
	j.touch(now)
	j.AddDomainEvent(NewEntityTypeCompletedEvent(j, p))
	return nil
}

// DisableEntityType removes an entity type from the run, e.g. when the platform does not expose it.
// Disabled types no longer weigh into the overall percentage.
func (j *MigrationJob) DisableEntityType(t ledger.EntityType, reason string) {
	for i := range j.Progress {
		if j.Progress[i].EntityType == t {
			j.Progress = append(j.Progress[:i], j.Progress[i+1:]...)
			break
		}
	}
	j.Config.disable(t)
	if reason != "" {
		j.AddWarning(reason)
	}
}

// AddWarning appends a non-fatal message for the operator
func (j *MigrationJob) AddWarning(msg string) {
	j.Warnings = append(j.Warnings, msg)
}

// ---------------------------------------------------------------------------
// Derived values
// ---------------------------------------------------------------------------

// Totals sums the counters over all entity types
func (j *MigrationJob) Totals() Counters {
	var c Counters
	for i := range j.Progress {
		c = c.add(j.Progress[i].Counters())
	}
	return c
}

// OverallPercentage averages the completion of every enabled entity type (0-100)
func (j *MigrationJob) OverallPercentage() float64 {
	if j.Status == JobStatusCompleted {
		return 100
	}
	if len(j.Progress) == 0 {
		return 0
	}
	var sum float64
	for i := range j.Progress {
		sum += j.Progress[i].Percentage()
	}
	return sum / float64(len(j.Progress))
}

// UpdateEstimate projects the completion time from throughput since start
func (j *MigrationJob) UpdateEstimate(now time.Time) {
	pct := j.OverallPercentage()
	if j.StartedAt == nil || pct <= 0 || pct >= 100 {
		j.EstimatedCompletion = nil
		return
	}
	elapsed := now.Sub(*j.StartedAt)
	remaining := time.Duration(float64(elapsed) * (100 - pct) / pct)
	eta := now.Add(remaining)
	j.EstimatedCompletion = &eta
}

// Duration returns the run time so far, or the total once finished
func (j *MigrationJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

// EntityTypeConfig returns the configuration of an entity type
func (j *MigrationJob) EntityTypeConfig(t ledger.EntityType) (EntityTypeConfig, bool) {
	return j.Config.ForEntityType(t)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (j *MigrationJob) mustProgress(t ledger.EntityType) (*EntityProgress, error) {
	p, ok := j.EntityProgress(t)
	if !ok {
		return nil, shared.NewDomainError("ENTITY_TYPE_NOT_ENABLED", fmt.Sprintf("Entity type %s is not enabled for this job", t))
	}
	return p, nil
}

func (j *MigrationJob) appendError(e RecordError) {
	j.ErrorCount++
	limit := j.Config.MaxErrors
	if limit <= 0 {
		limit = DefaultMaxErrors
	}
	if len(j.Errors) < limit {
		j.Errors = append(j.Errors, e)
	}
}

func (j *MigrationJob) invalidTransition(action string) error {
	return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot %s migration job in status %s", action, j.Status))
}

func (j *MigrationJob) touch(now time.Time) {
	j.UpdatedAt = now
	j.IncrementVersion()
}
