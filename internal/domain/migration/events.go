package migration

import (
	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
)

// Event type constants
const (
	EventTypeMigrationStarted    = "migration.started"
	EventTypeMigrationProgress   = "migration.progress"
	EventTypeEntityTypeCompleted = "migration.entity_type_complete"
	EventTypeMigrationCompleted  = "migration.completed"
	EventTypeMigrationPaused     = "migration.paused"
	EventTypeMigrationResumed    = "migration.resumed"
	EventTypeMigrationFailed     = "migration.failed"
	EventTypeMigrationCancelled  = "migration.cancelled"
)

// AllEventTypes lists every event a migration job emits
func AllEventTypes() []string {
	return []string{
		EventTypeMigrationStarted,
		EventTypeMigrationProgress,
		EventTypeEntityTypeCompleted,
		EventTypeMigrationCompleted,
		EventTypeMigrationPaused,
		EventTypeMigrationResumed,
		EventTypeMigrationFailed,
		EventTypeMigrationCancelled,
	}
}

// JobSnapshot is the aggregate state every migration event carries
type JobSnapshot struct {
	JobID      uuid.UUID                `json:"job_id"`
	Platform   integration.PlatformCode `json:"platform"`
	Status     JobStatus                `json:"status"`
	Counters   Counters                 `json:"counters"`
	Percentage float64                  `json:"percentage"`
}

// SnapshotOf captures the current counters of a job
func SnapshotOf(job *MigrationJob) JobSnapshot {
	return JobSnapshot{
		JobID:      job.ID,
		Platform:   job.Platform,
		Status:     job.Status,
		Counters:   job.Totals(),
		Percentage: job.OverallPercentage(),
	}
}

// SnapshotEvent is implemented by every migration event
type SnapshotEvent interface {
	shared.DomainEvent
	Snapshot() JobSnapshot
}

func newBase(eventType string, job *MigrationJob) shared.BaseDomainEvent {
	return shared.NewBaseDomainEvent(eventType, AggregateTypeMigrationJob, job.ID, job.TenantID)
}

// MigrationStartedEvent is published when a job starts
type MigrationStartedEvent struct {
	shared.BaseDomainEvent
	JobSnapshot
	EntityTypes []ledger.EntityType `json:"entity_types"`
}

// NewMigrationStartedEvent creates a new MigrationStartedEvent
func NewMigrationStartedEvent(job *MigrationJob) *MigrationStartedEvent {
	types := make([]ledger.EntityType, 0, len(job.Progress))
	for _, p := range job.Progress {
		types = append(types, p.EntityType)
	}
	return &MigrationStartedEvent{
		BaseDomainEvent: newBase(EventTypeMigrationStarted, job),
		JobSnapshot:     SnapshotOf(job),
		EntityTypes:     types,
	}
}

// Snapshot returns the job state at publication
func (e *MigrationStartedEvent) Snapshot() JobSnapshot { return e.JobSnapshot }

// MigrationProgressEvent is published after every processed batch
type MigrationProgressEvent struct {
	shared.BaseDomainEvent
	JobSnapshot
	EntityType     ledger.EntityType `json:"entity_type"`
	EntityCounters Counters          `json:"entity_counters"`
	BatchNumber    int               `json:"batch_number"`
	BatchSize      int               `json:"batch_size"`
}

// NewMigrationProgressEvent creates a new MigrationProgressEvent
func NewMigrationProgressEvent(job *MigrationJob, t ledger.EntityType, batchNumber, batchSize int) *MigrationProgressEvent {
	e := &MigrationProgressEvent{
		BaseDomainEvent: newBase(EventTypeMigrationProgress, job),
		JobSnapshot:     SnapshotOf(job),
		EntityType:      t,
		BatchNumber:     batchNumber,
		BatchSize:       batchSize,
	}
	if p, ok := job.EntityProgress(t); ok {
		e.EntityCounters = p.Counters()
	}
	return e
}

// Snapshot returns the job state at publication
func (e *MigrationProgressEvent) Snapshot() JobSnapshot { return e.JobSnapshot }

// EntityTypeCompletedEvent is published when an entity type finishes, successfully or not
type EntityTypeCompletedEvent struct {
	shared.BaseDomainEvent
	JobSnapshot
	EntityType     ledger.EntityType `json:"entity_type"`
	EntityStatus   JobStatus         `json:"entity_status"`
	EntityCounters Counters          `json:"entity_counters"`
	FetchError     string            `json:"fetch_error,omitempty"`
}

// NewEntityTypeCompletedEvent creates a new EntityTypeCompletedEvent
func NewEntityTypeCompletedEvent(job *MigrationJob, p *EntityProgress) *EntityTypeCompletedEvent {
	return &EntityTypeCompletedEvent{
		BaseDomainEvent: newBase(EventTypeEntityTypeCompleted, job),
		JobSnapshot:     SnapshotOf(job),
		EntityType:      p.EntityType,
		EntityStatus:    p.Status,
		EntityCounters:  p.Counters(),
		FetchError:      p.FetchError,
	}
}

// Snapshot returns the job state at publication
func (e *EntityTypeCompletedEvent) Snapshot() JobSnapshot { return e.JobSnapshot }

// MigrationCompletedEvent is published when every enabled entity type was attempted
type MigrationCompletedEvent struct {
	shared.BaseDomainEvent
	JobSnapshot
	ErrorCount int `json:"error_count"`
}

// NewMigrationCompletedEvent creates a new MigrationCompletedEvent
func NewMigrationCompletedEvent(job *MigrationJob) *MigrationCompletedEvent {
	return &MigrationCompletedEvent{
		BaseDomainEvent: newBase(EventTypeMigrationCompleted, job),
		JobSnapshot:     SnapshotOf(job),
		ErrorCount:      job.ErrorCount,
	}
}

// Snapshot returns the job state at publication
func (e *MigrationCompletedEvent) Snapshot() JobSnapshot { return e.JobSnapshot }

// MigrationPausedEvent is published when a pause took effect
type MigrationPausedEvent struct {
	shared.BaseDomainEvent
	JobSnapshot
	EntityType ledger.EntityType `json:"entity_type,omitempty"`
}

// NewMigrationPausedEvent creates a new MigrationPausedEvent
func NewMigrationPausedEvent(job *MigrationJob) *MigrationPausedEvent {
	return &MigrationPausedEvent{
		BaseDomainEvent: newBase(EventTypeMigrationPaused, job),
		JobSnapshot:     SnapshotOf(job),
		EntityType:      job.CurrentEntityType,
	}
}

// Snapshot returns the job state at publication
func (e *MigrationPausedEvent) Snapshot() JobSnapshot { return e.JobSnapshot }

// MigrationResumedEvent is published when a paused job continues
type MigrationResumedEvent struct {
	shared.BaseDomainEvent
	JobSnapshot
}

// NewMigrationResumedEvent creates a new MigrationResumedEvent
func NewMigrationResumedEvent(job *MigrationJob) *MigrationResumedEvent {
	return &MigrationResumedEvent{
		BaseDomainEvent: newBase(EventTypeMigrationResumed, job),
		JobSnapshot:     SnapshotOf(job),
	}
}

// Snapshot returns the job state at publication
func (e *MigrationResumedEvent) Snapshot() JobSnapshot { return e.JobSnapshot }

// MigrationFailedEvent is published on an orchestration-level fault
type MigrationFailedEvent struct {
	shared.BaseDomainEvent
	JobSnapshot
	Reason string `json:"reason"`
}

// NewMigrationFailedEvent creates a new MigrationFailedEvent
func NewMigrationFailedEvent(job *MigrationJob, reason string) *MigrationFailedEvent {
	return &MigrationFailedEvent{
		BaseDomainEvent: newBase(EventTypeMigrationFailed, job),
		JobSnapshot:     SnapshotOf(job),
		Reason:          reason,
	}
}

// Snapshot returns the job state at publication
func (e *MigrationFailedEvent) Snapshot() JobSnapshot { return e.JobSnapshot }

// MigrationCancelledEvent is published when an operator cancels a job
type MigrationCancelledEvent struct {
	shared.BaseDomainEvent
	JobSnapshot
}

// NewMigrationCancelledEvent creates a new MigrationCancelledEvent
func NewMigrationCancelledEvent(job *MigrationJob) *MigrationCancelledEvent {
	return &MigrationCancelledEvent{
		BaseDomainEvent: newBase(EventTypeMigrationCancelled, job),
		JobSnapshot:     SnapshotOf(job),
	}
}

// Snapshot returns the job state at publication
func (e *MigrationCancelledEvent) Snapshot() JobSnapshot { return e.JobSnapshot }
