package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"gorm.io/datatypes"
)

// MigrationJobModel is the persistence model for the MigrationJob aggregate.
// Progress, errors and warnings are stored as JSON snapshots.
type MigrationJobModel struct {
	TenantAggregateModel
	Platform            string                                         `gorm:"type:varchar(20);not null;index:idx_migration_jobs_target,priority:1"`
	ExternalTenantID    string                                         `gorm:"type:varchar(255);not null;index:idx_migration_jobs_target,priority:2"`
	Status              string                                         `gorm:"type:varchar(20);not null;default:'pending';index"`
	CurrentEntityType   string                                         `gorm:"type:varchar(40)"`
	Config              datatypes.JSONType[migration.JobConfig]        `gorm:"not null"`
	Progress            datatypes.JSONType[[]migration.EntityProgress] `gorm:"not null"`
	Errors              datatypes.JSONType[[]migration.RecordError]
	ErrorCount          int `gorm:"not null;default:0"`
	Warnings            datatypes.JSONType[[]string]
	FailureReason       string `gorm:"type:text"`
	StartedAt           *time.Time
	PausedAt            *time.Time
	CompletedAt         *time.Time
	EstimatedCompletion *time.Time
}

// TableName returns the table name for GORM
func (MigrationJobModel) TableName() string {
	return "migration_jobs"
}

// ToDomain converts the persistence model to a domain MigrationJob
func (m *MigrationJobModel) ToDomain() *migration.MigrationJob {
	job := &migration.MigrationJob{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		ExternalTenantID:    m.ExternalTenantID,
		Platform:            integration.PlatformCode(m.Platform),
		Config:              m.Config.Data(),
		Status:              migration.JobStatus(m.Status),
		Progress:            m.Progress.Data(),
		CurrentEntityType:   ledger.EntityType(m.CurrentEntityType),
		Errors:              m.Errors.Data(),
		ErrorCount:          m.ErrorCount,
		Warnings:            m.Warnings.Data(),
		FailureReason:       m.FailureReason,
		StartedAt:           m.StartedAt,
		PausedAt:            m.PausedAt,
		CompletedAt:         m.CompletedAt,
		EstimatedCompletion: m.EstimatedCompletion,
	}
	if job.Errors == nil {
		job.Errors = make([]migration.RecordError, 0)
	}
	if job.Warnings == nil {
		job.Warnings = make([]string, 0)
	}
	return job
}

// FromDomain populates the persistence model from a domain MigrationJob
func (m *MigrationJobModel) FromDomain(j *migration.MigrationJob) {
	m.FromDomainTenantAggregateRoot(j.TenantAggregateRoot)
	m.Platform = string(j.Platform)
	m.ExternalTenantID = j.ExternalTenantID
	m.Status = string(j.Status)
	m.CurrentEntityType = string(j.CurrentEntityType)
	m.Config = datatypes.NewJSONType(j.Config)
	m.Progress = datatypes.NewJSONType(j.Progress)
	m.Errors = datatypes.NewJSONType(j.Errors)
	m.ErrorCount = j.ErrorCount
	m.Warnings = datatypes.NewJSONType(j.Warnings)
	m.FailureReason = j.FailureReason
	m.StartedAt = j.StartedAt
	m.PausedAt = j.PausedAt
	m.CompletedAt = j.CompletedAt
	m.EstimatedCompletion = j.EstimatedCompletion
}

// MigrationJobModelFromDomain creates a new persistence model from a domain MigrationJob
func MigrationJobModelFromDomain(j *migration.MigrationJob) *MigrationJobModel {
	m := &MigrationJobModel{}
	m.FromDomain(j)
	return m
}

// ExternalIDMappingModel is the persistence model for ExternalIDMapping.
// The unique key (tenant_id, entity_type, external_id) guarantees one internal record per external record.
type ExternalIDMappingModel struct {
	BaseModel
	TenantID          uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_external_id_mappings_key,priority:1"`
	EntityType        string            `gorm:"type:varchar(40);not null;uniqueIndex:idx_external_id_mappings_key,priority:2"`
	ExternalID        string            `gorm:"type:varchar(255);not null;uniqueIndex:idx_external_id_mappings_key,priority:3"`
	InternalID        uuid.UUID         `gorm:"type:uuid;not null;index"`
	Platform          string            `gorm:"type:varchar(20);not null"`
	Revision          string            `gorm:"type:varchar(100)"`
	ExternalUpdatedAt *time.Time
	Metadata          datatypes.JSONMap
	LastJobID         *uuid.UUID `gorm:"type:uuid;index"`
}

// TableName returns the table name for GORM
func (ExternalIDMappingModel) TableName() string {
	return "external_id_mappings"
}

// ToDomain converts the persistence model to a domain ExternalIDMapping
func (m *ExternalIDMappingModel) ToDomain() *migration.ExternalIDMapping {
	metadata := make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		metadata[k] = v
	}
	return &migration.ExternalIDMapping{
		BaseEntity:        m.BaseModel.ToDomain(),
		TenantID:          m.TenantID,
		EntityType:        ledger.EntityType(m.EntityType),
		ExternalID:        m.ExternalID,
		InternalID:        m.InternalID,
		Platform:          integration.PlatformCode(m.Platform),
		Revision:          m.Revision,
		ExternalUpdatedAt: m.ExternalUpdatedAt,
		Metadata:          metadata,
		LastJobID:         m.LastJobID,
	}
}

// FromDomain populates the persistence model from a domain ExternalIDMapping
func (m *ExternalIDMappingModel) FromDomain(e *migration.ExternalIDMapping) {
	m.FromDomainBaseEntity(e.BaseEntity)
	m.TenantID = e.TenantID
	m.EntityType = string(e.EntityType)
	m.ExternalID = e.ExternalID
	m.InternalID = e.InternalID
	m.Platform = string(e.Platform)
	m.Revision = e.Revision
	m.ExternalUpdatedAt = e.ExternalUpdatedAt
	m.Metadata = datatypes.JSONMap(e.Metadata)
	m.LastJobID = e.LastJobID
}

// ExternalIDMappingModelFromDomain creates a new persistence model from a domain ExternalIDMapping
func ExternalIDMappingModelFromDomain(e *migration.ExternalIDMapping) *ExternalIDMappingModel {
	m := &ExternalIDMappingModel{}
	m.FromDomain(e)
	return m
}
