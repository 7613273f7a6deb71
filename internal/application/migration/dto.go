package migrationapp

import (
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
)

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// EntityTypeRequest configures one entity type of a new migration
type EntityTypeRequest struct {
	EntityType       string            `json:"entity_type" yaml:"entity_type" validate:"required"`
	Enabled          *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ConflictStrategy string            `json:"conflict_strategy,omitempty" yaml:"conflict_strategy,omitempty" validate:"omitempty,oneof=skip overwrite create-new merge"`
	Filter           string            `json:"filter,omitempty" yaml:"filter,omitempty"`
	FieldMappings    map[string]string `json:"field_mappings,omitempty" yaml:"field_mappings,omitempty"`
}

// StartMigrationRequest starts a migration of one external tenant
type StartMigrationRequest struct {
	Platform         string              `json:"platform" yaml:"platform" validate:"required,oneof=xero freee"`
	ExternalTenantID string              `json:"external_tenant_id" yaml:"external_tenant_id" validate:"required,max=255"`
	EntityTypes      []EntityTypeRequest `json:"entity_types,omitempty" yaml:"entity_types,omitempty" validate:"omitempty,dive"`
	StartDate        *time.Time          `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	BatchSize        int                 `json:"batch_size,omitempty" yaml:"batch_size,omitempty" validate:"omitempty,min=1,max=1000"`
	ParallelRequests int                 `json:"parallel_requests,omitempty" yaml:"parallel_requests,omitempty" validate:"omitempty,min=1,max=8"`
	MaxErrors        int                 `json:"max_errors,omitempty" yaml:"max_errors,omitempty" validate:"omitempty,min=1"`
	RequestedBy      *uuid.UUID          `json:"-" yaml:"-"`
}

// ToConfig converts the request into a job configuration
func (r StartMigrationRequest) ToConfig() migration.JobConfig {
	cfg := migration.JobConfig{
		StartDate:        r.StartDate,
		BatchSize:        r.BatchSize,
		ParallelRequests: r.ParallelRequests,
		MaxErrors:        r.MaxErrors,
	}
	for _, et := range r.EntityTypes {
		enabled := true
		if et.Enabled != nil {
			enabled = *et.Enabled
		}
		cfg.EntityTypes = append(cfg.EntityTypes, migration.EntityTypeConfig{
			EntityType:       ledger.EntityType(et.EntityType),
			Enabled:          enabled,
			ConflictStrategy: migration.ConflictStrategy(et.ConflictStrategy),
			Filter:           et.Filter,
			FieldMappings:    et.FieldMappings,
		})
	}
	return cfg
}

// ListJobsFilter filters the job list of a tenant
type ListJobsFilter struct {
	Page     int      `form:"page" validate:"omitempty,min=1"`
	PageSize int      `form:"page_size" validate:"omitempty,min=1,max=100"`
	OrderBy  string   `form:"order_by"`
	OrderDir string   `form:"order_dir" validate:"omitempty,oneof=asc desc ASC DESC"`
	Statuses []string `form:"status"`
	Platform string   `form:"platform" validate:"omitempty,oneof=xero freee"`
}

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// RecordErrorResponse is one record-level or type-level error
type RecordErrorResponse struct {
	EntityType string    `json:"entity_type"`
	ExternalID string    `json:"external_id,omitempty"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EntityProgressResponse is the progress of one entity type
type EntityProgressResponse struct {
	EntityType  string                `json:"entity_type"`
	Status      string                `json:"status"`
	Total       int                   `json:"total"`
	Processed   int                   `json:"processed"`
	Succeeded   int                   `json:"succeeded"`
	Failed      int                   `json:"failed"`
	Skipped     int                   `json:"skipped"`
	Batches     int                   `json:"batches"`
	Percentage  float64               `json:"percentage"`
	ErrorCount  int                   `json:"error_count"`
	Errors      []RecordErrorResponse `json:"errors,omitempty"`
	FetchError  string                `json:"fetch_error,omitempty"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// JobResponse is the full status of a migration job
type JobResponse struct {
	ID                  uuid.UUID                `json:"id"`
	TenantID            uuid.UUID                `json:"tenant_id"`
	Platform            integration.PlatformCode `json:"platform"`
	PlatformName        string                   `json:"platform_name"`
	ExternalTenantID    string                   `json:"external_tenant_id"`
	Status              string                   `json:"status"`
	CurrentEntityType   string                   `json:"current_entity_type,omitempty"`
	Percentage          float64                  `json:"percentage"`
	Counters            migration.Counters       `json:"counters"`
	Progress            []EntityProgressResponse `json:"progress"`
	ErrorCount          int                      `json:"error_count"`
	Errors              []RecordErrorResponse    `json:"errors,omitempty"`
	Warnings            []string                 `json:"warnings,omitempty"`
	FailureReason       string                   `json:"failure_reason,omitempty"`
	Config              migration.JobConfig      `json:"config"`
	StartedAt           *time.Time               `json:"started_at,omitempty"`
	PausedAt            *time.Time               `json:"paused_at,omitempty"`
	CompletedAt         *time.Time               `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time               `json:"estimated_completion,omitempty"`
	DurationSeconds     float64                  `json:"duration_seconds"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

// JobListItem is the lighter representation used in lists
type JobListItem struct {
	ID               uuid.UUID                `json:"id"`
	Platform         integration.PlatformCode `json:"platform"`
	ExternalTenantID string                   `json:"external_tenant_id"`
	Status           string                   `json:"status"`
	Percentage       float64                  `json:"percentage"`
	Counters         migration.Counters       `json:"counters"`
	ErrorCount       int                      `json:"error_count"`
	StartedAt        *time.Time               `json:"started_at,omitempty"`
	CompletedAt      *time.Time               `json:"completed_at,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

// JobListResponse is one page of jobs
type JobListResponse struct {
	Items      []JobListItem `json:"items"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// MappingResponse exposes an external id mapping to operators
type MappingResponse struct {
	EntityType        string                   `json:"entity_type"`
	ExternalID        string                   `json:"external_id"`
	InternalID        uuid.UUID                `json:"internal_id"`
	Platform          integration.PlatformCode `json:"platform"`
	Revision          string                   `json:"revision,omitempty"`
	ExternalUpdatedAt *time.Time               `json:"external_updated_at,omitempty"`
	LastJobID         *uuid.UUID               `json:"last_job_id,omitempty"`
	Metadata          map[string]any           `json:"metadata,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

// ---------------------------------------------------------------------------
// Converters
// ---------------------------------------------------------------------------

func toRecordErrors(errs []migration.RecordError) []RecordErrorResponse {
	if len(errs) == 0 {
		return nil
	}
	out := make([]RecordErrorResponse, len(errs))
	for i, e := range errs {
		out[i] = RecordErrorResponse{
			EntityType: e.EntityType.String(),
			ExternalID: e.ExternalID,
			Code:       e.Code,
			Message:    e.Message,
			OccurredAt: e.OccurredAt,
		}
	}
	return out
}

// ToJobResponse converts a domain job to its response DTO
func ToJobResponse(job *migration.MigrationJob) *JobResponse {
	progress := make([]EntityProgressResponse, len(job.Progress))
	for i := range job.Progress {
		p := &job.Progress[i]
		progress[i] = EntityProgressResponse{
			EntityType:  p.EntityType.String(),
			Status:      p.Status.String(),
			Total:       p.Total,
			Processed:   p.Processed,
			Succeeded:   p.Succeeded,
			Failed:      p.Failed,
			Skipped:     p.Skipped,
			Batches:     p.Batches,
			Percentage:  p.Percentage(),
			ErrorCount:  p.ErrorCount,
			Errors:      toRecordErrors(p.Errors),
			FetchError:  p.FetchError,
			StartedAt:   p.StartedAt,
			CompletedAt: p.CompletedAt,
		}
	}
	return &JobResponse{
		ID:                  job.ID,
		TenantID:            job.TenantID,
		Platform:            job.Platform,
		PlatformName:        job.Platform.DisplayName(),
		ExternalTenantID:    job.ExternalTenantID,
		Status:              job.Status.String(),
		CurrentEntityType:   job.CurrentEntityType.String(),
		Percentage:          job.OverallPercentage(),
		Counters:            job.Totals(),
		Progress:            progress,
		ErrorCount:          job.ErrorCount,
		Errors:              toRecordErrors(job.Errors),
		Warnings:            job.Warnings,
		FailureReason:       job.FailureReason,
		Config:              job.Config,
		StartedAt:           job.StartedAt,
		PausedAt:            job.PausedAt,
		CompletedAt:         job.CompletedAt,
		EstimatedCompletion: job.EstimatedCompletion,
		DurationSeconds:     job.Duration().Seconds(),
		CreatedAt:           job.CreatedAt,
		UpdatedAt:           job.UpdatedAt,
	}
}

// ToJobListItem converts a domain job to its list representation
func ToJobListItem(job *migration.MigrationJob) JobListItem {
	return JobListItem{
		ID:               job.ID,
		Platform:         job.Platform,
		ExternalTenantID: job.ExternalTenantID,
		Status:           job.Status.String(),
		Percentage:       job.OverallPercentage(),
		Counters:         job.Totals(),
		ErrorCount:       job.ErrorCount,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
		CreatedAt:        job.CreatedAt,
	}
}

// ToMappingResponse converts a domain mapping to its response DTO
func ToMappingResponse(m *migration.ExternalIDMapping) *MappingResponse {
	return &MappingResponse{
		EntityType:        m.EntityType.String(),
		ExternalID:        m.ExternalID,
		InternalID:        m.InternalID,
		Platform:          m.Platform,
		Revision:          m.Revision,
		ExternalUpdatedAt: m.ExternalUpdatedAt,
		LastJobID:         m.LastJobID,
		Metadata:          m.Metadata,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
