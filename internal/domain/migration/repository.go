package migration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
)

// JobFilter defines the filters for listing migration jobs
type JobFilter struct {
	shared.Filter
	Statuses []JobStatus               // Filter by status
	Platform *integration.PlatformCode // Filter by platform
}

// JobRepository is the progress store: durable snapshots of migration jobs
type JobRepository interface {
	// FindByID loads a job regardless of tenant (used by the runner and reconcile)
	FindByID(ctx context.Context, id uuid.UUID) (*MigrationJob, error)

	// FindByIDForTenant loads a job owned by tenantID
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*MigrationJob, error)

	// FindForTenant lists a tenant's jobs, newest first
	FindForTenant(ctx context.Context, tenantID uuid.UUID, filter JobFilter) (*shared.Paginated[*MigrationJob], error)

	// FindByStatuses returns jobs of any tenant in the given statuses
	FindByStatuses(ctx context.Context, statuses ...JobStatus) ([]*MigrationJob, error)

	// ExistsActive reports whether a non-terminal job already targets the external tenant
	ExistsActive(ctx context.Context, tenantID uuid.UUID, platform integration.PlatformCode, externalTenantID string) (bool, error)

	// Save writes the full job snapshot (create or update)
	Save(ctx context.Context, job *MigrationJob) error
}

// MappingRepository stores external id mappings, unique per (tenant, entity type, external id)
type MappingRepository interface {
	// FindByKey returns ErrMappingNotFound when the record was never migrated
	FindByKey(ctx context.Context, key MappingKey) (*ExternalIDMapping, error)

	// Create returns ErrMappingConflict when the key is already mapped
	Create(ctx context.Context, mapping *ExternalIDMapping) error

	// Save updates mapping metadata
	Save(ctx context.Context, mapping *ExternalIDMapping) error

	// CountByEntityType counts the mappings of one entity type in a tenant
	CountByEntityType(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType) (int64, error)
}

// TxScope exposes the repositories bound to one transaction
type TxScope struct {
	Mappings MappingRepository
	Records  ledger.RecordRepository
}

// UnitOfWork runs fn in a single transaction so that a ledger record and its
// mapping are applied together or not at all
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx TxScope) error) error
}

// JobLease guarantees a single runner per job across service instances.
// Renew and Release only succeed for the current owner.
type JobLease interface {
	Acquire(ctx context.Context, jobID uuid.UUID, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, jobID uuid.UUID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jobID uuid.UUID, owner string) error
}
