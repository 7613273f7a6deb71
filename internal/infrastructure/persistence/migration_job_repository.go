package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// migrationJobSort lists the columns jobs may be listed by
var migrationJobSort = NewSortColumns("created_at",
	"updated_at", "status", "platform", "started_at", "completed_at")

// GormMigrationJobRepository implements migration.JobRepository using GORM
type GormMigrationJobRepository struct {
	db *gorm.DB
}

// NewGormMigrationJobRepository creates a new GormMigrationJobRepository
func NewGormMigrationJobRepository(db *gorm.DB) *GormMigrationJobRepository {
	return &GormMigrationJobRepository{db: db}
}

// FindByID finds a job by ID across tenants
func (r *GormMigrationJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*migration.MigrationJob, error) {
	var model models.MigrationJobModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, migration.ErrJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDForTenant finds a job owned by the tenant
func (r *GormMigrationJobRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*migration.MigrationJob, error) {
	var model models.MigrationJobModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, migration.ErrJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindForTenant lists a tenant's jobs with pagination and filtering
func (r *GormMigrationJobRepository) FindForTenant(
	ctx context.Context,
	tenantID uuid.UUID,
	filter migration.JobFilter,
) (*shared.Paginated[*migration.MigrationJob], error) {
	query := r.db.WithContext(ctx).Model(&models.MigrationJobModel{}).
		Where("tenant_id = ?", tenantID)

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where("status IN ?", statuses)
	}
	if filter.Platform != nil {
		query = query.Where("platform = ?", string(*filter.Platform))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	query = query.Order(migrationJobSort.OrderBy(filter.OrderBy, filter.OrderDir))

	if filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}

	var jobModels []models.MigrationJobModel
	if err := query.Find(&jobModels).Error; err != nil {
		return nil, err
	}

	jobs := make([]*migration.MigrationJob, len(jobModels))
	for i := range jobModels {
		jobs[i] = jobModels[i].ToDomain()
	}
	page := shared.NewPaginated(jobs, total, filter.Page, filter.PageSize)
	return &page, nil
}

// FindByStatuses returns the jobs of every tenant in the given statuses, oldest first
func (r *GormMigrationJobRepository) FindByStatuses(ctx context.Context, statuses ...migration.JobStatus) ([]*migration.MigrationJob, error) {
	if len(statuses) == 0 {
		return []*migration.MigrationJob{}, nil
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	var jobModels []models.MigrationJobModel
	if err := r.db.WithContext(ctx).
		Where("status IN ?", values).
		Order("created_at ASC").
		Find(&jobModels).Error; err != nil {
		return nil, err
	}
	jobs := make([]*migration.MigrationJob, len(jobModels))
	for i := range jobModels {
		jobs[i] = jobModels[i].ToDomain()
	}
	return jobs, nil
}

// ExistsActive reports whether a non-terminal job already targets the external tenant
func (r *GormMigrationJobRepository) ExistsActive(
	ctx context.Context,
	tenantID uuid.UUID,
	platform integration.PlatformCode,
	externalTenantID string,
) (bool, error) {
	active := migration.ActiveStatuses()
	values := make([]string, len(active))
	for i, s := range active {
		values[i] = string(s)
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.MigrationJobModel{}).
		Where("tenant_id = ? AND platform = ? AND external_tenant_id = ? AND status IN ?",
			tenantID, string(platform), externalTenantID, values).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Save writes the full job snapshot (create or update). The partial unique index
// on active jobs turns a lost ExistsActive race into ErrJobAlreadyActive.
func (r *GormMigrationJobRepository) Save(ctx context.Context, job *migration.MigrationJob) error {
	model := models.MigrationJobModelFromDomain(job)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		if isUniqueViolation(err) {
			return migration.ErrJobAlreadyActive
		}
		return err
	}
	return nil
}

// Compile-time interface compliance check
var _ migration.JobRepository = (*GormMigrationJobRepository)(nil)
