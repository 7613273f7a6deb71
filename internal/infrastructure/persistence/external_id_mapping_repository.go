package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormExternalIDMappingRepository implements migration.MappingRepository using GORM
type GormExternalIDMappingRepository struct {
	db *gorm.DB
}

// NewGormExternalIDMappingRepository creates a new GormExternalIDMappingRepository
func NewGormExternalIDMappingRepository(db *gorm.DB) *GormExternalIDMappingRepository {
	return &GormExternalIDMappingRepository{db: db}
}

// FindByKey finds the mapping of an external record
func (r *GormExternalIDMappingRepository) FindByKey(ctx context.Context, key migration.MappingKey) (*migration.ExternalIDMapping, error) {
	var model models.ExternalIDMappingModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND external_id = ?",
			key.TenantID, string(key.EntityType), key.ExternalID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, migration.ErrMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a new mapping. A concurrent insert of the same key yields ErrMappingConflict.
func (r *GormExternalIDMappingRepository) Create(ctx context.Context, mapping *migration.ExternalIDMapping) error {
	model := models.ExternalIDMappingModelFromDomain(mapping)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return migration.ErrMappingConflict
		}
		return err
	}
	return nil
}

// Save updates mapping metadata
func (r *GormExternalIDMappingRepository) Save(ctx context.Context, mapping *migration.ExternalIDMapping) error {
	model := models.ExternalIDMappingModelFromDomain(mapping)
	return r.db.WithContext(ctx).Save(model).Error
}

// CountByEntityType counts the mappings of one entity type in a tenant
func (r *GormExternalIDMappingRepository) CountByEntityType(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ExternalIDMappingModel{}).
		Where("tenant_id = ? AND entity_type = ?", tenantID, string(entityType)).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Compile-time interface compliance check
var _ migration.MappingRepository = (*GormExternalIDMappingRepository)(nil)
