package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormLedgerRecordRepository implements ledger.RecordRepository using GORM
type GormLedgerRecordRepository struct {
	db *gorm.DB
}

// NewGormLedgerRecordRepository creates a new GormLedgerRecordRepository
func NewGormLedgerRecordRepository(db *gorm.DB) *GormLedgerRecordRepository {
	return &GormLedgerRecordRepository{db: db}
}

// FindByID finds a ledger record owned by the tenant
func (r *GormLedgerRecordRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*ledger.Record, error) {
	var model models.LedgerRecordModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a new ledger record
func (r *GormLedgerRecordRepository) Create(ctx context.Context, record *ledger.Record) error {
	return r.db.WithContext(ctx).Create(models.LedgerRecordModelFromDomain(record)).Error
}

// Save updates a ledger record
func (r *GormLedgerRecordRepository) Save(ctx context.Context, record *ledger.Record) error {
	return r.db.WithContext(ctx).Save(models.LedgerRecordModelFromDomain(record)).Error
}

// IdentityExists reports whether a record of the type already uses identity
func (r *GormLedgerRecordRepository) IdentityExists(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, identity string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.LedgerRecordModel{}).
		Where("tenant_id = ? AND entity_type = ? AND identity = ?", tenantID, string(entityType), identity).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountByEntityType counts the ledger records of one entity type in a tenant
func (r *GormLedgerRecordRepository) CountByEntityType(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.LedgerRecordModel{}).
		Where("tenant_id = ? AND entity_type = ?", tenantID, string(entityType)).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Compile-time interface compliance check
var _ ledger.RecordRepository = (*GormLedgerRecordRepository)(nil)
