package persistence

import (
	"context"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"gorm.io/gorm"
)

// GormUnitOfWork implements migration.UnitOfWork using GORM transactions.
// A ledger record and its external id mapping commit or roll back together.
type GormUnitOfWork struct {
	db *gorm.DB
}

// NewGormUnitOfWork creates a new GormUnitOfWork
func NewGormUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

// Do runs fn within a database transaction.
// If fn returns an error, the transaction is rolled back.
func (u *GormUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx migration.TxScope) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, migration.TxScope{
			Mappings: NewGormExternalIDMappingRepository(tx),
			Records:  NewGormLedgerRecordRepository(tx),
		})
	})
}

// Ensure GormUnitOfWork implements UnitOfWork
var _ migration.UnitOfWork = (*GormUnitOfWork)(nil)
