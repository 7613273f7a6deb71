// Package models contains GORM persistence models that map to database tables.
// Models are kept apart from domain entities so the domain layer stays free of ORM tags.
//
// Structure:
//   - base.go: shared columns (BaseModel, TenantAggregateModel)
//   - migration.go: migration jobs and external id mappings
//   - ledger.go: ledger records produced by the migration
package models
