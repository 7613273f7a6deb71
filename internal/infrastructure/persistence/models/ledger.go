package models

import (
	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"gorm.io/datatypes"
)

// LedgerRecordModel is the persistence model for ledger records.
// Identity is indexed but not unique: create-new keeps duplicates apart by suffix.
type LedgerRecordModel struct {
	TenantAggregateModel
	EntityType string                                   `gorm:"type:varchar(40);not null;index:idx_ledger_records_identity,priority:1"`
	Identity   string                                   `gorm:"type:varchar(500);not null;index:idx_ledger_records_identity,priority:2"`
	Fields     datatypes.JSONMap                        `gorm:"not null"`
	Refs       datatypes.JSONType[map[string]uuid.UUID] `gorm:"column:refs"`
}

// TableName returns the table name for GORM
func (LedgerRecordModel) TableName() string {
	return "ledger_records"
}

// ToDomain converts the persistence model to a domain Record
func (m *LedgerRecordModel) ToDomain() *ledger.Record {
	fields := make(map[string]any, len(m.Fields))
	for k, v := range m.Fields {
		fields[k] = v
	}
	refs := m.Refs.Data()
	if refs == nil {
		refs = make(map[string]uuid.UUID)
	}
	return &ledger.Record{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		EntityType:          ledger.EntityType(m.EntityType),
		Identity:            m.Identity,
		Fields:              fields,
		References:          refs,
	}
}

// FromDomain populates the persistence model from a domain Record
func (m *LedgerRecordModel) FromDomain(r *ledger.Record) {
	m.FromDomainTenantAggregateRoot(r.TenantAggregateRoot)
	m.EntityType = string(r.EntityType)
	m.Identity = r.Identity
	m.Fields = datatypes.JSONMap(r.Fields)
	if m.Fields == nil {
		m.Fields = datatypes.JSONMap{}
	}
	m.Refs = datatypes.NewJSONType(r.References)
}

// LedgerRecordModelFromDomain creates a new persistence model from a domain Record
func LedgerRecordModelFromDomain(r *ledger.Record) *LedgerRecordModel {
	m := &LedgerRecordModel{}
	m.FromDomain(r)
	return m
}
