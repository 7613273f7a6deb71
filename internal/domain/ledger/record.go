package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
)

// Record is an internal ledger document produced from one external record.
// Fields holds the mapped document; References holds resolved links to other records.
type Record struct {
	shared.TenantAggregateRoot
	EntityType EntityType
	Identity   string
	Fields     map[string]any
	References map[string]uuid.UUID
}

// NewRecord creates a new ledger record
func NewRecord(tenantID uuid.UUID, entityType EntityType, identity string, fields map[string]any, refs map[string]uuid.UUID) (*Record, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !entityType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTITY_TYPE", fmt.Sprintf("Invalid entity type: %s", entityType))
	}
	if identity == "" {
		return nil, shared.NewDomainError("INVALID_IDENTITY", "Record identity cannot be empty")
	}

	r := &Record{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		EntityType:          entityType,
		Identity:            identity,
		Fields:              make(map[string]any, len(fields)),
		References:          make(map[string]uuid.UUID, len(refs)),
	}
	for k, v := range fields {
		if v != nil {
			r.Fields[k] = v
		}
	}
	for k, v := range refs {
		r.References[k] = v
	}
	return r, nil
}

// Overwrite replaces every mapped field with the incoming values
func (r *Record) Overwrite(identity string, fields map[string]any, refs map[string]uuid.UUID) {
	if identity != "" {
		r.Identity = identity
	}
	r.Fields = make(map[string]any, len(fields))
	for k, v := range fields {
		if v != nil {
			r.Fields[k] = v
		}
	}
	r.References = make(map[string]uuid.UUID, len(refs))
	for k, v := range refs {
		r.References[k] = v
	}
	r.touch()
}

// Merge combines incoming values with the existing document.
// Incoming non-null values win; existing values are kept where the incoming value is null or absent.
func (r *Record) Merge(identity string, fields map[string]any, refs map[string]uuid.UUID) {
	if identity != "" {
		r.Identity = identity
	}
	if r.Fields == nil {
		r.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		if v == nil {
			continue
		}
		r.Fields[k] = v
	}
	if r.References == nil {
		r.References = make(map[string]uuid.UUID, len(refs))
	}
	for k, v := range refs {
		if v == uuid.Nil {
			continue
		}
		r.References[k] = v
	}
	r.touch()
}

// Field returns a field value, nil when unset
func (r *Record) Field(key string) any {
	return r.Fields[key]
}

// Reference returns the internal id referenced by key
func (r *Record) Reference(key string) (uuid.UUID, bool) {
	id, ok := r.References[key]
	return id, ok
}

func (r *Record) touch() {
	r.UpdatedAt = time.Now()
	r.IncrementVersion()
}

// RecordRepository persists ledger records
type RecordRepository interface {
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Record, error)
	Create(ctx context.Context, record *Record) error
	Save(ctx context.Context, record *Record) error
	IdentityExists(ctx context.Context, tenantID uuid.UUID, entityType EntityType, identity string) (bool, error)
	CountByEntityType(ctx context.Context, tenantID uuid.UUID, entityType EntityType) (int64, error)
}

// ErrRecordNotFound is returned when a ledger record does not exist
var ErrRecordNotFound = shared.NewDomainError("RECORD_NOT_FOUND", "Ledger record not found")
