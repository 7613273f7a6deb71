package migration

import (
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
)

// MappingKey identifies an external record within a tenant
type MappingKey struct {
	TenantID   uuid.UUID
	EntityType ledger.EntityType
	ExternalID string
}

// ExternalIDMapping links an external record to the internal record created from it.
// It is the authority on whether a record has already been migrated.
type ExternalIDMapping struct {
	shared.BaseEntity
	TenantID          uuid.UUID                `json:"tenant_id"`
	EntityType        ledger.EntityType        `json:"entity_type"`
	ExternalID        string                   `json:"external_id"`
	InternalID        uuid.UUID                `json:"internal_id"`
	Platform          integration.PlatformCode `json:"platform"`
	Revision          string                   `json:"revision,omitempty"`
	ExternalUpdatedAt *time.Time               `json:"external_updated_at,omitempty"`
	Metadata          map[string]any           `json:"metadata,omitempty"`
	LastJobID         *uuid.UUID               `json:"last_job_id,omitempty"`
}

// NewExternalIDMapping creates a mapping for a freshly created internal record
func NewExternalIDMapping(key MappingKey, internalID uuid.UUID, platform integration.PlatformCode) (*ExternalIDMapping, error) {
	if key.TenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !key.EntityType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTITY_TYPE", "Invalid entity type: "+key.EntityType.String())
	}
	if key.ExternalID == "" {
		return nil, shared.NewDomainError("INVALID_EXTERNAL_ID", "External ID cannot be empty")
	}
	if internalID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INTERNAL_ID", "Internal ID cannot be empty")
	}
	return &ExternalIDMapping{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   key.TenantID,
		EntityType: key.EntityType,
		ExternalID: key.ExternalID,
		InternalID: internalID,
		Platform:   platform,
		Metadata:   make(map[string]any),
	}, nil
}

// Key returns the lookup key of the mapping
func (m *ExternalIDMapping) Key() MappingKey {
	return MappingKey{TenantID: m.TenantID, EntityType: m.EntityType, ExternalID: m.ExternalID}
}

// RefreshMetadata updates the revision markers. The internal id never changes.
func (m *ExternalIDMapping) RefreshMetadata(revision string, updatedAt *time.Time, jobID *uuid.UUID, metadata map[string]any) {
	if revision != "" {
		m.Revision = revision
	}
	if updatedAt != nil {
		m.ExternalUpdatedAt = updatedAt
	}
	if jobID != nil {
		m.LastJobID = jobID
	}
	if m.Metadata == nil {
		m.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		m.Metadata[k] = v
	}
	m.Touch()
}
