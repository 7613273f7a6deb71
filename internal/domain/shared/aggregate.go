package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries the identity and timestamps every persisted entity has
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseEntity assigns a time-ordered ID so rows sort by creation.
// A failing v7 generator falls back to a random ID.
func NewBaseEntity() BaseEntity {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	now := time.Now()
	return BaseEntity{ID: id, CreatedAt: now, UpdatedAt: now}
}

// Touch marks the entity as modified now
func (e *BaseEntity) Touch() {
	e.UpdatedAt = time.Now()
}

// BaseAggregateRoot adds an optimistic-lock version and a queue of events
// waiting to be published after the next successful save
type BaseAggregateRoot struct {
	BaseEntity
	Version int
	pending []DomainEvent
}

// IncrementVersion is called by every state transition that must be persisted
func (a *BaseAggregateRoot) IncrementVersion() {
	a.Version++
}

// AddDomainEvent queues an event
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.pending = append(a.pending, event)
}

// PullDomainEvents hands the queued events to the caller and empties the queue
func (a *BaseAggregateRoot) PullDomainEvents() []DomainEvent {
	events := a.pending
	a.pending = nil
	return events
}

// TenantAggregateRoot is an aggregate owned by a single tenant
type TenantAggregateRoot struct {
	BaseAggregateRoot
	TenantID  uuid.UUID
	CreatedBy *uuid.UUID
}

// NewTenantAggregateRoot starts a new aggregate at version 1
func NewTenantAggregateRoot(tenantID uuid.UUID) TenantAggregateRoot {
	return TenantAggregateRoot{
		BaseAggregateRoot: BaseAggregateRoot{BaseEntity: NewBaseEntity(), Version: 1},
		TenantID:          tenantID,
	}
}

// NewTenantAggregateRootWithCreator records who requested the aggregate
func NewTenantAggregateRootWithCreator(tenantID uuid.UUID, createdBy *uuid.UUID) TenantAggregateRoot {
	root := NewTenantAggregateRoot(tenantID)
	root.CreatedBy = createdBy
	return root
}
