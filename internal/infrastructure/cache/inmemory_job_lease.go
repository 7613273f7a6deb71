package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// InMemoryJobLease implements migration.JobLease for single-instance deployments and tests
type InMemoryJobLease struct {
	mu     sync.Mutex
	leases map[uuid.UUID]lease
	now    func() time.Time
}

// NewInMemoryJobLease creates a new in-memory lease store
func NewInMemoryJobLease() *InMemoryJobLease {
	return &InMemoryJobLease{
		leases: make(map[uuid.UUID]lease),
		now:    time.Now,
	}
}

// Acquire takes the lease if nobody holds it or the previous holder expired
func (l *InMemoryJobLease) Acquire(_ context.Context, jobID uuid.UUID, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[jobID]; ok && now.Before(cur.expiresAt) {
		return false, nil
	}
	l.leases[jobID] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// Renew extends the lease if owner still holds it
func (l *InMemoryJobLease) Renew(_ context.Context, jobID uuid.UUID, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cur, ok := l.leases[jobID]
	if !ok || cur.owner != owner || !now.Before(cur.expiresAt) {
		return false, nil
	}
	l.leases[jobID] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release drops the lease if owner still holds it
func (l *InMemoryJobLease) Release(_ context.Context, jobID uuid.UUID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[jobID]; ok && cur.owner == owner {
		delete(l.leases, jobID)
	}
	return nil
}

// Ensure InMemoryJobLease implements JobLease
var _ migration.JobLease = (*InMemoryJobLease)(nil)
