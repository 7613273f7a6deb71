package mapping

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
)

// memStore is an in-memory mapping/record store whose unit of work rolls back on error
type memStore struct {
	mu       sync.Mutex
	mappings map[migration.MappingKey]migration.ExternalIDMapping
	records  map[uuid.UUID]ledger.Record

	// failMappingCreate makes the next mapping insert fail
	failMappingCreate error
	writes            int
}

func newMemStore() *memStore {
	return &memStore{
		mappings: make(map[migration.MappingKey]migration.ExternalIDMapping),
		records:  make(map[uuid.UUID]ledger.Record),
	}
}

type memMappings struct{ s *memStore }
type memRecords struct{ s *memStore }

func (s *memStore) Mappings() migration.MappingRepository { return memMappings{s} }
func (s *memStore) Records() ledger.RecordRepository      { return memRecords{s} }

func (s *memStore) Do(ctx context.Context, fn func(ctx context.Context, tx migration.TxScope) error) error {
	s.mu.Lock()
	mappings := make(map[migration.MappingKey]migration.ExternalIDMapping, len(s.mappings))
	for k, v := range s.mappings {
		mappings[k] = v
	}
	records := make(map[uuid.UUID]ledger.Record, len(s.records))
	for k, v := range s.records {
		records[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx, migration.TxScope{Mappings: memMappings{s}, Records: memRecords{s}}); err != nil {
		s.mu.Lock()
		s.mappings = mappings
		s.records = records
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) mapping(t ledger.EntityType, externalID string, tenantID uuid.UUID) (migration.ExternalIDMapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[migration.MappingKey{TenantID: tenantID, EntityType: t, ExternalID: externalID}]
	return m, ok
}

func (s *memStore) record(id uuid.UUID) (ledger.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

func (s *memStore) countRecords(t ledger.EntityType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.EntityType == t {
			n++
		}
	}
	return n
}

func (r memMappings) FindByKey(_ context.Context, key migration.MappingKey) (*migration.ExternalIDMapping, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.mappings[key]
	if !ok {
		return nil, migration.ErrMappingNotFound
	}
	return &m, nil
}

func (r memMappings) Create(_ context.Context, m *migration.ExternalIDMapping) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failMappingCreate; err != nil {
		r.s.failMappingCreate = nil
		return err
	}
	if _, ok := r.s.mappings[m.Key()]; ok {
		return migration.ErrMappingConflict
	}
	r.s.mappings[m.Key()] = *m
	r.s.writes++
	return nil
}

func (r memMappings) Save(_ context.Context, m *migration.ExternalIDMapping) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.mappings[m.Key()] = *m
	r.s.writes++
	return nil
}

func (r memMappings) CountByEntityType(_ context.Context, tenantID uuid.UUID, t ledger.EntityType) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k := range r.s.mappings {
		if k.TenantID == tenantID && k.EntityType == t {
			n++
		}
	}
	return n, nil
}

func (r memRecords) FindByID(_ context.Context, tenantID, id uuid.UUID) (*ledger.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[id]
	if !ok || rec.TenantID != tenantID {
		return nil, ledger.ErrRecordNotFound
	}
	fields := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = v
	}
	refs := make(map[string]uuid.UUID, len(rec.References))
	for k, v := range rec.References {
		refs[k] = v
	}
	rec.Fields = fields
	rec.References = refs
	return &rec, nil
}

func (r memRecords) Create(_ context.Context, rec *ledger.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.records[rec.ID] = *rec
	r.s.writes++
	return nil
}

func (r memRecords) Save(_ context.Context, rec *ledger.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.records[rec.ID] = *rec
	r.s.writes++
	return nil
}

func (r memRecords) IdentityExists(_ context.Context, tenantID uuid.UUID, t ledger.EntityType, identity string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range r.s.records {
		if rec.TenantID == tenantID && rec.EntityType == t && rec.Identity == identity {
			return true, nil
		}
	}
	return false, nil
}

func (r memRecords) CountByEntityType(_ context.Context, tenantID uuid.UUID, t ledger.EntityType) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, rec := range r.s.records {
		if rec.TenantID == tenantID && rec.EntityType == t {
			n++
		}
	}
	return n, nil
}
