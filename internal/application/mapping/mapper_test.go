package mapping

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mapperFixture struct {
	store    *memStore
	mapper   *Mapper
	tenantID uuid.UUID
}

func newMapperFixture() *mapperFixture {
	store := newMemStore()
	return &mapperFixture{
		store:    store,
		mapper:   NewMapper(store.Mappings(), store, nil, zap.NewNop()),
		tenantID: uuid.New(),
	}
}

func (f *mapperFixture) mapRecord(t ledger.EntityType, strategy migration.ConflictStrategy, rec integration.ExternalRecord) Result {
	rec.EntityType = t
	return f.mapper.Map(context.Background(), Request{
		TenantID: f.tenantID,
		Platform: integration.PlatformCodeXero,
		Record:   rec,
		Config:   migration.EntityTypeConfig{EntityType: t, Enabled: true, ConflictStrategy: strategy},
	})
}

func contactRecord(id, name, email string) integration.ExternalRecord {
	fields := map[string]any{"name": name}
	if email != "" {
		fields["email"] = email
	}
	return integration.ExternalRecord{ExternalID: id, Fields: fields}
}

func invoiceRecord(id, contactID, total string) integration.ExternalRecord {
	return integration.ExternalRecord{
		ExternalID: id,
		Revision:   "r1",
		Fields: map[string]any{
			"number":     "INV-" + id,
			"contact_id": contactID,
			"total":      total,
			"reference":  "PO-1",
			"date":       "2024-03-01T00:00:00",
		},
	}
}

func TestMapper_CreatesRecordAndMapping(t *testing.T) {
	f := newMapperFixture()

	res := f.mapRecord(ledger.EntityTypeContacts, migration.ConflictStrategySkip, contactRecord("C-1", "Acme  Ltd", "a@acme.test"))
	require.NoError(t, res.Err)
	assert.Equal(t, migration.RecordStatusSuccess, res.Status)
	assert.Equal(t, ActionCreated, res.Action)

	m, ok := f.store.mapping(ledger.EntityTypeContacts, "C-1", f.tenantID)
	require.True(t, ok)
	assert.Equal(t, res.InternalID, m.InternalID)

	rec, ok := f.store.record(res.InternalID)
	require.True(t, ok)
	assert.Equal(t, "Acme Ltd", rec.Identity)
	assert.Equal(t, "a@acme.test", rec.Field("email"))
}

func TestMapper_MissingReferenceFailsWithoutWriting(t *testing.T) {
	f := newMapperFixture()

	res := f.mapRecord(ledger.EntityTypeInvoices, migration.ConflictStrategySkip, invoiceRecord("I-1", "C-unknown", "100"))
	assert.Equal(t, migration.RecordStatusFailed, res.Status)
	assert.Equal(t, "MISSING_REFERENCE", res.ErrorCode())
	assert.Contains(t, res.Err.Error(), "C-unknown")
	assert.Zero(t, f.store.countRecords(ledger.EntityTypeInvoices))
	assert.Zero(t, f.store.writes)
}

func TestMapper_ResolvesReferences(t *testing.T) {
	f := newMapperFixture()
	contact := f.mapRecord(ledger.EntityTypeContacts, migration.ConflictStrategySkip, contactRecord("C-1", "Acme", ""))
	require.NoError(t, contact.Err)

	res := f.mapRecord(ledger.EntityTypeInvoices, migration.ConflictStrategySkip, invoiceRecord("I-1", "C-1", "1,250.5"))
	require.NoError(t, res.Err)

	rec, _ := f.store.record(res.InternalID)
	ref, ok := rec.Reference("contact")
	require.True(t, ok)
	assert.Equal(t, contact.InternalID, ref)
	assert.Equal(t, "1250.50", rec.Field("total"))
	assert.Equal(t, "2024-03-01", rec.Field("date"))
}

func TestMapper_ConflictStrategies(t *testing.T) {
	setup := func(t *testing.T) (*mapperFixture, uuid.UUID) {
		f := newMapperFixture()
		require.NoError(t, f.mapRecord(ledger.EntityTypeContacts, migration.ConflictStrategySkip, contactRecord("C-1", "Acme", "")).Err)
		first := f.mapRecord(ledger.EntityTypeInvoices, migration.ConflictStrategySkip, invoiceRecord("I-1", "C-1", "100"))
		require.NoError(t, first.Err)
		return f, first.InternalID
	}

	// incoming version drops the reference and changes the total
	incoming := func() integration.ExternalRecord {
		rec := invoiceRecord("I-1", "C-1", "120")
		delete(rec.Fields, "reference")
		rec.Revision = "r2"
		return rec
	}

	t.Run("skip leaves record untouched", func(t *testing.T) {
		f, id := setup(t)
		writes := f.store.writes

		res := f.mapRecord(ledger.EntityTypeInvoices, migration.ConflictStrategySkip, incoming())
		assert.Equal(t, migration.RecordStatusSkipped, res.Status)
		assert.Equal(t, id, res.InternalID)
		assert.Equal(t, writes, f.store.writes, "skip must not write")

		rec, _ := f.store.record(id)
		assert.Equal(t, "100.00", rec.Field("total"))
	})

	t.Run("overwrite replaces all fields", func(t *testing.T) {
		f, id := setup(t)

		res := f.mapRecord(ledger.EntityTypeInvoices, migration.ConflictStrategyOverwrite, incoming())
		require.NoError(t, res.Err)
		assert.Equal(t, ActionOverwrote, res.Action)
		assert.Equal(t, id, res.InternalID)

		rec, _ := f.store.record(id)
		assert.Equal(t, "120.00", rec.Field("total"))
		assert.Nil(t, rec.Field("reference"))
		m, _ := f.store.mapping(ledger.EntityTypeInvoices, "I-1", f.tenantID)
		assert.Equal(t, "r2", m.Revision)
		assert.Equal(t, id, m.InternalID)
	})

	t.Run("merge keeps existing values where incoming is null", func(t *testing.T) {
		f, id := setup(t)

		res := f.mapRecord(ledger.EntityTypeInvoices, migration.ConflictStrategyMerge, incoming())
		require.NoError(t, res.Err)
		assert.Equal(t, ActionMerged, res.Action)

		rec, _ := f.store.record(id)
		assert.Equal(t, "120.00", rec.Field("total"))
		assert.Equal(t, "PO-1", rec.Field("reference"))
	})

	t.Run("create-new adds a suffixed record and keeps the mapping", func(t *testing.T) {
		f, id := setup(t)

		res := f.mapRecord(ledger.EntityTypeInvoices, migration.ConflictStrategyCreateNew, incoming())
		require.NoError(t, res.Err)
		assert.Equal(t, ActionDuplicated, res.Action)
		assert.NotEqual(t, id, res.InternalID)
		assert.Equal(t, 2, f.store.countRecords(ledger.EntityTypeInvoices))

		dup, _ := f.store.record(res.InternalID)
		assert.Equal(t, "INV-I-1 (2)", dup.Identity)
		m, _ := f.store.mapping(ledger.EntityTypeInvoices, "I-1", f.tenantID)
		assert.Equal(t, id, m.InternalID)

		again := f.mapRecord(ledger.EntityTypeInvoices, migration.ConflictStrategyCreateNew, incoming())
		require.NoError(t, again.Err)
		third, _ := f.store.record(again.InternalID)
		assert.Equal(t, "INV-I-1 (3)", third.Identity)
	})
}

func TestMapper_SkipIsIdempotent(t *testing.T) {
	f := newMapperFixture()
	records := []integration.ExternalRecord{
		contactRecord("C-1", "Acme", ""),
		contactRecord("C-2", "Globex", ""),
	}
	for _, r := range records {
		require.NoError(t, f.mapRecord(ledger.EntityTypeContacts, migration.ConflictStrategySkip, r).Err)
	}
	writes := f.store.writes

	for _, r := range records {
		res := f.mapRecord(ledger.EntityTypeContacts, migration.ConflictStrategySkip, r)
		assert.Equal(t, migration.RecordStatusSkipped, res.Status)
	}
	assert.Equal(t, writes, f.store.writes)
	assert.Equal(t, 2, f.store.countRecords(ledger.EntityTypeContacts))
}

func TestMapper_RecordAndMappingAreAtomic(t *testing.T) {
	f := newMapperFixture()
	f.store.failMappingCreate = errors.New("disk full")

	res := f.mapRecord(ledger.EntityTypeContacts, migration.ConflictStrategySkip, contactRecord("C-1", "Acme", ""))
	assert.Equal(t, migration.RecordStatusFailed, res.Status)
	assert.Zero(t, f.store.countRecords(ledger.EntityTypeContacts), "record must roll back with the mapping")
	_, ok := f.store.mapping(ledger.EntityTypeContacts, "C-1", f.tenantID)
	assert.False(t, ok)
}

func TestMapper_MappingRaceIsTreatedAsPresent(t *testing.T) {
	f := newMapperFixture()
	f.store.failMappingCreate = migration.ErrMappingConflict
	// simulate the concurrent writer having committed the mapping
	winner := uuid.New()
	f.store.mappings[migration.MappingKey{TenantID: f.tenantID, EntityType: ledger.EntityTypeContacts, ExternalID: "C-1"}] = migration.ExternalIDMapping{
		TenantID: f.tenantID, EntityType: ledger.EntityTypeContacts, ExternalID: "C-1", InternalID: winner,
	}
	mappings := &raceMappings{memMappings: memMappings{f.store}, hideOnce: true}
	f.mapper = NewMapper(mappings, f.store, nil, zap.NewNop())

	res := f.mapRecord(ledger.EntityTypeContacts, migration.ConflictStrategySkip, contactRecord("C-1", "Acme", ""))
	assert.Equal(t, migration.RecordStatusSkipped, res.Status)
	assert.Equal(t, winner, res.InternalID)
	assert.Zero(t, f.store.countRecords(ledger.EntityTypeContacts))
}

// raceMappings hides the mapping on the first lookup, as if it did not exist yet
type raceMappings struct {
	memMappings
	hideOnce bool
}

func (r *raceMappings) FindByKey(ctx context.Context, key migration.MappingKey) (*migration.ExternalIDMapping, error) {
	if r.hideOnce {
		r.hideOnce = false
		return nil, migration.ErrMappingNotFound
	}
	return r.memMappings.FindByKey(ctx, key)
}

func TestMapper_InvalidData(t *testing.T) {
	f := newMapperFixture()
	require.NoError(t, f.mapRecord(ledger.EntityTypeContacts, migration.ConflictStrategySkip, contactRecord("C-1", "Acme", "")).Err)

	res := f.mapRecord(ledger.EntityTypeInvoices, migration.ConflictStrategySkip, invoiceRecord("I-1", "C-1", "12,5x"))
	assert.Equal(t, migration.RecordStatusFailed, res.Status)
	assert.Equal(t, "INVALID_DATA", res.ErrorCode())

	res = f.mapRecord(ledger.EntityTypeContacts, migration.ConflictStrategySkip, integration.ExternalRecord{})
	assert.Equal(t, "INVALID_EXTERNAL_ID", res.ErrorCode())
}
