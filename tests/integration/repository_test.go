package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/persistence"
)

func newPendingJob(t *testing.T, tenantID uuid.UUID, externalTenant string) *migration.MigrationJob {
	t.Helper()
	job, err := migration.NewMigrationJob(tenantID, integration.PlatformCodeXero, externalTenant, migration.JobConfig{
		EntityTypes: []migration.EntityTypeConfig{
			{EntityType: ledger.EntityTypeContacts, Enabled: true, ConflictStrategy: migration.ConflictStrategySkip},
			{EntityType: ledger.EntityTypeInvoices, Enabled: true, ConflictStrategy: migration.ConflictStrategyMerge},
		},
		BatchSize: 50,
	}, nil)
	require.NoError(t, err)
	return job
}

func TestJobRepository_RoundTrip(t *testing.T) {
	tdb := NewTestDB(t)
	repo := persistence.NewGormMigrationJobRepository(tdb.DB)
	ctx := context.Background()
	tenantID := uuid.New()

	job := newPendingJob(t, tenantID, "org-1")
	require.NoError(t, repo.Save(ctx, job))

	require.NoError(t, job.Start())
	require.NoError(t, job.BeginEntityType(ledger.EntityTypeContacts))
	require.NoError(t, job.SetEntityTotal(ledger.EntityTypeContacts, 3))
	require.NoError(t, job.RecordResult(ledger.EntityTypeContacts, migration.RecordStatusSuccess, nil))
	require.NoError(t, job.RecordResult(ledger.EntityTypeContacts, migration.RecordStatusFailed, &migration.RecordError{
		EntityType: ledger.EntityTypeContacts,
		ExternalID: "C-2",
		Code:       "MISSING_REFERENCE",
		Message:    "account 400 not migrated",
	}))
	require.NoError(t, repo.Save(ctx, job))

	got, err := repo.FindByIDForTenant(ctx, tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, migration.JobStatusInProgress, got.Status)
	assert.Equal(t, ledger.EntityTypeContacts, got.CurrentEntityType)
	assert.Equal(t, job.Config, got.Config)
	assert.Equal(t, 2, got.Totals().Processed)
	assert.Equal(t, 1, got.ErrorCount)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "C-2", got.Errors[0].ExternalID)

	_, err = repo.FindByIDForTenant(ctx, uuid.New(), job.ID)
	assert.ErrorIs(t, err, migration.ErrJobNotFound)

	active, err := repo.FindByStatuses(ctx, migration.JobStatusInProgress)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, job.ID, active[0].ID)
}

func TestJobRepository_OneActiveJobPerTarget(t *testing.T) {
	tdb := NewTestDB(t)
	repo := persistence.NewGormMigrationJobRepository(tdb.DB)
	ctx := context.Background()
	tenantID := uuid.New()

	first := newPendingJob(t, tenantID, "org-1")
	require.NoError(t, repo.Save(ctx, first))

	exists, err := repo.ExistsActive(ctx, tenantID, integration.PlatformCodeXero, "org-1")
	require.NoError(t, err)
	assert.True(t, exists)

	// A second instance that lost the ExistsActive race is stopped by the index.
	second := newPendingJob(t, tenantID, "org-1")
	assert.ErrorIs(t, repo.Save(ctx, second), migration.ErrJobAlreadyActive)

	// Other external tenants and other tenants are independent.
	require.NoError(t, repo.Save(ctx, newPendingJob(t, tenantID, "org-2")))
	require.NoError(t, repo.Save(ctx, newPendingJob(t, uuid.New(), "org-1")))

	require.NoError(t, first.Cancel())
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, second))
}

func TestJobRepository_FindForTenant(t *testing.T) {
	tdb := NewTestDB(t)
	repo := persistence.NewGormMigrationJobRepository(tdb.DB)
	ctx := context.Background()
	tenantID := uuid.New()

	for i := 0; i < 5; i++ {
		job := newPendingJob(t, tenantID, uuid.NewString())
		if i%2 == 0 {
			require.NoError(t, job.Cancel())
		}
		require.NoError(t, repo.Save(ctx, job))
	}
	require.NoError(t, repo.Save(ctx, newPendingJob(t, uuid.New(), "elsewhere")))

	page, err := repo.FindForTenant(ctx, tenantID, migration.JobFilter{
		Filter:   shared.Filter{Page: 1, PageSize: 2},
		Statuses: []migration.JobStatus{migration.JobStatusCancelled},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Items, 2)
	for _, j := range page.Items {
		assert.Equal(t, tenantID, j.TenantID)
		assert.Equal(t, migration.JobStatusCancelled, j.Status)
	}
}

func TestMappingRepository_UniqueKey(t *testing.T) {
	tdb := NewTestDB(t)
	repo := persistence.NewGormExternalIDMappingRepository(tdb.DB)
	ctx := context.Background()
	key := migration.MappingKey{TenantID: uuid.New(), EntityType: ledger.EntityTypeContacts, ExternalID: "C-1"}

	m, err := migration.NewExternalIDMapping(key, uuid.New(), integration.PlatformCodeXero)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, m))

	dup, err := migration.NewExternalIDMapping(key, uuid.New(), integration.PlatformCodeXero)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Create(ctx, dup), migration.ErrMappingConflict)

	jobID := uuid.New()
	m.RefreshMetadata("rev-2", nil, &jobID, map[string]any{"name": "Acme"})
	require.NoError(t, repo.Save(ctx, m))

	got, err := repo.FindByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, m.InternalID, got.InternalID)
	assert.Equal(t, "rev-2", got.Revision)
	assert.Equal(t, &jobID, got.LastJobID)
	assert.Equal(t, "Acme", got.Metadata["name"])

	_, err = repo.FindByKey(ctx, migration.MappingKey{TenantID: key.TenantID, EntityType: ledger.EntityTypeInvoices, ExternalID: "C-1"})
	assert.ErrorIs(t, err, migration.ErrMappingNotFound)

	n, err := repo.CountByEntityType(ctx, key.TenantID, ledger.EntityTypeContacts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
