package migrationapp_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	migrationapp "github.com/lukgber-glitch/operate-sub002/internal/application/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_RunCompletesInBatches(t *testing.T) {
	h := newHarness(t)
	h.platform.WithRecords(ledger.EntityTypeContacts, h.fixtures.Contacts(250))
	tenantID := uuid.New()
	job := h.newJob(t, tenantID, 100, entity(ledger.EntityTypeContacts))

	require.NoError(t, h.engine.Run(context.Background(), job, noSignals{}))

	assert.Equal(t, migration.JobStatusCompleted, job.Status)
	p, ok := job.EntityProgress(ledger.EntityTypeContacts)
	require.True(t, ok)
	assert.Equal(t, 250, p.Total)
	assert.Equal(t, 250, p.Succeeded)
	assert.Equal(t, 3, p.Batches)
	assert.Equal(t, float64(100), job.OverallPercentage())
	assert.EqualValues(t, 250, h.mappedCount(t, tenantID, ledger.EntityTypeContacts))

	assert.Len(t, h.publisher.Events(migration.EventTypeMigrationProgress), 3)
	types := h.publisher.Types()
	assert.Equal(t, migration.EventTypeMigrationStarted, types[0])
	assert.Equal(t, migration.EventTypeMigrationCompleted, types[len(types)-1])
	assert.Len(t, h.publisher.Events(migration.EventTypeEntityTypeCompleted), 1)

	stored := h.reload(t, job.ID)
	assert.Equal(t, migration.JobStatusCompleted, stored.Status)
	assert.Equal(t, 250, stored.Totals().Succeeded)

	assert.Equal(t, 250, h.metrics.processed[string(migration.RecordStatusSuccess)])
	assert.Equal(t, 3, h.metrics.batches)
	assert.Equal(t, []string{"completed"}, h.metrics.finished)
}

func TestEngine_EntityTypesRunInDependencyOrder(t *testing.T) {
	h := newHarness(t)
	contacts := h.fixtures.Contacts(3)
	h.platform.
		WithRecords(ledger.EntityTypeContacts, contacts).
		WithRecords(ledger.EntityTypeInvoices, h.fixtures.Invoices(6, testutil.IDs(contacts)))
	tenantID := uuid.New()
	// listed out of order on purpose
	job := h.newJob(t, tenantID, 100, entity(ledger.EntityTypeInvoices), entity(ledger.EntityTypeContacts))

	require.NoError(t, h.engine.Run(context.Background(), job, noSignals{}))

	done := h.publisher.Events(migration.EventTypeEntityTypeCompleted)
	require.Len(t, done, 2)
	assert.Equal(t, ledger.EntityTypeContacts, done[0].(*migration.EntityTypeCompletedEvent).EntityType)
	assert.Equal(t, ledger.EntityTypeInvoices, done[1].(*migration.EntityTypeCompletedEvent).EntityType)
	assert.Equal(t, 9, job.Totals().Succeeded)
	assert.Zero(t, job.Totals().Failed)
}

func TestEngine_MissingReferencesFailRecordsOnly(t *testing.T) {
	h := newHarness(t)
	contacts := h.fixtures.Contacts(2)
	h.platform.
		WithRecords(ledger.EntityTypeContacts, contacts).
		WithRecords(ledger.EntityTypeInvoices, h.fixtures.Invoices(4, []string{contacts[0].ExternalID, "C-9999"}))
	job := h.newJob(t, uuid.New(), 100, entity(ledger.EntityTypeContacts), entity(ledger.EntityTypeInvoices))

	require.NoError(t, h.engine.Run(context.Background(), job, noSignals{}))

	assert.Equal(t, migration.JobStatusCompleted, job.Status)
	p, _ := job.EntityProgress(ledger.EntityTypeInvoices)
	assert.Equal(t, migration.JobStatusCompleted, p.Status)
	assert.Equal(t, 2, p.Succeeded)
	assert.Equal(t, 2, p.Failed)
	require.Len(t, p.Errors, 2)
	for _, e := range p.Errors {
		assert.Equal(t, "MISSING_REFERENCE", e.Code)
		assert.Equal(t, ledger.EntityTypeInvoices, e.EntityType)
	}
	assert.Equal(t, 2, job.ErrorCount)
}

func TestEngine_FetchFailureIsIsolatedToItsType(t *testing.T) {
	h := newHarness(t)
	h.platform.
		FailWith(ledger.EntityTypeAccounts, errors.New("organisation offline")).
		WithRecords(ledger.EntityTypeContacts, h.fixtures.Contacts(5))
	job := h.newJob(t, uuid.New(), 100, entity(ledger.EntityTypeAccounts), entity(ledger.EntityTypeContacts))

	require.NoError(t, h.engine.Run(context.Background(), job, noSignals{}))

	assert.Equal(t, migration.JobStatusCompleted, job.Status)
	accounts, _ := job.EntityProgress(ledger.EntityTypeAccounts)
	assert.Equal(t, migration.JobStatusFailed, accounts.Status)
	assert.Contains(t, accounts.FetchError, "organisation offline")
	contacts, _ := job.EntityProgress(ledger.EntityTypeContacts)
	assert.Equal(t, migration.JobStatusCompleted, contacts.Status)
	assert.Equal(t, 5, contacts.Succeeded)
	require.NotEmpty(t, job.Errors)
	assert.Equal(t, "FETCH_FAILED", job.Errors[0].Code)
}

func TestEngine_UnsupportedTypeIsSkippedWithWarning(t *testing.T) {
	h := newHarness(t)
	h.platform.
		Unsupport(ledger.EntityTypeTrackingCategories).
		WithRecords(ledger.EntityTypeAccounts, h.fixtures.Accounts(3))
	job := h.newJob(t, uuid.New(), 100, entity(ledger.EntityTypeAccounts), entity(ledger.EntityTypeTrackingCategories))

	require.NoError(t, h.engine.Run(context.Background(), job, noSignals{}))

	assert.Equal(t, migration.JobStatusCompleted, job.Status)
	require.Len(t, job.Progress, 1)
	assert.Equal(t, ledger.EntityTypeAccounts, job.Progress[0].EntityType)
	require.Len(t, job.Warnings, 1)
	assert.Contains(t, job.Warnings[0], string(ledger.EntityTypeTrackingCategories))
	assert.Zero(t, h.platform.Calls(ledger.EntityTypeTrackingCategories))
}

func TestEngine_FilterSelectsRecords(t *testing.T) {
	h := newHarness(t)
	h.platform.WithRecords(ledger.EntityTypeAccounts, h.fixtures.Accounts(10))
	tenantID := uuid.New()
	job := h.newJob(t, tenantID, 100, migration.EntityTypeConfig{
		EntityType: ledger.EntityTypeAccounts,
		Filter:     `fields.status == "ACTIVE"`,
	})

	require.NoError(t, h.engine.Run(context.Background(), job, noSignals{}))

	p, _ := job.EntityProgress(ledger.EntityTypeAccounts)
	assert.Equal(t, 8, p.Total)
	assert.Equal(t, 8, p.Succeeded)
	assert.EqualValues(t, 8, h.mappedCount(t, tenantID, ledger.EntityTypeAccounts))
}

func TestEngine_RerunWithSkipIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.platform.WithRecords(ledger.EntityTypeContacts, h.fixtures.Contacts(20))
	tenantID := uuid.New()

	first := h.newJob(t, tenantID, 10, entity(ledger.EntityTypeContacts))
	require.NoError(t, h.engine.Run(context.Background(), first, noSignals{}))
	second := h.newJob(t, tenantID, 10, entity(ledger.EntityTypeContacts))
	require.NoError(t, h.engine.Run(context.Background(), second, noSignals{}))

	p, _ := second.EntityProgress(ledger.EntityTypeContacts)
	assert.Equal(t, 20, p.Skipped)
	assert.Zero(t, p.Succeeded)
	assert.EqualValues(t, 20, h.mappedCount(t, tenantID, ledger.EntityTypeContacts))
	n, err := h.records.CountByEntityType(context.Background(), tenantID, ledger.EntityTypeContacts)
	require.NoError(t, err)
	assert.EqualValues(t, 20, n)
}

func TestEngine_PauseAndResume(t *testing.T) {
	h := newHarness(t)
	h.platform.WithRecords(ledger.EntityTypeContacts, h.fixtures.Contacts(250))
	tenantID := uuid.New()
	job := h.newJob(t, tenantID, 100, entity(ledger.EntityTypeContacts))

	// the first check precedes the type; the second follows batch one
	require.NoError(t, h.engine.Run(context.Background(), job, &signalAt{n: 2, sig: migrationapp.SignalPause}))

	paused := h.reload(t, job.ID)
	assert.Equal(t, migration.JobStatusPaused, paused.Status)
	assert.NotNil(t, paused.PausedAt)
	p, _ := paused.EntityProgress(ledger.EntityTypeContacts)
	assert.Equal(t, 100, p.Processed)
	assert.Equal(t, 1, p.Batches)
	assert.EqualValues(t, 100, h.mappedCount(t, tenantID, ledger.EntityTypeContacts))
	assert.Len(t, h.publisher.Events(migration.EventTypeMigrationPaused), 1)

	require.NoError(t, paused.Resume())
	require.NoError(t, h.engine.Run(context.Background(), paused, noSignals{}))

	assert.Equal(t, migration.JobStatusCompleted, paused.Status)
	p, _ = paused.EntityProgress(ledger.EntityTypeContacts)
	assert.Equal(t, 250, p.Processed)
	assert.Equal(t, 150, p.Succeeded)
	assert.Equal(t, 100, p.Skipped)
	assert.EqualValues(t, 250, h.mappedCount(t, tenantID, ledger.EntityTypeContacts))
}

func TestEngine_PauseBeforeNextType(t *testing.T) {
	h := newHarness(t)
	h.platform.
		WithRecords(ledger.EntityTypeAccounts, h.fixtures.Accounts(5)).
		WithRecords(ledger.EntityTypeContacts, h.fixtures.Contacts(5))
	job := h.newJob(t, uuid.New(), 100, entity(ledger.EntityTypeAccounts), entity(ledger.EntityTypeContacts))

	// single-batch types only consult signals at type boundaries
	require.NoError(t, h.engine.Run(context.Background(), job, &signalAt{n: 2, sig: migrationapp.SignalPause}))

	assert.Equal(t, migration.JobStatusPaused, job.Status)
	accounts, _ := job.EntityProgress(ledger.EntityTypeAccounts)
	assert.Equal(t, migration.JobStatusCompleted, accounts.Status)
	contacts, _ := job.EntityProgress(ledger.EntityTypeContacts)
	assert.Equal(t, migration.JobStatusPending, contacts.Status)
	assert.Equal(t, []ledger.EntityType{ledger.EntityTypeContacts}, job.NextEntityTypes())
}

func TestEngine_CancelKeepsMigratedRecords(t *testing.T) {
	h := newHarness(t)
	h.platform.WithRecords(ledger.EntityTypeContacts, h.fixtures.Contacts(250))
	tenantID := uuid.New()
	job := h.newJob(t, tenantID, 100, entity(ledger.EntityTypeContacts))

	require.NoError(t, h.engine.Run(context.Background(), job, &signalAt{n: 2, sig: migrationapp.SignalCancel}))

	stored := h.reload(t, job.ID)
	assert.Equal(t, migration.JobStatusCancelled, stored.Status)
	assert.EqualValues(t, 100, h.mappedCount(t, tenantID, ledger.EntityTypeContacts))
	assert.Len(t, h.publisher.Events(migration.EventTypeMigrationCancelled), 1)
	assert.Empty(t, h.publisher.Events(migration.EventTypeMigrationCompleted))
}

func TestEngine_AbortLeavesJobInProgress(t *testing.T) {
	h := newHarness(t)
	h.platform.WithRecords(ledger.EntityTypeContacts, h.fixtures.Contacts(250))
	job := h.newJob(t, uuid.New(), 100, entity(ledger.EntityTypeContacts))

	require.NoError(t, h.engine.Run(context.Background(), job, &signalAt{n: 2, sig: migrationapp.SignalAbort}))

	stored := h.reload(t, job.ID)
	assert.Equal(t, migration.JobStatusInProgress, stored.Status)
	assert.Equal(t, ledger.EntityTypeContacts, stored.CurrentEntityType)
}

func TestEngine_StoreFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	h.platform.WithRecords(ledger.EntityTypeContacts, h.fixtures.Contacts(250))
	job := h.newJob(t, uuid.New(), 100, entity(ledger.EntityTypeContacts))
	// start and begin-type checkpoints succeed, the first batch checkpoint fails
	h.jobs.failFrom(2)

	err := h.engine.Run(context.Background(), job, noSignals{})

	require.Error(t, err)
	assert.ErrorIs(t, err, migrationapp.ErrJobFailed)
	assert.Equal(t, migration.JobStatusFailed, job.Status)
	assert.Contains(t, job.FailureReason, errStoreDown.Error())
	assert.Len(t, h.publisher.Events(migration.EventTypeMigrationFailed), 1)
	assert.Equal(t, []string{"failed"}, h.metrics.finished)
}

func TestEngine_UnknownPlatformFailsJob(t *testing.T) {
	h := newHarness(t)
	job, err := migration.NewMigrationJob(uuid.New(), integration.PlatformCodeFreee, "company-1", migration.JobConfig{
		EntityTypes: []migration.EntityTypeConfig{{EntityType: ledger.EntityTypeContacts, Enabled: true}},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, h.jobs.Save(context.Background(), job))

	err = h.engine.Run(context.Background(), job, noSignals{})

	assert.ErrorIs(t, err, migrationapp.ErrJobFailed)
	assert.Equal(t, migration.JobStatusFailed, h.reload(t, job.ID).Status)
}

func TestEngine_RejectsTerminalJob(t *testing.T) {
	h := newHarness(t)
	job := h.newJob(t, uuid.New(), 100, entity(ledger.EntityTypeContacts))
	require.NoError(t, job.Cancel())

	err := h.engine.Run(context.Background(), job, noSignals{})

	require.Error(t, err)
	assert.NotErrorIs(t, err, migrationapp.ErrJobFailed)
	assert.Zero(t, h.platform.Calls(ledger.EntityTypeContacts))
}

func TestEngine_ContextCancelLeavesLastCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.platform.WithRecords(ledger.EntityTypeContacts, h.fixtures.Contacts(50))
	job := h.newJob(t, uuid.New(), 10, entity(ledger.EntityTypeContacts))

	ctx, cancel := context.WithCancel(context.Background())
	h.platform.BeforePage = func(integration.PageRequest) { cancel() }

	err := h.engine.Run(ctx, job, noSignals{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, migration.JobStatusInProgress, h.reload(t, job.ID).Status)
	assert.Empty(t, h.publisher.Events(migration.EventTypeMigrationFailed))
}

func TestEngine_TenantsAreIsolated(t *testing.T) {
	h := newHarness(t)
	h.platform.WithRecords(ledger.EntityTypeContacts, h.fixtures.Contacts(5))
	tenantA, tenantB := uuid.New(), uuid.New()

	require.NoError(t, h.engine.Run(context.Background(), h.newJob(t, tenantA, 100, entity(ledger.EntityTypeContacts)), noSignals{}))
	jobB := h.newJob(t, tenantB, 100, entity(ledger.EntityTypeContacts))
	require.NoError(t, h.engine.Run(context.Background(), jobB, noSignals{}))

	p, _ := jobB.EntityProgress(ledger.EntityTypeContacts)
	assert.Equal(t, 5, p.Succeeded, "the same external ids must be new for another tenant")
	assert.EqualValues(t, 5, h.mappedCount(t, tenantA, ledger.EntityTypeContacts))
	assert.EqualValues(t, 5, h.mappedCount(t, tenantB, ledger.EntityTypeContacts))
}
