package migrationapp_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	migrationapp "github.com/lukgber-glitch/operate-sub002/internal/application/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/event"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestReportKey(t *testing.T) {
	tenantID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	jobID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	assert.Equal(t,
		"reports/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222.json",
		migrationapp.ReportKey("reports", tenantID, jobID))
}

func TestReportHandler_ArchivesTerminalJobs(t *testing.T) {
	h := newHarness(t)
	h.platform.
		WithRecords(ledger.EntityTypeAccounts, h.fixtures.Accounts(4)).
		WithRecords(ledger.EntityTypeContacts, h.fixtures.Contacts(6))
	archive := storage.NewMemoryReportArchive()
	handler := migrationapp.NewReportHandler(h.jobs, h.mappings, archive, "", zaptest.NewLogger(t))
	assert.ElementsMatch(t, []string{
		migration.EventTypeMigrationCompleted,
		migration.EventTypeMigrationFailed,
		migration.EventTypeMigrationCancelled,
	}, handler.EventTypes())

	bus := event.NewInMemoryEventBus(zaptest.NewLogger(t))
	bus.Subscribe(handler)
	tenantID := uuid.New()
	job := h.newJob(t, tenantID, 100, entity(ledger.EntityTypeAccounts), entity(ledger.EntityTypeContacts))

	engine := h.engineWithPublisher(t, bus)
	require.NoError(t, engine.Run(context.Background(), job, noSignals{}))

	key := migrationapp.ReportKey(migrationapp.DefaultReportPrefix, tenantID, job.ID)
	data, contentType, ok := archive.Get(key)
	require.True(t, ok, "report not archived; keys: %v", archive.Keys())
	assert.Equal(t, "application/json", contentType)

	var report map[string]any
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "completed", report["status"])
	assert.Equal(t, job.ID.String(), report["id"])
	mapped, ok := report["mapped_records"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 4, mapped["accounts"])
	assert.EqualValues(t, 6, mapped["contacts"])
	assert.NotEmpty(t, report["generated_at"])
}

func TestReportHandler_MissingJob(t *testing.T) {
	h := newHarness(t)
	handler := migrationapp.NewReportHandler(h.jobs, h.mappings, storage.NewMemoryReportArchive(), "", nil)

	job := h.newJob(t, uuid.New(), 100, entity(ledger.EntityTypeContacts))
	require.NoError(t, job.Cancel())
	events := job.PullDomainEvents()
	require.Len(t, events, 1)

	// the job was never saved in its cancelled state, but it exists
	require.NoError(t, handler.Handle(context.Background(), events[0]))

	other, err := migration.NewMigrationJob(uuid.New(), job.Platform, "org-2", job.Config, nil)
	require.NoError(t, err)
	require.NoError(t, other.Cancel())
	err = handler.Handle(context.Background(), other.PullDomainEvents()[0])
	assert.ErrorIs(t, err, migration.ErrJobNotFound)
}

func TestReportLinks(t *testing.T) {
	h := newHarness(t)
	archive := storage.NewMemoryReportArchive()
	links := migrationapp.NewReportLinks(h.jobs, archive, "", time.Minute)
	ctx := context.Background()
	tenantID := uuid.New()

	job := h.newJob(t, tenantID, 100, entity(ledger.EntityTypeContacts))
	_, err := links.Link(ctx, tenantID, job.ID)
	assert.ErrorIs(t, err, migrationapp.ErrReportNotFound, "pending jobs have no report")

	require.NoError(t, job.Cancel())
	require.NoError(t, h.jobs.Save(ctx, job))
	_, err = links.Link(ctx, tenantID, job.ID)
	assert.ErrorIs(t, err, migrationapp.ErrReportNotFound, "report not archived yet")

	key := migrationapp.ReportKey(migrationapp.DefaultReportPrefix, tenantID, job.ID)
	require.NoError(t, archive.Upload(ctx, key, []byte(`{}`), "application/json"))

	before := time.Now()
	link, err := links.Link(ctx, tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, link.JobID)
	assert.True(t, strings.HasPrefix(link.URL, archive.BaseURL+"/"+key))
	assert.WithinDuration(t, before.Add(time.Minute), link.ExpiresAt, 5*time.Second)

	_, err = links.Link(ctx, uuid.New(), job.ID)
	assert.ErrorIs(t, err, migration.ErrJobNotFound)
}
