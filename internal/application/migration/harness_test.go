package migrationapp_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/application/mapping"
	migrationapp "github.com/lukgber-glitch/operate-sub002/internal/application/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/fetch"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/filter"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/pagination"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/persistence"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/ratelimit"
	"github.com/lukgber-glitch/operate-sub002/tests/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// harness wires an Engine against sqlite and a fake platform
type harness struct {
	jobs      *failingJobs
	mappings  *persistence.GormExternalIDMappingRepository
	records   *persistence.GormLedgerRecordRepository
	platform  *testutil.FakePlatform
	registry  testutil.FakeRegistry
	filters   *filter.Compiler
	publisher *testutil.RecordingPublisher
	metrics   *countingMetrics
	collector *pagination.Collector
	mapper    *mapping.Mapper
	engine    *migrationapp.Engine
	fixtures  *testutil.Fixtures
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	require.NoError(t, persistence.AutoMigrate(db))

	log := zaptest.NewLogger(t)
	filters, err := filter.NewCompiler()
	require.NoError(t, err)

	h := &harness{
		jobs:      &failingJobs{JobRepository: persistence.NewGormMigrationJobRepository(db)},
		mappings:  persistence.NewGormExternalIDMappingRepository(db),
		records:   persistence.NewGormLedgerRecordRepository(db),
		platform:  testutil.NewFakePlatform(integration.PlatformCodeXero, 100),
		filters:   filters,
		publisher: testutil.NewRecordingPublisher(),
		metrics:   &countingMetrics{},
		fixtures:  testutil.NewFixtures(2024),
	}
	h.registry = testutil.NewFakeRegistry(h.platform)

	client := fetch.NewClient(
		ratelimit.NewSlidingWindow(ratelimit.Config{Limit: 10000, Window: time.Second}),
		fetch.RetryConfig{MaxAttempts: 1},
		log,
	)
	h.collector = pagination.NewCollector(client, log)
	h.mapper = mapping.NewMapper(h.mappings, persistence.NewGormUnitOfWork(db), nil, log)
	h.engine = h.engineWithPublisher(t, h.publisher)
	return h
}

// engineWithPublisher builds an engine sharing the harness stores
func (h *harness) engineWithPublisher(t *testing.T, pub shared.EventPublisher) *migrationapp.Engine {
	return migrationapp.NewEngine(migrationapp.EngineConfig{
		Jobs:      h.jobs,
		Registry:  h.registry,
		Collector: h.collector,
		Mapper:    h.mapper,
		Filters:   h.filters,
		Publisher: pub,
		Metrics:   h.metrics,
		Logger:    zaptest.NewLogger(t),
	})
}

// newJob persists a pending job for the given entity types
func (h *harness) newJob(t *testing.T, tenantID uuid.UUID, batchSize int, types ...migration.EntityTypeConfig) *migration.MigrationJob {
	t.Helper()
	for i := range types {
		types[i].Enabled = true
	}
	job, err := migration.NewMigrationJob(tenantID, integration.PlatformCodeXero, "org-1", migration.JobConfig{
		EntityTypes: types,
		BatchSize:   batchSize,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, h.jobs.Save(context.Background(), job))
	return job
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *migration.MigrationJob {
	t.Helper()
	job, err := h.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (h *harness) mappedCount(t *testing.T, tenantID uuid.UUID, et ledger.EntityType) int64 {
	t.Helper()
	n, err := h.mappings.CountByEntityType(context.Background(), tenantID, et)
	require.NoError(t, err)
	return n
}

func entity(t ledger.EntityType) migration.EntityTypeConfig {
	return migration.EntityTypeConfig{EntityType: t}
}

// failingJobs makes Save fail once failAfter saves have succeeded
type failingJobs struct {
	migration.JobRepository
	saves     atomic.Int32
	failAfter atomic.Int32
}

var errStoreDown = errors.New("progress store unavailable")

func (r *failingJobs) Save(ctx context.Context, job *migration.MigrationJob) error {
	n := r.saves.Add(1)
	if limit := r.failAfter.Load(); limit > 0 && n > limit {
		return errStoreDown
	}
	return r.JobRepository.Save(ctx, job)
}

// failFrom arms the store to fail after n more successful saves
func (r *failingJobs) failFrom(n int) {
	r.failAfter.Store(r.saves.Load() + int32(n))
}

// signalAt returns sig from the nth Requested call onwards
type signalAt struct {
	n     int32
	sig   migrationapp.Signal
	calls atomic.Int32
}

func (s *signalAt) Requested() migrationapp.Signal {
	if s.calls.Add(1) >= s.n {
		return s.sig
	}
	return migrationapp.SignalNone
}

type noSignals struct{}

func (noSignals) Requested() migrationapp.Signal { return migrationapp.SignalNone }

type countingMetrics struct {
	mu        sync.Mutex
	processed map[string]int
	batches   int
	started   int
	finished  []string
}

func (m *countingMetrics) RecordProcessed(_ context.Context, _, _, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed == nil {
		m.processed = make(map[string]int)
	}
	m.processed[status]++
}

func (m *countingMetrics) RecordBatch(context.Context, string, string, int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
}

func (m *countingMetrics) JobStarted(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *countingMetrics) JobFinished(_ context.Context, _, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, status)
}
