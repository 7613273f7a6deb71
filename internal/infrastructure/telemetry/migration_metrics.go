package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// MigrationMetrics records migration business metrics:
//   - migration_records_total{platform,entity_type,record_status}
//   - migration_batch_duration_seconds{platform,entity_type}
//   - migration_batch_records{platform,entity_type}
//   - migration_jobs_active{platform}
//   - migration_jobs_finished_total{platform,job_status}
type MigrationMetrics struct {
	records       *Counter
	batchDuration *Histogram
	batchSize     *Histogram
	activeJobs    *UpDownCounter
	finishedJobs  *Counter
}

// NewMigrationMetrics registers the instruments on meter
func NewMigrationMetrics(meter metric.Meter) (*MigrationMetrics, error) {
	records, err := NewCounter(meter, "migration_records_total",
		"Records processed by entity type and outcome", "{record}")
	if err != nil {
		return nil, err
	}
	batchDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "migration_batch_duration_seconds",
		Description: "Time to map and checkpoint one batch",
		Unit:        "s",
		Boundaries:  BatchDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	batchSize, err := NewHistogram(meter, HistogramOpts{
		Name:        "migration_batch_records",
		Description: "Records per processed batch",
		Unit:        "{record}",
		Boundaries:  []float64{1, 10, 50, 100, 250, 500, 1000},
	})
	if err != nil {
		return nil, err
	}
	activeJobs, err := NewUpDownCounter(meter, "migration_jobs_active",
		"Jobs currently running on this instance", "{job}")
	if err != nil {
		return nil, err
	}
	finishedJobs, err := NewCounter(meter, "migration_jobs_finished_total",
		"Jobs that stopped running by resulting status", "{job}")
	if err != nil {
		return nil, err
	}
	return &MigrationMetrics{
		records:       records,
		batchDuration: batchDuration,
		batchSize:     batchSize,
		activeJobs:    activeJobs,
		finishedJobs:  finishedJobs,
	}, nil
}

// RecordProcessed counts one mapped record
func (m *MigrationMetrics) RecordProcessed(ctx context.Context, platform, entityType, status string) {
	m.records.Inc(ctx, AttrPlatform.String(platform), AttrEntityType.String(entityType), AttrRecordStatus.String(status))
}

// RecordBatch records a processed batch
func (m *MigrationMetrics) RecordBatch(ctx context.Context, platform, entityType string, size int, d time.Duration) {
	m.batchDuration.RecordDuration(ctx, d, AttrPlatform.String(platform), AttrEntityType.String(entityType))
	m.batchSize.Record(ctx, float64(size), AttrPlatform.String(platform), AttrEntityType.String(entityType))
}

// JobStarted marks a job as running
func (m *MigrationMetrics) JobStarted(ctx context.Context, platform string) {
	m.activeJobs.Add(ctx, 1, AttrPlatform.String(platform))
}

// JobFinished marks a job as no longer running on this instance
func (m *MigrationMetrics) JobFinished(ctx context.Context, platform, status string) {
	m.activeJobs.Add(ctx, -1, AttrPlatform.String(platform))
	m.finishedJobs.Inc(ctx, AttrPlatform.String(platform), AttrJobStatus.String(status))
}
