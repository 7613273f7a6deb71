package migrationapp

import (
	"context"
	"time"
)

// Metrics receives migration business metrics. JobStarted and JobFinished
// bracket one run of a job on this instance.
type Metrics interface {
	RecordProcessed(ctx context.Context, platform, entityType, status string)
	RecordBatch(ctx context.Context, platform, entityType string, size int, d time.Duration)
	JobStarted(ctx context.Context, platform string)
	JobFinished(ctx context.Context, platform, status string)
}

type nopMetrics struct{}

func (nopMetrics) RecordProcessed(context.Context, string, string, string) {}
func (nopMetrics) RecordBatch(context.Context, string, string, int, time.Duration) {}
func (nopMetrics) JobStarted(context.Context, string) {}
func (nopMetrics) JobFinished(context.Context, string, string) {}
