package migrationapp

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"go.uber.org/zap"
)

// DefaultReportPrefix is the object key prefix of archived job reports
const DefaultReportPrefix = "migration-reports"

// ReportArchive stores finished job reports
type ReportArchive interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// ReportLocator resolves archived reports to time-limited download links
type ReportLocator interface {
	Exists(ctx context.Context, key string) (bool, error)
	DownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error)
}

// ErrReportNotFound is returned while a job has no archived report
var ErrReportNotFound = shared.NewDomainError("REPORT_NOT_FOUND", "Migration report not found")

// ReportLink is a download link for a job report
type ReportLink struct {
	JobID     uuid.UUID `json:"job_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// JobReport is the document archived when a job reaches a terminal state
type JobReport struct {
	*JobResponse
	// MappedRecords counts the tenant's mappings per entity type at report time
	MappedRecords map[string]int64 `json:"mapped_records"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// ReportKey returns the object key of a job's report
func ReportKey(prefix string, tenantID, jobID uuid.UUID) string {
	return path.Join(prefix, tenantID.String(), jobID.String()+".json")
}

// ReportHandler archives a report when a job completes, fails or is cancelled
type ReportHandler struct {
	jobs     migration.JobRepository
	mappings migration.MappingRepository
	archive  ReportArchive
	prefix   string
	logger   *zap.Logger
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(
	jobs migration.JobRepository,
	mappings migration.MappingRepository,
	archive ReportArchive,
	prefix string,
	logger *zap.Logger,
) *ReportHandler {
	if prefix == "" {
		prefix = DefaultReportPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{
		jobs:     jobs,
		mappings: mappings,
		archive:  archive,
		prefix:   prefix,
		logger:   logger.Named("migration_report"),
	}
}

// EventTypes returns the terminal job events
func (h *ReportHandler) EventTypes() []string {
	return []string{
		migration.EventTypeMigrationCompleted,
		migration.EventTypeMigrationFailed,
		migration.EventTypeMigrationCancelled,
	}
}

// Handle builds the report from the stored job and uploads it
func (h *ReportHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	job, err := h.jobs.FindByID(ctx, event.AggregateID())
	if err != nil {
		return fmt.Errorf("load job for report: %w", err)
	}

	report := JobReport{
		JobResponse:   ToJobResponse(job),
		MappedRecords: make(map[string]int64, len(job.Config.EntityTypes)),
		GeneratedAt:   time.Now().UTC(),
	}
	for _, et := range job.Config.EntityTypes {
		n, err := h.mappings.CountByEntityType(ctx, job.TenantID, et.EntityType)
		if err != nil {
			return fmt.Errorf("count %s mappings: %w", et.EntityType, err)
		}
		report.MappedRecords[et.EntityType.String()] = n
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	key := ReportKey(h.prefix, job.TenantID, job.ID)
	if err := h.archive.Upload(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("upload report: %w", err)
	}
	h.logger.Info("Migration report archived",
		zap.String("job_id", job.ID.String()),
		zap.String("status", job.Status.String()),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return nil
}

var _ shared.EventHandler = (*ReportHandler)(nil)

// ReportLinks hands out download links for a tenant's archived reports
type ReportLinks struct {
	jobs    migration.JobRepository
	locator ReportLocator
	prefix  string
	ttl     time.Duration
}

// NewReportLinks creates a new ReportLinks
func NewReportLinks(jobs migration.JobRepository, locator ReportLocator, prefix string, ttl time.Duration) *ReportLinks {
	if prefix == "" {
		prefix = DefaultReportPrefix
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ReportLinks{jobs: jobs, locator: locator, prefix: prefix, ttl: ttl}
}

// Link returns a download link for the job's report
func (r *ReportLinks) Link(ctx context.Context, tenantID, jobID uuid.UUID) (*ReportLink, error) {
	job, err := r.jobs.FindByIDForTenant(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, ErrReportNotFound
	}
	key := ReportKey(r.prefix, job.TenantID, job.ID)
	ok, err := r.locator.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check report: %w", err)
	}
	if !ok {
		return nil, ErrReportNotFound
	}
	url, expiresAt, err := r.locator.DownloadURL(ctx, key, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("sign report url: %w", err)
	}
	return &ReportLink{JobID: job.ID, URL: url, ExpiresAt: expiresAt}, nil
}
